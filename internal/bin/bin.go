// Package bin provides little-endian integer encoding helpers for SPTPS wire formats.
//
// SPTPS fixes little-endian for every multi-byte integer on the wire, unlike the
// big-endian framing used elsewhere in this codebase's ancestry.
package bin

import "encoding/binary"

func PutU16LE(dst []byte, v uint16) { binary.LittleEndian.PutUint16(dst, v) }
func PutU32LE(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }

func U16LE(src []byte) uint16 { return binary.LittleEndian.Uint16(src) }
func U32LE(src []byte) uint32 { return binary.LittleEndian.Uint32(src) }
