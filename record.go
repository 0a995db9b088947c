package sptps

import "github.com/floegence/sptps/internal/bin"

// RecordTypeHandshake is the reserved record type carrying KEX/SIG/ACK
// bodies. Every type below it is an application type; nothing is defined
// above it.
const RecordTypeHandshake uint8 = 128

const (
	// StreamHeaderLen is the plaintext length+type prefix of a stream record.
	StreamHeaderLen = 3
	// StreamOverhead is the total non-payload bytes of an encrypted stream record.
	StreamOverhead = StreamHeaderLen + TagSize
	// DatagramHeaderLen is the plaintext seqno+type prefix of a datagram record.
	DatagramHeaderLen = 5
	// DatagramOverhead is the total non-payload bytes of an encrypted datagram record.
	DatagramOverhead = DatagramHeaderLen + TagSize
)

// encodeStream builds a stream-framed record. When c is nil the record is
// sent in the clear (handshake records before outstate flips); otherwise
// type||payload is sealed under seqno and the tag is appended. The 2-byte
// length prefix carries only the payload length and is never itself
// authenticated directly — corruption of it is caught indirectly, because
// the next record's AEAD open then fails against a misaligned stream.
func encodeStream(typ uint8, payload []byte, seqno uint32, c *aeadCipher) []byte {
	inner := make([]byte, 1+len(payload))
	inner[0] = typ
	copy(inner[1:], payload)

	var body []byte
	if c != nil {
		body = c.seal(seqno, inner)
	} else {
		body = inner
	}

	out := make([]byte, 2+len(body))
	bin.PutU16LE(out[:2], uint16(len(payload)))
	copy(out[2:], body)
	return out
}

// streamPayloadLen reads the 2-byte length prefix, once at least that much
// of the reassembly buffer has arrived.
func streamPayloadLen(buf []byte) (uint16, bool) {
	if len(buf) < 2 {
		return 0, false
	}
	return bin.U16LE(buf[:2]), true
}

// streamRecordTotalLen returns the full wire length of a stream record given
// its announced payload length and whether it will arrive encrypted.
func streamRecordTotalLen(payloadLen uint16, encrypted bool) int {
	n := StreamHeaderLen + int(payloadLen)
	if encrypted {
		n += TagSize
	}
	return n
}

// decodeStream parses one complete stream record (as sized by
// streamRecordTotalLen) and, if c is non-nil, authenticates and decrypts it.
func decodeStream(record []byte, seqno uint32, c *aeadCipher) (typ uint8, payload []byte, err error) {
	if len(record) < StreamHeaderLen {
		return 0, nil, errShortRecord
	}
	payloadLen, _ := streamPayloadLen(record)
	body := record[2:]

	if c != nil {
		if len(body) != 1+int(payloadLen)+TagSize {
			return 0, nil, errBadRecordLength
		}
		inner, oerr := c.open(seqno, body)
		if oerr != nil {
			return 0, nil, oerr
		}
		if len(inner) != 1+int(payloadLen) {
			return 0, nil, errBadRecordLength
		}
		return inner[0], inner[1:], nil
	}
	if len(body) != 1+int(payloadLen) {
		return 0, nil, errBadRecordLength
	}
	return body[0], body[1:], nil
}

// encodeDatagram builds a datagram-framed packet. The sequence number is
// carried explicitly on the wire (datagrams can arrive out of order, so it
// cannot be implicit the way a stream's could be).
func encodeDatagram(typ uint8, payload []byte, seqno uint32, c *aeadCipher) []byte {
	inner := make([]byte, 1+len(payload))
	inner[0] = typ
	copy(inner[1:], payload)

	var body []byte
	if c != nil {
		body = c.seal(seqno, inner)
	} else {
		body = inner
	}

	out := make([]byte, 4+len(body))
	bin.PutU32LE(out[:4], seqno)
	copy(out[4:], body)
	return out
}

// decodeDatagram parses and, if c is non-nil, authenticates a datagram packet.
func decodeDatagram(packet []byte, c *aeadCipher) (seqno uint32, typ uint8, payload []byte, err error) {
	if len(packet) < DatagramHeaderLen {
		return 0, 0, nil, errShortRecord
	}
	seqno = bin.U32LE(packet[:4])
	body := packet[4:]

	if c != nil {
		inner, oerr := c.open(seqno, body)
		if oerr != nil {
			return seqno, 0, nil, oerr
		}
		if len(inner) < 1 {
			return seqno, 0, nil, errBadRecordLength
		}
		return seqno, inner[0], inner[1:], nil
	}
	if len(body) < 1 {
		return seqno, 0, nil, errBadRecordLength
	}
	return seqno, body[0], body[1:], nil
}
