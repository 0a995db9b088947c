package sptps

import "github.com/floegence/sptps/sptpserr"

// Suite identifies a negotiated AEAD cipher. Suite values also double as bit
// positions in the 16-bit cipher_suite_mask exchanged during KEX.
type Suite uint8

const (
	// SuiteChaCha20Poly1305 is mandatory; every session supports it.
	SuiteChaCha20Poly1305 Suite = 0
	// SuiteAES256GCM is optional.
	SuiteAES256GCM Suite = 1
)

const maxSuiteBit = 15

// SuiteMask is a 16-bit bitmap of supported suites, bit position = suite id.
type SuiteMask uint16

// AllSuites is the mask advertising every suite this module implements.
const AllSuites SuiteMask = 1<<SuiteChaCha20Poly1305 | 1<<SuiteAES256GCM

func (m SuiteMask) has(s Suite) bool {
	if s > maxSuiteBit {
		return false
	}
	return m&(1<<uint(s)) != 0
}

// negotiateSuite picks the cipher suite both sides will use.
//
// prefs, in order, are this side's preferred suite and the peer's preferred
// suite masked to the low nibble (wire layout: the peer's preference travels
// in a byte whose upper bits are unspecified and must be ignored). Among the
// preferences that are present in the agreed mask, the numerically smaller
// suite id wins; failing that, the lowest set bit in the agreed mask wins.
func negotiateSuite(ownMask, peerMask SuiteMask, ownPreferred, peerPreferred Suite) (Suite, error) {
	agreed := ownMask & peerMask
	if agreed == 0 {
		return 0, sptpserr.Wrap(sptpserr.StageHandshake, sptpserr.ProtocolViolation, errNoCommonSuite)
	}

	peerPref := peerPreferred & 0x0f
	var best Suite
	haveBest := false
	for _, pref := range []Suite{ownPreferred, peerPref} {
		if agreed.has(pref) {
			if !haveBest || pref < best {
				best = pref
				haveBest = true
			}
		}
	}
	if haveBest {
		return best, nil
	}

	for s := Suite(0); s <= maxSuiteBit; s++ {
		if agreed.has(s) {
			return s, nil
		}
	}
	return 0, sptpserr.Wrap(sptpserr.StageHandshake, sptpserr.ProtocolViolation, errNoCommonSuite)
}
