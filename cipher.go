package sptps

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/floegence/sptps/internal/bin"
	"github.com/floegence/sptps/sptpserr"
	"golang.org/x/crypto/chacha20poly1305"
)

// TagSize is the AEAD authentication tag length used by every supported suite.
const TagSize = 16

// NonceSize is the AEAD nonce length: a 4-byte little-endian sequence number
// zero-padded to 12 bytes. No other nonce material is ever mixed in, so
// sequence numbers must never repeat under the same key (see ForceKex).
const NonceSize = 12

// aeadCipher wraps one direction's AEAD state: the negotiated suite, the
// underlying cipher.AEAD, and the 32-byte key it was built from (kept only
// so destroy can zero it; the AEAD implementation itself holds no secret a
// caller can reach after construction).
type aeadCipher struct {
	suite Suite
	aead  cipher.AEAD
	key   [32]byte
}

func newAEADCipher(suite Suite, key [32]byte) (*aeadCipher, error) {
	var a cipher.AEAD
	var err error
	switch suite {
	case SuiteChaCha20Poly1305:
		a, err = chacha20poly1305.New(key[:])
	case SuiteAES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key[:])
		if err == nil {
			a, err = cipher.NewGCM(block)
		}
	default:
		return nil, sptpserr.Wrap(sptpserr.StageCipher, sptpserr.ProtocolViolation, errNoCommonSuite)
	}
	if err != nil {
		return nil, sptpserr.Wrap(sptpserr.StageCipher, sptpserr.ResourceFailure, err)
	}
	if a.NonceSize() != NonceSize || a.Overhead() != TagSize {
		return nil, sptpserr.Wrap(sptpserr.StageCipher, sptpserr.ResourceFailure, errAEADOpenFailed)
	}
	return &aeadCipher{suite: suite, aead: a, key: key}, nil
}

func seqNonce(seqno uint32) [NonceSize]byte {
	var n [NonceSize]byte
	bin.PutU32LE(n[:4], seqno)
	return n
}

// seal encrypts plaintext (type byte plus payload, concatenated by the caller)
// under the given sequence number. No associated data is used.
func (c *aeadCipher) seal(seqno uint32, plaintext []byte) []byte {
	n := seqNonce(seqno)
	return c.aead.Seal(nil, n[:], plaintext, nil)
}

// open decrypts and authenticates ciphertext sealed with seal at seqno.
func (c *aeadCipher) open(seqno uint32, ciphertext []byte) ([]byte, error) {
	n := seqNonce(seqno)
	plain, err := c.aead.Open(nil, n[:], ciphertext, nil)
	if err != nil {
		return nil, sptpserr.Wrap(sptpserr.StageCipher, sptpserr.CryptoFailure, errAEADOpenFailed)
	}
	return plain, nil
}

// destroy zeroes the key copy this struct holds. The underlying cipher.AEAD
// may retain its own expanded key schedule; SPTPS cannot reach into it, but
// it goes out of scope with the cipher itself.
func (c *aeadCipher) destroy() {
	zero(c.key[:])
	c.aead = nil
}

// outboundKeyHalf selects which 64-byte half of the 128 bytes of derived key
// material this role's outbound cipher draws from: bytes [0,64) for the
// responder, [64,128) for the initiator.
func outboundKeyHalf(material [128]byte, role Role) [64]byte {
	var half [64]byte
	if role == RoleResponder {
		copy(half[:], material[0:64])
	} else {
		copy(half[:], material[64:128])
	}
	return half
}

// inboundKeyHalf selects the complementary half for this role's inbound cipher.
func inboundKeyHalf(material [128]byte, role Role) [64]byte {
	var half [64]byte
	if role == RoleInitiator {
		copy(half[:], material[0:64])
	} else {
		copy(half[:], material[64:128])
	}
	return half
}

func keyFromHalf(half [64]byte) [32]byte {
	var key [32]byte
	copy(key[:], half[:32])
	return key
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
