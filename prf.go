package sptps

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/floegence/sptps/sptpserr"
)

// keyExpansionLabel is the fixed 13-byte ASCII prefix of every PRF seed.
const keyExpansionLabel = "key expansion"

// derivedKeyMaterialLen is the number of bytes the PRF expands to: enough for
// two 64-byte halves, one per direction, of which each side's cipher only
// consumes the first 32 bytes (see cipher.go).
const derivedKeyMaterialLen = 128

// prf expands an ECDH shared secret into derivedKeyMaterialLen bytes of key
// material, TLS-style: P_hash(secret, seed) where
//
//	A(0) = seed
//	A(i) = HMAC(secret, A(i-1))
//	P_hash(secret, seed) = HMAC(secret, A(1)||seed) || HMAC(secret, A(2)||seed) || ...
//
// seed is "key expansion" || initiatorNonce || responderNonce || label,
// with the nonces always in initiator-first order regardless of which side
// is computing the PRF.
func prf(secret []byte, initiatorNonce, responderNonce [NonceSize32]byte, label []byte) ([derivedKeyMaterialLen]byte, error) {
	seed := make([]byte, 0, len(keyExpansionLabel)+NonceSize32*2+len(label))
	seed = append(seed, keyExpansionLabel...)
	seed = append(seed, initiatorNonce[:]...)
	seed = append(seed, responderNonce[:]...)
	seed = append(seed, label...)

	var out [derivedKeyMaterialLen]byte
	mac := hmac.New(sha256.New, secret)

	a := seed
	written := 0
	for written < derivedKeyMaterialLen {
		mac.Reset()
		if _, err := mac.Write(a); err != nil {
			return out, sptpserr.Wrap(sptpserr.StageHandshake, sptpserr.CryptoFailure, err)
		}
		a = mac.Sum(nil)

		mac.Reset()
		if _, err := mac.Write(a); err != nil {
			return out, sptpserr.Wrap(sptpserr.StageHandshake, sptpserr.CryptoFailure, err)
		}
		if _, err := mac.Write(seed); err != nil {
			return out, sptpserr.Wrap(sptpserr.StageHandshake, sptpserr.CryptoFailure, err)
		}
		chunk := mac.Sum(nil)

		n := copy(out[written:], chunk)
		written += n
	}
	return out, nil
}
