package sptps

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/floegence/sptps/sptpserr"
)

// ECDHSize is the wire size of an ephemeral public key (X25519).
const ECDHSize = 32

// NonceSize32 is the size of the per-side random nonce exchanged in KEX.
const NonceSize32 = 32

func x25519() ecdh.Curve { return ecdh.X25519() }

// randNonce fills b with cryptographically random bytes.
func randNonce(b []byte) error {
	if _, err := rand.Read(b); err != nil {
		return sptpserr.Wrap(sptpserr.StageHandshake, sptpserr.ResourceFailure, err)
	}
	return nil
}

// generateEphemeral creates a fresh ephemeral ECDH keypair for one handshake.
func generateEphemeral() (*ecdh.PrivateKey, error) {
	priv, err := x25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, sptpserr.Wrap(sptpserr.StageHandshake, sptpserr.ResourceFailure, err)
	}
	return priv, nil
}

// parseEphemeralPublic parses a peer's ephemeral public key.
func parseEphemeralPublic(b []byte) (*ecdh.PublicKey, error) {
	pub, err := x25519().NewPublicKey(b)
	if err != nil {
		return nil, sptpserr.Wrap(sptpserr.StageHandshake, sptpserr.CryptoFailure, err)
	}
	return pub, nil
}

// computeSharedSecret runs ECDH between this side's ephemeral private key and
// the peer's ephemeral public key.
func computeSharedSecret(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, sptpserr.Wrap(sptpserr.StageHandshake, sptpserr.CryptoFailure, err)
	}
	return secret, nil
}

// signKex signs msg with a long-term Ed25519 private key.
func signKex(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// verifyKexSig verifies a SIG message body against a long-term Ed25519 public key.
func verifyKexSig(pub ed25519.PublicKey, msg, sig []byte) error {
	if !ed25519.Verify(pub, msg, sig) {
		return sptpserr.Wrap(sptpserr.StageHandshake, sptpserr.CryptoFailure, errSignatureInvalid)
	}
	return nil
}
