// Package keys loads and stores the long-term Ed25519 identity keys SPTPS
// signs its handshake with. Peer authentication, trust decisions, and PKI
// are out of scope; this package only gets a keypair on and off disk.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/floegence/sptps/internal/base64url"
)

// Identity is a named long-term Ed25519 keypair.
type Identity struct {
	mu   sync.RWMutex
	kid  string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New wraps an existing Ed25519 private key under the given key ID.
func New(kid string, priv ed25519.PrivateKey) (*Identity, error) {
	if kid == "" {
		return nil, errors.New("keys: missing kid")
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("keys: invalid ed25519 private key")
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("keys: could not derive public key")
	}
	return &Identity{kid: kid, priv: priv, pub: pub}, nil
}

// NewRandom generates a fresh Ed25519 identity under the given key ID.
func NewRandom(kid string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	_ = pub
	return New(kid, priv)
}

// KID returns the identity's key ID.
func (k *Identity) KID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.kid
}

// Public returns the Ed25519 public key.
func (k *Identity) Public() ed25519.PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.pub
}

// Private returns the Ed25519 private key, used to sign SIG messages.
func (k *Identity) Private() ed25519.PrivateKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.priv
}

// privateKeyFile is the on-disk JSON layout for a long-term signing key.
//
// This format is intended for local development and demos: a single file
// holding raw Ed25519 private key bytes. Keep it secret.
type privateKeyFile struct {
	KID        string `json:"kid"`
	PrivKeyB64 string `json:"privkey_b64u"`
}

// ExportPrivateKeyFile serializes the identity as JSON suitable for
// WritePrivateKeyFile or manual inspection.
func (k *Identity) ExportPrivateKeyFile() ([]byte, error) {
	k.mu.RLock()
	kid, priv := k.kid, k.priv
	k.mu.RUnlock()
	if kid == "" {
		return nil, errors.New("keys: missing kid")
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("keys: invalid ed25519 private key")
	}
	return json.MarshalIndent(privateKeyFile{
		KID:        kid,
		PrivKeyB64: base64url.Encode(priv),
	}, "", "  ")
}

// WritePrivateKeyFile writes the identity's private key to path.
func (k *Identity) WritePrivateKeyFile(path string, overwrite bool) error {
	b, err := k.ExportPrivateKeyFile()
	if err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(b)
	return err
}

// LoadPrivateKeyFile loads an Ed25519 identity from a JSON file written by
// WritePrivateKeyFile.
func LoadPrivateKeyFile(path string) (*Identity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f privateKeyFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.KID == "" || f.PrivKeyB64 == "" {
		return nil, errors.New("keys: invalid private key file")
	}
	priv, err := base64url.Decode(f.PrivKeyB64)
	if err != nil {
		return nil, err
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("keys: invalid ed25519 private key")
	}
	return New(f.KID, ed25519.PrivateKey(priv))
}

// publicKeyFile is the on-disk JSON layout for a peer's public key, used to
// pin the identity a handshake's SIG is verified against.
type publicKeyFile struct {
	KID       string `json:"kid"`
	PubKeyB64 string `json:"pubkey_b64u"`
}

// ExportPublicKeyFile serializes the identity's public key as JSON,
// suitable for distributing to a peer.
func (k *Identity) ExportPublicKeyFile() ([]byte, error) {
	k.mu.RLock()
	kid, pub := k.kid, k.pub
	k.mu.RUnlock()
	if kid == "" {
		return nil, errors.New("keys: missing kid")
	}
	return json.MarshalIndent(publicKeyFile{
		KID:       kid,
		PubKeyB64: base64url.Encode(pub),
	}, "", "  ")
}

// LoadPublicKeyFile loads a peer's public key from a JSON file written by
// ExportPublicKeyFile.
func LoadPublicKeyFile(path string) (kid string, pub ed25519.PublicKey, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	var f publicKeyFile
	if err := json.Unmarshal(b, &f); err != nil {
		return "", nil, err
	}
	if f.KID == "" || f.PubKeyB64 == "" {
		return "", nil, errors.New("keys: invalid public key file")
	}
	decoded, err := base64url.Decode(f.PubKeyB64)
	if err != nil {
		return "", nil, err
	}
	if len(decoded) != ed25519.PublicKeySize {
		return "", nil, errors.New("keys: invalid ed25519 public key")
	}
	return f.KID, ed25519.PublicKey(decoded), nil
}
