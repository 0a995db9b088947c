package keys

import (
	"encoding/json"
	"os"
	"testing"
)

func TestNewRejectsInvalidKey(t *testing.T) {
	if _, err := New("kid", make([]byte, 10)); err == nil {
		t.Fatalf("expected invalid key error")
	}
}

func TestNewRejectsEmptyKID(t *testing.T) {
	id, _ := NewRandom("kid")
	if _, err := New("", id.Private()); err == nil {
		t.Fatalf("expected missing kid error")
	}
}

func TestNewRandom(t *testing.T) {
	id, err := NewRandom("kid-1")
	if err != nil {
		t.Fatalf("NewRandom failed: %v", err)
	}
	if id.KID() != "kid-1" {
		t.Fatalf("unexpected kid: %s", id.KID())
	}
	if len(id.Public()) == 0 {
		t.Fatalf("missing public key")
	}
}

func TestPrivateKeyFileRoundtrip(t *testing.T) {
	id, err := NewRandom("kid-1")
	if err != nil {
		t.Fatalf("NewRandom failed: %v", err)
	}

	b, err := id.ExportPrivateKeyFile()
	if err != nil {
		t.Fatalf("ExportPrivateKeyFile failed: %v", err)
	}
	var out privateKeyFile
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out.KID != "kid-1" {
		t.Fatalf("unexpected kid: %s", out.KID)
	}
	if out.PrivKeyB64 == "" {
		t.Fatalf("missing privkey_b64u")
	}

	f, err := os.CreateTemp("", "sptps-private.*.json")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer os.Remove(f.Name())
	f.Close()

	if err := id.WritePrivateKeyFile(f.Name(), true); err != nil {
		t.Fatalf("WritePrivateKeyFile failed: %v", err)
	}

	loaded, err := LoadPrivateKeyFile(f.Name())
	if err != nil {
		t.Fatalf("LoadPrivateKeyFile failed: %v", err)
	}
	if loaded.KID() != "kid-1" {
		t.Fatalf("unexpected kid: %s", loaded.KID())
	}
	if !id.Public().Equal(loaded.Public()) {
		t.Fatalf("public key mismatch")
	}
}

func TestWritePrivateKeyFileRefusesOverwrite(t *testing.T) {
	id, _ := NewRandom("kid-1")
	f, err := os.CreateTemp("", "sptps-private.*.json")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer os.Remove(f.Name())
	f.Close()

	if err := id.WritePrivateKeyFile(f.Name(), false); err == nil {
		t.Fatalf("expected error writing over an existing file without overwrite")
	}
}

func TestPublicKeyFileRoundtrip(t *testing.T) {
	id, err := NewRandom("kid-2")
	if err != nil {
		t.Fatalf("NewRandom failed: %v", err)
	}
	b, err := id.ExportPublicKeyFile()
	if err != nil {
		t.Fatalf("ExportPublicKeyFile failed: %v", err)
	}

	f, err := os.CreateTemp("", "sptps-public.*.json")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(b); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	f.Close()

	kid, pub, err := LoadPublicKeyFile(f.Name())
	if err != nil {
		t.Fatalf("LoadPublicKeyFile failed: %v", err)
	}
	if kid != "kid-2" {
		t.Fatalf("unexpected kid: %s", kid)
	}
	if !id.Public().Equal(pub) {
		t.Fatalf("public key mismatch")
	}
}

func TestLoadPrivateKeyFileRejectsMalformed(t *testing.T) {
	f, err := os.CreateTemp("", "sptps-bad.*.json")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(`{"kid":"x","privkey_b64u":"not-valid-length"}`); err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}
	f.Close()

	if _, err := LoadPrivateKeyFile(f.Name()); err == nil {
		t.Fatalf("expected error loading malformed key file")
	}
}
