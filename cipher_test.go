package sptps

import "testing"

func TestAEADCipherUnsupportedSuite(t *testing.T) {
	var key [32]byte
	if _, err := newAEADCipher(Suite(99), key); err == nil {
		t.Fatalf("expected error for unsupported suite")
	}
}

func TestAEADCipherChaCha20Poly1305Roundtrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	c, err := newAEADCipher(SuiteChaCha20Poly1305, key)
	if err != nil {
		t.Fatalf("newAEADCipher failed: %v", err)
	}
	ct := c.seal(7, []byte("plaintext"))
	pt, err := c.open(7, ct)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if string(pt) != "plaintext" {
		t.Fatalf("unexpected plaintext: %q", pt)
	}
}

func TestAEADCipherAES256GCMRoundtrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(255 - i)
	}
	c, err := newAEADCipher(SuiteAES256GCM, key)
	if err != nil {
		t.Fatalf("newAEADCipher failed: %v", err)
	}
	ct := c.seal(1, []byte("plaintext"))
	pt, err := c.open(1, ct)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if string(pt) != "plaintext" {
		t.Fatalf("unexpected plaintext: %q", pt)
	}
}

func TestAEADCipherWrongKeyFails(t *testing.T) {
	var key1, key2 [32]byte
	key2[0] = 1
	c1, _ := newAEADCipher(SuiteChaCha20Poly1305, key1)
	c2, _ := newAEADCipher(SuiteChaCha20Poly1305, key2)
	ct := c1.seal(0, []byte("plaintext"))
	if _, err := c2.open(0, ct); err == nil {
		t.Fatalf("expected AEAD failure with the wrong key")
	}
}

func TestKeyHalvesAreDirectionAndRoleDependent(t *testing.T) {
	var material [128]byte
	for i := range material {
		material[i] = byte(i)
	}

	initOut := outboundKeyHalf(material, RoleInitiator)
	respIn := inboundKeyHalf(material, RoleResponder)
	if initOut != respIn {
		t.Fatalf("initiator's outbound half must equal responder's inbound half")
	}

	respOut := outboundKeyHalf(material, RoleResponder)
	initIn := inboundKeyHalf(material, RoleInitiator)
	if respOut != initIn {
		t.Fatalf("responder's outbound half must equal initiator's inbound half")
	}

	if initOut == respOut {
		t.Fatalf("the two directions must draw from different halves")
	}
}

func TestAEADCipherDestroyZeroesKey(t *testing.T) {
	var key [32]byte
	key[0] = 0xAB
	c, err := newAEADCipher(SuiteChaCha20Poly1305, key)
	if err != nil {
		t.Fatalf("newAEADCipher failed: %v", err)
	}
	c.destroy()
	for i, b := range c.key {
		if b != 0 {
			t.Fatalf("key byte %d not zeroed after destroy", i)
		}
	}
}
