package crypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
)

func TestDecodeMasterSecret(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}

	got, err := DecodeMasterSecret(hex.EncodeToString(secret))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Error("decoded secret mismatch")
	}
}

func TestDecodeMasterSecretRejectsEmpty(t *testing.T) {
	if _, err := DecodeMasterSecret(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestDecodeMasterSecretRejectsShort(t *testing.T) {
	if _, err := DecodeMasterSecret("abcd"); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestDecodeMasterSecretRejectsInvalidHex(t *testing.T) {
	if _, err := DecodeMasterSecret("not-hex-at-all!!"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

func TestDeriveAgentKeyDeterministic(t *testing.T) {
	master := bytes.Repeat([]byte{0x42}, 32)

	k1, err := DeriveAgentKey(master, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := DeriveAgentKey(master, "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("derivation must be deterministic")
	}
	if len(k1) != 32 {
		t.Errorf("key length = %d, want 32", len(k1))
	}
}

func TestDeriveAgentKeyDistinctPerAgent(t *testing.T) {
	master := bytes.Repeat([]byte{0x42}, 32)

	k1, _ := DeriveAgentKey(master, "agent-1")
	k2, _ := DeriveAgentKey(master, "agent-2")
	if bytes.Equal(k1, k2) {
		t.Error("different agents must get different keys")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual([]byte("proof"), []byte("proof")) {
		t.Error("equal slices should compare true")
	}
	if ConstantTimeEqual([]byte("proof"), []byte("wrong")) {
		t.Error("different slices should compare false")
	}
	// Length mismatch must still produce a result, not panic or short-circuit.
	if ConstantTimeEqual([]byte("proof"), []byte("pr")) {
		t.Error("different-length slices should compare false")
	}
	if !ConstantTimeEqual(nil, nil) {
		t.Error("two empty inputs should compare true")
	}
}

func TestNewSigningKeypair(t *testing.T) {
	pub, priv, err := NewSigningKeypair()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := []byte("credential body")
	sig := ed25519.Sign(priv, msg)
	if !ed25519.Verify(pub, msg, sig) {
		t.Error("signature from generated keypair should verify")
	}
}

func TestRandomNonceLengthAndVariety(t *testing.T) {
	a, err := RandomNonce(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := RandomNonce(16)
	if len(a) != 16 {
		t.Errorf("nonce length = %d, want 16", len(a))
	}
	if bytes.Equal(a, b) {
		t.Error("two nonces should not collide")
	}
}
