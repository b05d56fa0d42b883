// Package crypto holds the primitives behind mutual authentication and
// credential signing: per-agent key derivation from the server master secret,
// constant-time proof comparison, and the process-lifetime signing keypair.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const derivedKeyLen = 32

// DecodeMasterSecret parses a hex-encoded master secret. An empty value is an
// error: the mutual-auth protocol cannot run without it.
func DecodeMasterSecret(hexSecret string) ([]byte, error) {
	if hexSecret == "" {
		return nil, fmt.Errorf("master secret is empty")
	}
	secret, err := hex.DecodeString(hexSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding master secret: %w", err)
	}
	if len(secret) < 16 {
		return nil, fmt.Errorf("master secret must be at least 16 bytes, got %d", len(secret))
	}
	return secret, nil
}

// DeriveAgentKey derives the per-agent proof key from the server master
// secret. The server can recompute any agent's key on demand without storing
// per-agent secrets; agents cannot forge each other's keys without the master.
func DeriveAgentKey(master []byte, agentID string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, nil, []byte("warden/agent-proof/"+agentID))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving agent key: %w", err)
	}
	return key, nil
}

// ConstantTimeEqual compares two byte slices without data-dependent early
// exit. Both inputs are hashed to a fixed length first, so a length mismatch
// still takes the full comparison path instead of leaking timing.
func ConstantTimeEqual(a, b []byte) bool {
	aSum := sha256.Sum256(a)
	bSum := sha256.Sum256(b)
	return subtle.ConstantTimeCompare(aSum[:], bSum[:]) == 1
}

// NewSigningKeypair generates an Ed25519 keypair for credential signing. The
// keypair lives for the process lifetime, so credentials issued before a
// restart no longer verify.
func NewSigningKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating signing keypair: %w", err)
	}
	return pub, priv, nil
}

// RandomNonce returns n cryptographically random bytes.
func RandomNonce(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return b, nil
}
