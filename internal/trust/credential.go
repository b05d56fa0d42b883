package trust

import (
	"crypto/ed25519"
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahutchings/warden/internal/agent"
	wcrypto "github.com/ahutchings/warden/internal/crypto"
)

const (
	credentialValidity = 30 * 24 * time.Hour

	// scoreDriftThreshold flags credentials whose embedded fine score has
	// drifted from the agent's current score. The flag is advisory; drift
	// alone never fails verification.
	scoreDriftThreshold = 10.0
)

// Credential is a signed, portable attestation of an agent's trust standing
// at issue time.
type Credential struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Score      float64   `json:"score"`
	Level      Level     `json:"level"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Signature  string    `json:"signature"`
	IssuerName string    `json:"issuer"`
}

// Verification is the result of checking a credential.
type Verification struct {
	Valid        bool    `json:"valid"`
	Reason       string  `json:"reason,omitempty"`
	ScoreDrift   float64 `json:"score_drift"`
	DriftFlagged bool    `json:"drift_flagged"`
}

// Issuer signs and verifies trust credentials with a process-lifetime
// Ed25519 keypair.
type Issuer struct {
	pub    ed25519.PublicKey
	priv   ed25519.PrivateKey
	engine *Engine
	now    func() time.Time
}

// NewIssuer creates an issuer with a fresh keypair.
func NewIssuer(engine *Engine) (*Issuer, error) {
	pub, priv, err := wcrypto.NewSigningKeypair()
	if err != nil {
		return nil, err
	}
	return &Issuer{
		pub:    pub,
		priv:   priv,
		engine: engine,
		now:    time.Now,
	}, nil
}

// SetClock injects a deterministic time source for tests.
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// PublicKey returns the issuer's verification key.
func (i *Issuer) PublicKey() ed25519.PublicKey {
	return i.pub
}

// Issue creates a signed credential capturing the agent's current score.
func (i *Issuer) Issue(agentID string) (*Credential, error) {
	if _, err := i.engine.registry.Get(agentID); err != nil {
		return nil, err
	}

	score := i.engine.ScoreFor(agentID)
	now := i.now()
	cred := &Credential{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		Score:      score.Score,
		Level:      score.Level,
		IssuedAt:   now,
		ExpiresAt:  now.Add(credentialValidity),
		IssuerName: "warden",
	}
	cred.Signature = base64.RawURLEncoding.EncodeToString(ed25519.Sign(i.priv, credentialPayload(cred)))
	return cred, nil
}

// Verify checks a credential's signature and expiry. A valid credential whose
// embedded score has drifted far from the agent's current score is still
// valid but flagged. Each valid verification is recorded as a trust event for
// the subject agent.
func (i *Issuer) Verify(cred *Credential) (*Verification, error) {
	if cred == nil || cred.AgentID == "" || cred.Signature == "" {
		return &Verification{Valid: false, Reason: "malformed credential"}, nil
	}
	if i.now().After(cred.ExpiresAt) {
		return &Verification{Valid: false, Reason: "credential expired"}, nil
	}

	sig, err := base64.RawURLEncoding.DecodeString(cred.Signature)
	if err != nil || !ed25519.Verify(i.pub, credentialPayload(cred), sig) {
		return &Verification{Valid: false, Reason: "invalid signature"}, nil
	}

	v := &Verification{Valid: true}
	if rec, err := i.engine.registry.Get(cred.AgentID); err == nil {
		v.ScoreDrift = math.Abs(agent.FineScore(rec.Reputation.Score) - cred.Score)
		v.DriftFlagged = v.ScoreDrift > scoreDriftThreshold
	}

	if _, err := i.engine.RecordCredentialVerified(cred.AgentID); err != nil && err != agent.ErrNotFound {
		return nil, err
	}
	return v, nil
}

// credentialPayload is the canonical byte string covered by the signature.
// Field order and formatting are fixed; changing either invalidates every
// outstanding credential.
func credentialPayload(c *Credential) []byte {
	return []byte(strings.Join([]string{
		c.ID,
		c.AgentID,
		strconv.FormatFloat(c.Score, 'f', 4, 64),
		string(c.Level),
		strconv.FormatInt(c.IssuedAt.Unix(), 10),
		strconv.FormatInt(c.ExpiresAt.Unix(), 10),
		c.IssuerName,
	}, "\n"))
}
