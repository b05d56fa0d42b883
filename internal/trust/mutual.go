package trust

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ahutchings/warden/internal/agent"
	wcrypto "github.com/ahutchings/warden/internal/crypto"
)

const (
	challengeTTL = 5 * time.Minute
	nonceLen     = 16
)

// MutualResult is the outcome of a completed mutual authentication: both
// proofs verified, a combined trust level, and a session token the pair can
// present on subsequent interactions.
type MutualResult struct {
	RequesterID  string    `json:"requester_id"`
	TargetID     string    `json:"target_id"`
	MutualTrust  int       `json:"mutual_trust"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Authenticator runs the stateless challenge/response mutual-auth protocol.
// Challenges are self-describing and MAC'd with a server key, so no
// per-challenge state is held between the two round trips.
type Authenticator struct {
	master   []byte
	registry *agent.Registry
	engine   *Engine
	tokenTTL time.Duration
	now      func() time.Time

	challengeKey []byte
	tokenKey     []byte
}

// NewAuthenticator creates an authenticator over the given master secret.
// Completed authentications count as successful transactions for both
// parties, recorded through the engine.
func NewAuthenticator(master []byte, registry *agent.Registry, engine *Engine, tokenTTL time.Duration) (*Authenticator, error) {
	challengeKey, err := wcrypto.DeriveAgentKey(master, "\x00challenge")
	if err != nil {
		return nil, fmt.Errorf("deriving challenge key: %w", err)
	}
	tokenKey, err := wcrypto.DeriveAgentKey(master, "\x00session-token")
	if err != nil {
		return nil, fmt.Errorf("deriving token key: %w", err)
	}
	return &Authenticator{
		master:       master,
		registry:     registry,
		engine:       engine,
		tokenTTL:     tokenTTL,
		now:          time.Now,
		challengeKey: challengeKey,
		tokenKey:     tokenKey,
	}, nil
}

// SetClock injects a deterministic time source for tests.
func (a *Authenticator) SetClock(now func() time.Time) {
	a.now = now
}

// CreateChallenge issues a challenge binding the requester/target pair to a
// nonce and an issue time. Both agents must be registered and neither may be
// terminated.
func (a *Authenticator) CreateChallenge(requesterID, targetID string) (string, error) {
	for _, id := range []string{requesterID, targetID} {
		rec, err := a.registry.Get(id)
		if err != nil {
			return "", fmt.Errorf("agent %s: %w", id, err)
		}
		if rec.Status == agent.StatusTerminated {
			return "", fmt.Errorf("agent %s is terminated", id)
		}
	}

	nonce, err := wcrypto.RandomNonce(nonceLen)
	if err != nil {
		return "", err
	}

	payload := strings.Join([]string{
		requesterID,
		targetID,
		strconv.FormatInt(a.now().Unix(), 10),
		hex.EncodeToString(nonce),
	}, "|")

	mac := hmac.New(sha256.New, a.challengeKey)
	mac.Write([]byte(payload))
	signed := payload + "|" + hex.EncodeToString(mac.Sum(nil))

	return base64.RawURLEncoding.EncodeToString([]byte(signed)), nil
}

// parseChallenge validates the challenge MAC and expiry and returns the bound
// requester/target pair.
func (a *Authenticator) parseChallenge(challenge string) (requesterID, targetID string, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(challenge)
	if err != nil {
		return "", "", fmt.Errorf("malformed challenge")
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 5 {
		return "", "", fmt.Errorf("malformed challenge")
	}

	payload := strings.Join(parts[:4], "|")
	mac := hmac.New(sha256.New, a.challengeKey)
	mac.Write([]byte(payload))
	want, err := hex.DecodeString(parts[4])
	if err != nil || !wcrypto.ConstantTimeEqual(mac.Sum(nil), want) {
		return "", "", fmt.Errorf("invalid challenge signature")
	}

	issued, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", fmt.Errorf("malformed challenge")
	}
	age := a.now().Sub(time.Unix(issued, 0))
	if age < 0 || age > challengeTTL {
		return "", "", fmt.Errorf("challenge expired")
	}

	return parts[0], parts[1], nil
}

// ProofFor computes the proof an agent presents for a challenge: an HMAC of
// the challenge bytes under the agent's derived key. Exposed so test and
// client tooling can act as an agent.
func (a *Authenticator) ProofFor(agentID, challenge string) (string, error) {
	key, err := wcrypto.DeriveAgentKey(a.master, agentID)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Complete verifies both proofs against the challenge. Both comparisons run
// unconditionally before either result is inspected. On success both agents
// gain a transaction-success event, and the mutual trust level is computed
// from the refreshed scores alongside a signed session token.
func (a *Authenticator) Complete(challenge, requesterProof, targetProof string) (*MutualResult, error) {
	requesterID, targetID, err := a.parseChallenge(challenge)
	if err != nil {
		return nil, err
	}

	requesterOK := a.verifyProof(requesterID, challenge, requesterProof)
	targetOK := a.verifyProof(targetID, challenge, targetProof)
	if !requesterOK || !targetOK {
		return nil, fmt.Errorf("proof verification failed")
	}

	if _, err := a.engine.RecordSuccess(requesterID, nil); err != nil {
		return nil, fmt.Errorf("recording requester success: %w", err)
	}
	if _, err := a.engine.RecordSuccess(targetID, nil); err != nil {
		return nil, fmt.Errorf("recording target success: %w", err)
	}

	requester, err := a.registry.Get(requesterID)
	if err != nil {
		return nil, err
	}
	target, err := a.registry.Get(targetID)
	if err != nil {
		return nil, err
	}

	mutual := mutualTrust(requester.Reputation.Score, target.Reputation.Score)
	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sessionToken(requesterID, targetID, mutual, expiresAt)
	if err != nil {
		return nil, err
	}

	return &MutualResult{
		RequesterID:  requesterID,
		TargetID:     targetID,
		MutualTrust:  mutual,
		SessionToken: token,
		ExpiresAt:    expiresAt,
	}, nil
}

func (a *Authenticator) verifyProof(agentID, challenge, proof string) bool {
	want, err := a.ProofFor(agentID, challenge)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(proof)
	if err != nil {
		got = []byte(proof)
	}
	wantRaw, _ := hex.DecodeString(want)
	return wcrypto.ConstantTimeEqual(wantRaw, got)
}

// mutualTrust combines two coarse scores as their geometric mean, so one
// low-trust party drags the pair down more than an arithmetic mean would.
func mutualTrust(a, b int) int {
	if a <= 0 || b <= 0 {
		return 0
	}
	return int(math.Round(math.Sqrt(float64(a) * float64(b))))
}

// SessionClaims is the payload carried in the mutual-auth session token.
type SessionClaims struct {
	TargetID    string `json:"target_id"`
	MutualTrust int    `json:"mutual_trust"`
	jwt.RegisteredClaims
}

func (a *Authenticator) sessionToken(requesterID, targetID string, mutual int, expiresAt time.Time) (string, error) {
	claims := SessionClaims{
		TargetID:    targetID,
		MutualTrust: mutual,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "warden",
			Subject:   requesterID,
			IssuedAt:  jwt.NewNumericDate(a.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.tokenKey)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// VerifySessionToken checks a session token's signature and expiry and
// returns its claims.
func (a *Authenticator) VerifySessionToken(token string) (*SessionClaims, error) {
	var claims SessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.tokenKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return a.now() }))
	if err != nil {
		return nil, fmt.Errorf("parsing session token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return &claims, nil
}
