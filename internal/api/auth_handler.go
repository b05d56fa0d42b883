package api

import (
	"net/http"

	"github.com/ahutchings/warden/internal/metrics"
	"github.com/ahutchings/warden/internal/trust"
)

// authHandler groups mutual authentication endpoints.
type authHandler struct {
	authenticator *trust.Authenticator
	metrics       *metrics.Metrics
}

func newAuthHandler(authenticator *trust.Authenticator, m *metrics.Metrics) *authHandler {
	return &authHandler{authenticator: authenticator, metrics: m}
}

// challengeRequest is the JSON body for starting mutual authentication.
type challengeRequest struct {
	RequesterID string `json:"requester_id"`
	TargetID    string `json:"target_id"`
}

// CreateChallenge handles POST /api/v1/auth/challenge.
func (h *authHandler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.RequesterID == "" || req.TargetID == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "requester_id and target_id are required")
		return
	}

	challenge, err := h.authenticator.CreateChallenge(req.RequesterID, req.TargetID)
	if err != nil {
		writeError(w, http.StatusForbidden, "challenge_refused", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenge": challenge})
}

// completeRequest is the JSON body for finishing mutual authentication.
type completeRequest struct {
	Challenge      string `json:"challenge"`
	RequesterProof string `json:"requester_proof"`
	TargetProof    string `json:"target_proof"`
}

// Complete handles POST /api/v1/auth/complete.
func (h *authHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	result, err := h.authenticator.Complete(req.Challenge, req.RequesterProof, req.TargetProof)
	if err != nil {
		if h.metrics != nil {
			h.metrics.IncMutualAuth(false)
		}
		writeError(w, http.StatusUnauthorized, "auth_failed", "mutual authentication failed")
		return
	}
	if h.metrics != nil {
		h.metrics.IncMutualAuth(true)
	}
	writeJSON(w, http.StatusOK, result)
}

// verifyTokenRequest is the JSON body for session token verification.
type verifyTokenRequest struct {
	Token string `json:"token"`
}

// VerifySession handles POST /api/v1/auth/verify.
func (h *authHandler) VerifySession(w http.ResponseWriter, r *http.Request) {
	var req verifyTokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	claims, err := h.authenticator.VerifySessionToken(req.Token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "session token is invalid or expired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requester_id": claims.Subject,
		"target_id":    claims.TargetID,
		"mutual_trust": claims.MutualTrust,
		"expires_at":   claims.ExpiresAt,
	})
}
