package api

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ahutchings/warden/internal/agent"
	"github.com/ahutchings/warden/internal/metrics"
	"github.com/ahutchings/warden/internal/trust"
)

// credentialsHandler groups credential issue and verify endpoints.
type credentialsHandler struct {
	issuer  *trust.Issuer
	metrics *metrics.Metrics
}

func newCredentialsHandler(issuer *trust.Issuer, m *metrics.Metrics) *credentialsHandler {
	return &credentialsHandler{issuer: issuer, metrics: m}
}

// Issue handles POST /api/v1/credentials/{id}.
func (h *credentialsHandler) Issue(w http.ResponseWriter, r *http.Request) {
	cred, err := h.issuer.Issue(chi.URLParam(r, "id"))
	if errors.Is(err, agent.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	if err != nil {
		if h.metrics != nil {
			h.metrics.IncCredentialOperation("issue", false)
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to issue credential")
		return
	}
	if h.metrics != nil {
		h.metrics.IncCredentialOperation("issue", true)
	}
	writeJSON(w, http.StatusCreated, cred)
}

// Verify handles POST /api/v1/credentials/verify.
func (h *credentialsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var cred trust.Credential
	if err := readJSON(r, &cred); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	v, err := h.issuer.Verify(&cred)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to verify credential")
		return
	}
	if h.metrics != nil {
		h.metrics.IncCredentialOperation("verify", v.Valid)
	}
	writeJSON(w, http.StatusOK, v)
}

// PublicKey handles GET /api/v1/credentials/public-key.
func (h *credentialsHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"algorithm":  "ed25519",
		"public_key": base64.StdEncoding.EncodeToString(h.issuer.PublicKey()),
	})
}
