package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ahutchings/warden/internal/agent"
	"github.com/ahutchings/warden/internal/trust"
)

// trustHandler groups trust score and endorsement endpoints.
type trustHandler struct {
	engine   *trust.Engine
	registry *agent.Registry
}

func newTrustHandler(engine *trust.Engine, registry *agent.Registry) *trustHandler {
	return &trustHandler{engine: engine, registry: registry}
}

// GetScore handles GET /api/v1/trust/{id}/score.
func (h *trustHandler) GetScore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.registry.Get(id); errors.Is(err, agent.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, h.engine.ScoreFor(id))
}

// GetEvents handles GET /api/v1/trust/{id}/events.
func (h *trustHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.registry.Get(id); errors.Is(err, agent.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	evs := h.engine.Events(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": id,
		"events":   evs,
		"count":    len(evs),
	})
}

// endorseRequest is the JSON body for a peer endorsement.
type endorseRequest struct {
	EndorserID string `json:"endorser_id"`
	Reason     string `json:"reason"`
}

// Endorse handles POST /api/v1/trust/{id}/endorse.
func (h *trustHandler) Endorse(w http.ResponseWriter, r *http.Request) {
	var req endorseRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.EndorserID == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "endorser_id is required")
		return
	}

	endorseeID := chi.URLParam(r, "id")
	accepted, err := h.engine.Endorse(req.EndorserID, endorseeID, req.Reason)
	if errors.Is(err, agent.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to record endorsement")
		return
	}

	// Dropped endorsements return 200 with accepted=false rather than an
	// error; the endorser learns nothing about the gate threshold.
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":    accepted,
		"endorser_id": req.EndorserID,
		"endorsee_id": endorseeID,
	})
}
