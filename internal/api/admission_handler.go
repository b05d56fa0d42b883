package api

import (
	"errors"
	"net/http"

	"github.com/ahutchings/warden/internal/admission"
	"github.com/ahutchings/warden/internal/agent"
	"github.com/ahutchings/warden/internal/budget"
)

// admissionHandler groups the admission check and outcome endpoints.
type admissionHandler struct {
	controller *admission.Controller
}

func newAdmissionHandler(controller *admission.Controller) *admissionHandler {
	return &admissionHandler{controller: controller}
}

// checkRequest is the JSON body for an admission check.
type checkRequest struct {
	AgentID          string  `json:"agent_id"`
	ActionType       string  `json:"action_type"`
	Text             string  `json:"text"`
	EstimatedTokens  int64   `json:"estimated_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// CheckAction handles POST /api/v1/admission/check.
func (h *admissionHandler) CheckAction(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "agent_id is required")
		return
	}

	decision := h.controller.CheckAction(r.Context(), admission.Request{
		AgentID:    req.AgentID,
		ActionType: req.ActionType,
		Text:       req.Text,
		Estimate: budget.Estimate{
			Tokens:  req.EstimatedTokens,
			CostUSD: req.EstimatedCostUSD,
		},
	})

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusForbidden
	}
	writeJSON(w, status, decision)
}

// outcomeRequest is the JSON body for reporting an action outcome.
type outcomeRequest struct {
	AgentID        string  `json:"agent_id"`
	Outcome        string  `json:"outcome"`
	Reason         string  `json:"reason"`
	ActualTokens   int64   `json:"actual_tokens"`
	ActualCostUSD  float64 `json:"actual_cost_usd"`
	ResponseTimeMs *int64  `json:"response_time_ms"`
}

// ReportOutcome handles POST /api/v1/admission/outcome.
func (h *admissionHandler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "agent_id is required")
		return
	}

	var (
		rec *agent.Record
		err error
	)
	switch req.Outcome {
	case "success":
		rec, err = h.controller.RecordSuccess(req.AgentID, budget.Actual{
			Tokens:  req.ActualTokens,
			CostUSD: req.ActualCostUSD,
		}, req.ResponseTimeMs)
	case "failure":
		rec, err = h.controller.RecordFailure(req.AgentID, req.Reason)
	case "violation":
		rec, err = h.controller.RecordViolation(req.AgentID, req.Reason)
	default:
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "outcome must be success, failure, or violation")
		return
	}

	if errors.Is(err, agent.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to record outcome")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": rec.ID,
		"status":   rec.Status,
		"score":    rec.Reputation.Score,
		"usage":    rec.Usage,
	})
}
