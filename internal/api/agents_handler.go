package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ahutchings/warden/internal/agent"
	"github.com/ahutchings/warden/internal/audit"
	"github.com/ahutchings/warden/internal/budget"
	"github.com/ahutchings/warden/internal/trust"
)

// agentsHandler groups agent lifecycle HTTP handlers.
type agentsHandler struct {
	registry      *agent.Registry
	engine        *trust.Engine
	audit         audit.Sink
	defaultBudget agent.Budget
}

func newAgentsHandler(registry *agent.Registry, engine *trust.Engine, sink audit.Sink, defaultBudget agent.Budget) *agentsHandler {
	return &agentsHandler{
		registry:      registry,
		engine:        engine,
		audit:         sink,
		defaultBudget: defaultBudget,
	}
}

// registerAgentRequest is the JSON body for explicit registration.
type registerAgentRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Version     string  `json:"version"`
	MaxTokens   int64   `json:"max_tokens"`
	MaxAPICalls int64   `json:"max_api_calls"`
	MaxCostUSD  float64 `json:"max_cost_usd"`
	PeriodHours int     `json:"period_hours"`
}

// RegisterAgent handles POST /api/v1/agents.
func (h *agentsHandler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "id is required")
		return
	}
	if _, err := h.registry.Get(req.ID); err == nil {
		writeError(w, http.StatusConflict, "already_exists", "agent is already registered")
		return
	}

	b := h.defaultBudget
	if req.MaxTokens > 0 {
		b.MaxTokens = req.MaxTokens
	}
	if req.MaxAPICalls > 0 {
		b.MaxAPICalls = req.MaxAPICalls
	}
	if req.MaxCostUSD > 0 {
		b.MaxCostUSD = req.MaxCostUSD
	}
	if req.PeriodHours > 0 {
		b.Period = time.Duration(req.PeriodHours) * time.Hour
	}

	name := req.Name
	if name == "" {
		name = req.ID
	}
	rec := agent.NewRecord(req.ID, name, req.Version, b, time.Now())
	h.registry.Put(rec)
	h.engine.RecordRegistration(req.ID)
	h.registry.ScheduleWrite(rec)

	writeJSON(w, http.StatusCreated, rec)
}

// GetAgent handles GET /api/v1/agents/{id}.
func (h *agentsHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := h.registry.Get(chi.URLParam(r, "id"))
	if errors.Is(err, agent.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}

	remaining := budget.Snapshot(rec.Budget, rec.Usage)
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":     rec,
		"remaining": remaining,
	})
}

// ListAgents handles GET /api/v1/agents.
func (h *agentsHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	recs := h.registry.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": recs,
		"count":  len(recs),
	})
}

// statusChangeRequest is the JSON body for suspend/reactivate/terminate.
type statusChangeRequest struct {
	Reason string `json:"reason"`
}

// SuspendAgent handles POST /api/v1/admin/agents/{id}/suspend.
func (h *agentsHandler) SuspendAgent(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, agent.StatusSuspended)
}

// ReactivateAgent handles POST /api/v1/admin/agents/{id}/reactivate.
func (h *agentsHandler) ReactivateAgent(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, agent.StatusActive)
}

// TerminateAgent handles POST /api/v1/admin/agents/{id}/terminate.
func (h *agentsHandler) TerminateAgent(w http.ResponseWriter, r *http.Request) {
	var req statusChangeRequest
	_ = readJSON(r, &req)
	if req.Reason == "" {
		req.Reason = "terminated by operator"
	}

	rec, err := h.registry.Get(chi.URLParam(r, "id"))
	if errors.Is(err, agent.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}

	rec.Terminate(req.Reason, time.Now())
	h.registry.ScheduleWrite(rec)
	h.audit.Record(audit.Event{
		Type:      audit.EventTermination,
		AgentID:   rec.ID,
		Reason:    req.Reason,
		Timestamp: time.Now(),
	})
	writeJSON(w, http.StatusOK, rec)
}

func (h *agentsHandler) transition(w http.ResponseWriter, r *http.Request, to agent.Status) {
	var req statusChangeRequest
	_ = readJSON(r, &req)

	rec, err := h.registry.Get(chi.URLParam(r, "id"))
	if errors.Is(err, agent.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "agent not found")
		return
	}

	if !agent.CanTransition(rec.Status, to) {
		writeError(w, http.StatusConflict, "invalid_transition",
			"cannot move agent from "+string(rec.Status)+" to "+string(to))
		return
	}
	rec.Status = to
	h.registry.ScheduleWrite(rec)

	if to == agent.StatusSuspended {
		h.audit.Record(audit.Event{
			Type:      audit.EventSuspension,
			AgentID:   rec.ID,
			Reason:    req.Reason,
			Timestamp: time.Now(),
		})
	}
	writeJSON(w, http.StatusOK, rec)
}
