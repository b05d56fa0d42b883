package api

import (
	"net/http"

	"github.com/ahutchings/warden/internal/inflight"
	"github.com/ahutchings/warden/internal/killswitch"
	"github.com/ahutchings/warden/internal/metrics"
)

// killSwitchHandler groups the emergency stop endpoints.
type killSwitchHandler struct {
	killSwitch *killswitch.Switch
	tracker    *inflight.Tracker
	metrics    *metrics.Metrics
}

func newKillSwitchHandler(sw *killswitch.Switch, tracker *inflight.Tracker, m *metrics.Metrics) *killSwitchHandler {
	return &killSwitchHandler{killSwitch: sw, tracker: tracker, metrics: m}
}

// activateRequest is the JSON body for engaging the kill switch.
type activateRequest struct {
	Reason string `json:"reason"`
}

// Activate handles POST /api/v1/admin/killswitch/activate. The admission flag
// flips before the response is written; agent termination continues in the
// background.
func (h *killSwitchHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	_ = readJSON(r, &req)
	if req.Reason == "" {
		req.Reason = "manual activation"
	}

	state := h.killSwitch.Activate(r.Context(), req.Reason)
	if h.metrics != nil {
		h.metrics.SetKillSwitch(true)
	}

	total, perAgent := h.tracker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":               state,
		"in_flight_total":     total,
		"in_flight_per_agent": perAgent,
	})
}

// Deactivate handles POST /api/v1/admin/killswitch/deactivate.
func (h *killSwitchHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	state := h.killSwitch.Deactivate(r.Context())
	if h.metrics != nil {
		h.metrics.SetKillSwitch(false)
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

// Status handles GET /api/v1/killswitch.
func (h *killSwitchHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"state": h.killSwitch.Status()})
}
