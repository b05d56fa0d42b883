// Package audit provides an append-only sink for security-relevant events:
// violations, suspensions, terminations, kill-switch transitions, and
// admission denials.
package audit

import (
	"log/slog"
	"time"
)

type EventType string

const (
	EventViolation             EventType = "policy_violation"
	EventSuspension            EventType = "agent_suspended"
	EventTermination           EventType = "agent_terminated"
	EventKillSwitchActivated   EventType = "kill_switch_activated"
	EventKillSwitchDeactivated EventType = "kill_switch_deactivated"
	EventAdmissionDenied       EventType = "admission_denied"
)

// Event is a single structured audit entry.
type Event struct {
	Type      EventType
	AgentID   string
	Reason    string
	Timestamp time.Time

	// Forensic in-flight snapshot, set on kill-switch activation.
	InFlightTotal    int
	InFlightPerAgent map[string]int

	// Detail carries extra key/value attributes.
	Detail []any
}

// Sink receives audit events. Implementations must not block the caller's
// admission hot path.
type Sink interface {
	Record(ev Event)
}

// SlogSink writes audit events as structured log entries.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to the given logger, or the default
// logger when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Record emits a structured audit log entry.
func (s *SlogSink) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	attrs := []any{
		"event", string(ev.Type),
		"agent_id", ev.AgentID,
		"reason", ev.Reason,
		"timestamp", ev.Timestamp,
	}
	if ev.Type == EventKillSwitchActivated {
		attrs = append(attrs, "in_flight_total", ev.InFlightTotal, "in_flight_per_agent", ev.InFlightPerAgent)
	}
	attrs = append(attrs, ev.Detail...)

	s.logger.Info("audit", attrs...)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(Event) {}
