package trust

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies entries in the append-only trust ledger.
type EventType string

const (
	EventRegistration       EventType = "REGISTRATION"
	EventTransactionSuccess EventType = "TRANSACTION_SUCCESS"
	EventTransactionFailure EventType = "TRANSACTION_FAILURE"
	EventPolicyViolation    EventType = "POLICY_VIOLATION"
	EventPeerEndorsement    EventType = "PEER_ENDORSEMENT"
	EventCredentialVerified EventType = "CREDENTIAL_VERIFIED"
)

// Informational per-event deltas, kept on the event for explainability. The
// authoritative score comes from full recomputation, not from summing deltas.
const (
	DeltaRegistration       = 0.0
	DeltaTransactionSuccess = 2.0
	DeltaTransactionFailure = -5.0
	DeltaPolicyViolation    = -20.0
	DeltaPeerEndorsement    = 5.0
	DeltaCredentialVerified = 10.0
)

// Event is a single immutable entry in an agent's trust history.
type Event struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	Type           EventType `json:"type"`
	Delta          float64   `json:"delta"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
	RelatedAgentID string    `json:"related_agent_id,omitempty"`
	ResponseTimeMs *int64    `json:"response_time_ms,omitempty"`
}

// NewEvent creates an event with a fresh identifier.
func NewEvent(agentID string, typ EventType, delta float64, reason string, now time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Type:      typ,
		Delta:     delta,
		Reason:    reason,
		Timestamp: now,
	}
}
