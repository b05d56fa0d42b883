package trust

import (
	"time"
)

// Level is the coarse banding of a fine-grained trust score.
type Level string

const (
	LevelUntrusted Level = "untrusted"
	LevelLow       Level = "low"
	LevelMedium    Level = "medium"
	LevelHigh      Level = "high"
	LevelVerified  Level = "verified"
)

// LevelFor maps a 0-100 score to its level band.
func LevelFor(score float64) Level {
	switch {
	case score <= 20:
		return LevelUntrusted
	case score <= 40:
		return LevelLow
	case score <= 60:
		return LevelMedium
	case score <= 80:
		return LevelHigh
	default:
		return LevelVerified
	}
}

// Factors is the explainable breakdown behind a trust score.
type Factors struct {
	TransactionSuccessRate  float64 `json:"transaction_success_rate"`
	AverageResponseTimeMs   float64 `json:"average_response_time_ms"`
	PolicyComplianceRate    float64 `json:"policy_compliance_rate"`
	PeerEndorsementCount    int     `json:"peer_endorsement_count"`
	AccountAgeDays          int     `json:"account_age_days"`
	VerifiedCredentialCount int     `json:"verified_credential_count"`
}

// Score is the fine-grained authoritative trust state for an agent, a pure
// function of its ordered event history.
type Score struct {
	AgentID            string    `json:"agent_id"`
	Score              float64   `json:"score"`
	Level              Level     `json:"level"`
	Factors            Factors   `json:"factors"`
	TotalTransactions  int64     `json:"total_transactions"`
	FailedTransactions int64     `json:"failed_transactions"`
	CalculatedAt       time.Time `json:"calculated_at"`
}

// Scoring weights. They sum to 1 so a perfect agent scores 100.
const (
	weightSuccessRate    = 0.30
	weightCompliance     = 0.25
	weightEndorsements   = 0.20
	weightAccountAge     = 0.15
	weightCredentials    = 0.10
	endorsementsSaturate = 10
	accountAgeSaturate   = 365
	credentialsSaturate  = 3
)

// Compute derives the trust score from an agent's full ordered event log.
// It re-reads the entire history each call; per-agent event volume is
// bounded, so the simplicity wins over incremental bookkeeping.
func Compute(agentID string, events []Event, now time.Time) Score {
	var (
		successes    int64
		failures     int64
		violations   int64
		endorsements int
		credentials  int
		registeredAt time.Time

		responseTotal float64
		responseCount int64
	)

	for _, ev := range events {
		switch ev.Type {
		case EventRegistration:
			if registeredAt.IsZero() {
				registeredAt = ev.Timestamp
			}
		case EventTransactionSuccess:
			successes++
			if ev.ResponseTimeMs != nil {
				responseTotal += float64(*ev.ResponseTimeMs)
				responseCount++
			}
		case EventTransactionFailure:
			failures++
		case EventPolicyViolation:
			violations++
		case EventPeerEndorsement:
			endorsements++
		case EventCredentialVerified:
			credentials++
		}
	}

	successRate := 1.0
	if successes+failures > 0 {
		successRate = float64(successes) / float64(successes+failures)
	}

	complianceRate := 1.0
	if successes+violations > 0 {
		complianceRate = float64(successes) / float64(successes+violations)
	}

	var avgResponse float64
	if responseCount > 0 {
		avgResponse = responseTotal / float64(responseCount)
	}

	ageDays := 0
	if !registeredAt.IsZero() && now.After(registeredAt) {
		ageDays = int(now.Sub(registeredAt).Hours() / 24)
	}

	score := 100 * (weightSuccessRate*successRate +
		weightCompliance*complianceRate +
		weightEndorsements*saturate(float64(endorsements), endorsementsSaturate) +
		weightAccountAge*saturate(float64(ageDays), accountAgeSaturate) +
		weightCredentials*saturate(float64(credentials), credentialsSaturate))

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Score{
		AgentID: agentID,
		Score:   score,
		Level:   LevelFor(score),
		Factors: Factors{
			TransactionSuccessRate:  successRate,
			AverageResponseTimeMs:   avgResponse,
			PolicyComplianceRate:    complianceRate,
			PeerEndorsementCount:    endorsements,
			AccountAgeDays:          ageDays,
			VerifiedCredentialCount: credentials,
		},
		TotalTransactions:  successes + failures,
		FailedTransactions: failures,
		CalculatedAt:       now,
	}
}

// saturate normalizes a count against its saturation point, capped at 1.
func saturate(v, max float64) float64 {
	if v >= max {
		return 1
	}
	return v / max
}
