package trust

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists trust events to PostgreSQL. Events are append-only; seq
// preserves global insertion order across agents.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a trust event store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append writes a single event.
func (s *Store) Append(ctx context.Context, ev Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trust_events (id, agent_id, type, delta, reason, timestamp, related_agent_id, response_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.AgentID, string(ev.Type), ev.Delta, ev.Reason, ev.Timestamp,
		nullableString(ev.RelatedAgentID), ev.ResponseTimeMs,
	)
	if err != nil {
		return fmt.Errorf("appending trust event: %w", err)
	}
	return nil
}

// LoadAll returns every stored event in insertion order.
func (s *Store) LoadAll(ctx context.Context) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, type, delta, reason, timestamp, related_agent_id, response_time_ms
		FROM trust_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("loading trust events: %w", err)
	}
	defer rows.Close()

	var evs []Event
	for rows.Next() {
		var ev Event
		var related *string
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.Type, &ev.Delta, &ev.Reason,
			&ev.Timestamp, &related, &ev.ResponseTimeMs); err != nil {
			return nil, fmt.Errorf("scanning trust event: %w", err)
		}
		if related != nil {
			ev.RelatedAgentID = *related
		}
		evs = append(evs, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trust event rows: %w", err)
	}
	return evs, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
