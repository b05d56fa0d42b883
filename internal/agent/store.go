package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for agent records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new agent store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const recordColumns = `id, name, version, status,
	max_tokens, max_api_calls, max_cost_usd, period_seconds,
	tokens_used, api_calls_used, cost_usd, period_start,
	rep_score, successful_actions, failed_actions, violations, rep_updated,
	created_at, last_active_at, terminated_at, termination_reason`

// LoadAll returns every stored agent record. Rows that fail to scan or carry
// an unknown status are logged and skipped; a corrupt record must not be
// fatal to startup.
func (s *Store) LoadAll(ctx context.Context) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			slog.Warn("skipping corrupt agent record", "error", err)
			continue
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return recs, nil
}

// GetByID retrieves a single agent record.
func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM agents WHERE id = $1`, id)
	rec, err := scanRecord(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("getting agent by id: %w", err)
	}
	return rec, nil
}

// Upsert writes a record snapshot.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents (id, name, version, status,
			max_tokens, max_api_calls, max_cost_usd, period_seconds,
			tokens_used, api_calls_used, cost_usd, period_start,
			rep_score, successful_actions, failed_actions, violations, rep_updated,
			created_at, last_active_at, terminated_at, termination_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			max_tokens = EXCLUDED.max_tokens,
			max_api_calls = EXCLUDED.max_api_calls,
			max_cost_usd = EXCLUDED.max_cost_usd,
			period_seconds = EXCLUDED.period_seconds,
			tokens_used = EXCLUDED.tokens_used,
			api_calls_used = EXCLUDED.api_calls_used,
			cost_usd = EXCLUDED.cost_usd,
			period_start = EXCLUDED.period_start,
			rep_score = EXCLUDED.rep_score,
			successful_actions = EXCLUDED.successful_actions,
			failed_actions = EXCLUDED.failed_actions,
			violations = EXCLUDED.violations,
			rep_updated = EXCLUDED.rep_updated,
			last_active_at = EXCLUDED.last_active_at,
			terminated_at = EXCLUDED.terminated_at,
			termination_reason = EXCLUDED.termination_reason`,
		rec.ID, rec.Name, rec.Version, string(rec.Status),
		rec.Budget.MaxTokens, rec.Budget.MaxAPICalls, rec.Budget.MaxCostUSD, int64(rec.Budget.Period/time.Second),
		rec.Usage.TokensUsed, rec.Usage.APICallsUsed, rec.Usage.CostUSD, rec.Usage.PeriodStart,
		rec.Reputation.Score, rec.Reputation.SuccessfulActions, rec.Reputation.FailedActions,
		rec.Reputation.Violations, rec.Reputation.LastUpdated,
		rec.CreatedAt, rec.LastActiveAt, rec.TerminatedAt, nullableString(rec.TerminationReason),
	)
	if err != nil {
		return fmt.Errorf("upserting agent %s: %w", rec.ID, err)
	}
	return nil
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var (
		rec           Record
		status        string
		periodSeconds int64
		reason        *string
	)
	err := scan(
		&rec.ID, &rec.Name, &rec.Version, &status,
		&rec.Budget.MaxTokens, &rec.Budget.MaxAPICalls, &rec.Budget.MaxCostUSD, &periodSeconds,
		&rec.Usage.TokensUsed, &rec.Usage.APICallsUsed, &rec.Usage.CostUSD, &rec.Usage.PeriodStart,
		&rec.Reputation.Score, &rec.Reputation.SuccessfulActions, &rec.Reputation.FailedActions,
		&rec.Reputation.Violations, &rec.Reputation.LastUpdated,
		&rec.CreatedAt, &rec.LastActiveAt, &rec.TerminatedAt, &reason,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning agent row: %w", err)
	}

	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rec.Status = st
	rec.Budget.Period = time.Duration(periodSeconds) * time.Second
	if reason != nil {
		rec.TerminationReason = *reason
	}
	return &rec, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
