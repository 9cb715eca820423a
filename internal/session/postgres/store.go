package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vartalaap/vartalaap/internal/grammar/chunk"
	"github.com/vartalaap/vartalaap/internal/session"
)

var _ session.Store = (*Store)(nil)

// DefaultLimit caps RecentSummaries when the caller passes a non-positive limit.
const DefaultLimit = 20

// Store is the PostgreSQL-backed session history. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping implements [session.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// SaveSummary implements [session.Store]. Saving the same session twice
// overwrites the earlier row.
func (s *Store) SaveSummary(ctx context.Context, sum session.Summary) error {
	const q = `
		INSERT INTO practice_sessions
		    (session_id, user_id, mode, domain, target_language, native_language,
		     started_at, ended_at, errors_count, corrections_count,
		     word_count, error_rate, flagged, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id) DO UPDATE SET
		    ended_at          = EXCLUDED.ended_at,
		    errors_count      = EXCLUDED.errors_count,
		    corrections_count = EXCLUDED.corrections_count,
		    word_count        = EXCLUDED.word_count,
		    error_rate        = EXCLUDED.error_rate,
		    flagged           = EXCLUDED.flagged,
		    transcript        = EXCLUDED.transcript`

	flagged := sum.Stats.Flagged
	if flagged == nil {
		flagged = []string{}
	}
	_, err := s.pool.Exec(ctx, q,
		sum.SessionID,
		sum.UserID,
		string(sum.Mode),
		sum.Domain,
		sum.TargetLanguage,
		sum.NativeLanguage,
		sum.StartedAt,
		sum.EndedAt,
		sum.ErrorsCount,
		sum.CorrectionsCount,
		sum.Stats.Words,
		sum.Stats.ErrorRate,
		flagged,
		sum.Transcript,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save summary: %w", err)
	}
	return nil
}

// RecentSummaries implements [session.Store]. It returns up to limit sessions
// of userID, most recently ended first.
func (s *Store) RecentSummaries(ctx context.Context, userID string, limit int) ([]session.Summary, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	const q = `
		SELECT session_id, user_id, mode, domain, target_language, native_language,
		       started_at, ended_at, errors_count, corrections_count,
		       word_count, error_rate, flagged, transcript
		FROM   practice_sessions
		WHERE  user_id = $1
		ORDER  BY ended_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent summaries: %w", err)
	}
	return collectSummaries(rows)
}

func collectSummaries(rows pgx.Rows) ([]session.Summary, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.Summary, error) {
		var (
			sum   session.Summary
			mode  string
			stats chunk.Stats
		)
		if err := row.Scan(
			&sum.SessionID,
			&sum.UserID,
			&mode,
			&sum.Domain,
			&sum.TargetLanguage,
			&sum.NativeLanguage,
			&sum.StartedAt,
			&sum.EndedAt,
			&sum.ErrorsCount,
			&sum.CorrectionsCount,
			&stats.Words,
			&stats.ErrorRate,
			&stats.Flagged,
			&sum.Transcript,
		); err != nil {
			return session.Summary{}, err
		}
		sum.Mode = session.Mode(mode)
		stats.Errors = len(stats.Flagged)
		sum.Stats = stats
		sum.Duration = sum.EndedAt.Sub(sum.StartedAt)
		return sum, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if out == nil {
		out = []session.Summary{}
	}
	return out, nil
}
