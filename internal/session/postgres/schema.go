// Package postgres keeps finished practice sessions in PostgreSQL.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	mgr := session.NewManager(session.WithStore(store))
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPracticeSessions = `
CREATE TABLE IF NOT EXISTS practice_sessions (
    session_id        TEXT              PRIMARY KEY,
    user_id           TEXT              NOT NULL DEFAULT '',
    mode              TEXT              NOT NULL,
    domain            TEXT              NOT NULL DEFAULT '',
    target_language   TEXT              NOT NULL DEFAULT 'en',
    native_language   TEXT              NOT NULL DEFAULT '',
    started_at        TIMESTAMPTZ       NOT NULL,
    ended_at          TIMESTAMPTZ       NOT NULL,
    errors_count      INTEGER           NOT NULL DEFAULT 0,
    corrections_count INTEGER           NOT NULL DEFAULT 0,
    word_count        INTEGER           NOT NULL DEFAULT 0,
    error_rate        DOUBLE PRECISION  NOT NULL DEFAULT 0,
    flagged           TEXT[]            NOT NULL DEFAULT '{}',
    transcript        TEXT              NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_practice_sessions_user_ended
    ON practice_sessions (user_id, ended_at DESC);
`

// Migrate creates the tables the store needs. It is idempotent and safe to
// call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlPracticeSessions} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
