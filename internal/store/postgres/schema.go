// Package postgres provides the PostgreSQL-backed implementation of the
// store interfaces (sessions, telemetry events, JSON documents).
//
// All three concerns share a single [pgxpool.Pool]. [Migrate] installs the
// schema idempotently and is safe to run on every application start.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	state, err := st.Load(ctx, sessionID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sessions DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id    TEXT         PRIMARY KEY,
    state         JSONB        NOT NULL,
    version       BIGINT       NOT NULL,
    phase         TEXT         NOT NULL,
    terminated    BOOLEAN      NOT NULL DEFAULT FALSE,
    last_activity TIMESTAMPTZ  NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_idle
    ON sessions (last_activity) WHERE NOT terminated;
`

// ─────────────────────────────────────────────────────────────────────────────
// Telemetry events DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlEvents = `
CREATE TABLE IF NOT EXISTS events (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL DEFAULT '',
    seq         BIGINT       NOT NULL DEFAULT 0,
    kind        TEXT         NOT NULL,
    payload     JSONB        NOT NULL DEFAULT '{}',
    ts          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_events_kind_ts
    ON events (kind, ts);

CREATE INDEX IF NOT EXISTS idx_events_session
    ON events (session_id, seq);
`

// ─────────────────────────────────────────────────────────────────────────────
// Documents DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlDocs = `
CREATE TABLE IF NOT EXISTS docs (
    collection  TEXT         NOT NULL,
    key         TEXT         NOT NULL,
    doc         JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, key)
);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlSessions,
		ddlEvents,
		ddlDocs,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
