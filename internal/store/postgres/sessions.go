package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/store"
)

// Create implements [store.SessionStore]. The fresh state is persisted at
// version 1; the caller's copy is advanced on success.
func (s *Store) Create(ctx context.Context, state *conversation.ConversationState) error {
	snapshot := state.Clone()
	snapshot.Version = 1

	doc, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("session store: marshal state: %w", err)
	}

	const q = `
		INSERT INTO sessions (session_id, state, version, phase, terminated, last_activity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q,
		snapshot.SessionID,
		doc,
		snapshot.Version,
		string(snapshot.Phase),
		snapshot.Terminated(),
		snapshot.LastActivityAt,
		snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("session store: create: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	state.Version = snapshot.Version
	return nil
}

// Load implements [store.SessionStore].
func (s *Store) Load(ctx context.Context, sessionID string) (*conversation.ConversationState, error) {
	const q = `SELECT state, version FROM sessions WHERE session_id = $1`

	var (
		doc     []byte
		version int64
	)
	if err := s.pool.QueryRow(ctx, q, sessionID).Scan(&doc, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("session store: load: %w", err)
	}

	var state conversation.ConversationState
	if err := json.Unmarshal(doc, &state); err != nil {
		return nil, fmt.Errorf("session store: unmarshal state: %w", err)
	}
	// The version column is authoritative over whatever the document carries.
	state.Version = version
	return &state, nil
}

// Save implements [store.SessionStore]. The row is updated only when its
// stored version still matches the caller's; otherwise nothing changes and
// [store.ErrVersionConflict] (or [store.ErrNotFound] for a vanished row) is
// returned.
func (s *Store) Save(ctx context.Context, state *conversation.ConversationState) error {
	expected := state.Version
	snapshot := state.Clone()
	snapshot.Version = expected + 1

	doc, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("session store: marshal state: %w", err)
	}

	const q = `
		UPDATE sessions
		SET    state = $2, version = $3, phase = $4, terminated = $5, last_activity = $6
		WHERE  session_id = $1 AND version = $7`

	tag, err := s.pool.Exec(ctx, q,
		snapshot.SessionID,
		doc,
		snapshot.Version,
		string(snapshot.Phase),
		snapshot.Terminated(),
		snapshot.LastActivityAt,
		expected,
	)
	if err != nil {
		return fmt.Errorf("session store: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sessions WHERE session_id = $1)`,
			snapshot.SessionID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("session store: save conflict check: %w", err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrVersionConflict
	}
	state.Version = snapshot.Version
	return nil
}

// IdleSessionIDs implements [store.SessionStore].
func (s *Store) IdleSessionIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	const q = `
		SELECT session_id
		FROM   sessions
		WHERE  NOT terminated AND last_activity < $1
		ORDER  BY last_activity
		LIMIT  $2`

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("session store: idle sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan rows: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
