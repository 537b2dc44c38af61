package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cierra-ai/cierra/internal/store"
)

// defaultEventLimit caps EventsSince results when the caller passes 0.
const defaultEventLimit = 10000

// Append implements [store.EventSink].
func (s *Store) Append(ctx context.Context, ev store.Event) error {
	const q = `
		INSERT INTO events (session_id, seq, kind, payload, ts)
		VALUES ($1, $2, $3, $4, $5)`

	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.pool.Exec(ctx, q, ev.SessionID, ev.Seq, ev.Kind, payload, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("event sink: append: %w", err)
	}
	return nil
}

// EventsSince implements [store.EventSink]. Events are returned oldest first.
func (s *Store) EventsSince(ctx context.Context, kind string, since time.Time, limit int) ([]store.Event, error) {
	const q = `
		SELECT session_id, seq, kind, payload, ts
		FROM   events
		WHERE  kind = $1 AND ts >= $2
		ORDER  BY ts, id
		LIMIT  $3`

	if limit <= 0 {
		limit = defaultEventLimit
	}
	rows, err := s.pool.Query(ctx, q, kind, since, limit)
	if err != nil {
		return nil, fmt.Errorf("event sink: query: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Event, error) {
		var ev store.Event
		err := row.Scan(&ev.SessionID, &ev.Seq, &ev.Kind, &ev.Payload, &ev.Timestamp)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("event sink: scan rows: %w", err)
	}
	if events == nil {
		events = []store.Event{}
	}
	return events, nil
}
