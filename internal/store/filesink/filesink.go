// Package filesink provides a JSON-lines implementation of [store.EventSink].
// Events are appended to a local file, one JSON document per line, suitable
// for single-node deployments and offline analysis of telemetry.
//
// For multi-node production use, the postgres-backed sink should be used
// instead.
package filesink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cierra-ai/cierra/internal/store"
)

// Compile-time interface check.
var _ store.EventSink = (*Sink)(nil)

// defaultEventLimit caps EventsSince results when the caller passes 0.
const defaultEventLimit = 10000

// line is the on-disk shape of one event. Payload is kept as raw JSON so the
// file stays human-readable.
type line struct {
	SessionID string          `json:"session_id,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"ts"`
}

// Sink persists telemetry events as JSON lines in a local file.
// Safe for concurrent use.
type Sink struct {
	mu   sync.Mutex
	path string
}

// New creates a Sink that appends to the given path. The file is created on
// first write if it does not exist.
func New(path string) *Sink {
	return &Sink{path: path}
}

// Append implements [store.EventSink].
func (s *Sink) Append(ctx context.Context, ev store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	data, err := json.Marshal(line{
		SessionID: ev.SessionID,
		Seq:       ev.Seq,
		Kind:      ev.Kind,
		Payload:   json.RawMessage(payload),
		Timestamp: ev.Timestamp.UTC(),
	})
	if err != nil {
		return fmt.Errorf("filesink: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("filesink: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("filesink: write: %w", err)
	}
	return nil
}

// EventsSince implements [store.EventSink]. It scans the whole file; the sink
// is meant for single-node volumes where this is acceptable.
func (s *Sink) EventsSince(ctx context.Context, kind string, since time.Time, limit int) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = defaultEventLimit
	}

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []store.Event{}, nil
		}
		return nil, fmt.Errorf("filesink: open file: %w", err)
	}
	defer f.Close()

	out := []store.Event{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var l line
		if err := json.Unmarshal(scanner.Bytes(), &l); err != nil {
			// Skip torn or hand-edited lines rather than failing the read.
			continue
		}
		if l.Kind != kind || l.Timestamp.Before(since) {
			continue
		}
		out = append(out, store.Event{
			SessionID: l.SessionID,
			Seq:       l.Seq,
			Kind:      l.Kind,
			Payload:   []byte(l.Payload),
			Timestamp: l.Timestamp,
		})
		if len(out) == limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("filesink: scan: %w", err)
	}
	return out, nil
}
