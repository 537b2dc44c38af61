// Package store defines the persistence contracts of the sales agent core.
//
// Three narrow interfaces cover everything the orchestrator and the ML
// pipeline need to survive a restart:
//
//   - [SessionStore]: versioned conversation state with optimistic
//     concurrency. One writer wins per version; losers get
//     [ErrVersionConflict] and are expected to reload and retry.
//   - [EventSink]: an append-only telemetry log (message exchanges,
//     conversation outcomes, degradation markers). The tracking and drift
//     components read it back by kind and time window.
//   - [DocStore]: small JSON documents keyed by (collection, key), used for
//     experiment snapshots, drift baselines, and model registry artifacts.
//
// Implementations live in the sibling packages memstore (in-process, for
// tests and single-node runs), filesink (JSONL event log), and postgres.
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cierra-ai/cierra/internal/conversation"
)

// Sentinel errors returned by store implementations. Callers match them with
// [errors.Is].
var (
	// ErrNotFound indicates the requested session or document does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict indicates a Save lost the optimistic-concurrency
	// race: the stored version no longer matches the loaded one.
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrAlreadyExists indicates a Create targeted an existing session id.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Well-known [DocStore] collections.
const (
	// CollectionExperiments holds one bandit experiment snapshot per key.
	CollectionExperiments = "experiments"

	// CollectionBaselines holds one drift baseline per model id.
	CollectionBaselines = "drift_baselines"

	// CollectionDriftReports holds drift reports keyed by
	// "model_id@generated_at".
	CollectionDriftReports = "drift_reports"

	// CollectionModels holds one registry artifact per model id.
	CollectionModels = "models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sessions
// ─────────────────────────────────────────────────────────────────────────────

// SessionStore persists [conversation.ConversationState] aggregates.
//
// Version semantics: a freshly built state carries Version 0. Create persists
// it at Version 1 and updates the caller's copy. Save persists the state at
// Version+1 if and only if the stored version still equals the caller's
// Version, then advances the caller's copy; otherwise it returns
// [ErrVersionConflict] and persists nothing.
//
// Load returns a deep copy; mutating it never affects stored data until the
// copy is saved back.
type SessionStore interface {
	// Create persists a new session. Returns [ErrAlreadyExists] when the
	// session id is taken.
	Create(ctx context.Context, state *conversation.ConversationState) error

	// Load retrieves the session by id. Returns [ErrNotFound] when absent.
	Load(ctx context.Context, sessionID string) (*conversation.ConversationState, error)

	// Save commits a mutated session under optimistic concurrency. See the
	// interface comment for the version rules.
	Save(ctx context.Context, state *conversation.ConversationState) error

	// IdleSessionIDs returns ids of non-terminated sessions whose last
	// activity is strictly before cutoff, up to limit. Used by the
	// inactivity reaper.
	IdleSessionIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Telemetry events
// ─────────────────────────────────────────────────────────────────────────────

// Event is one append-only telemetry record. Payload is a JSON document whose
// shape depends on Kind; the store treats it as opaque.
type Event struct {
	// SessionID is the session the event belongs to. Empty for events not
	// tied to a session.
	SessionID string `json:"session_id,omitempty"`

	// Seq is the per-session emission sequence. Together with SessionID it
	// orders events without relying on clock precision.
	Seq int64 `json:"seq,omitempty"`

	// Kind discriminates the payload shape, e.g. "message_exchange".
	Kind string `json:"kind"`

	// Payload is the JSON-encoded event body.
	Payload []byte `json:"payload"`

	// Timestamp is the emission time.
	Timestamp time.Time `json:"ts"`
}

// EventSink is the append-only telemetry log.
type EventSink interface {
	// Append records one event. Append failures must not disturb request
	// handling; callers log and continue.
	Append(ctx context.Context, ev Event) error

	// EventsSince returns events of the given kind recorded at or after
	// since, oldest first, capped at limit. A limit of 0 applies an
	// implementation default.
	EventsSince(ctx context.Context, kind string, since time.Time, limit int) ([]Event, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Documents
// ─────────────────────────────────────────────────────────────────────────────

// DocStore holds small JSON documents addressed by (collection, key).
// Put semantics are upsert; documents are replaced whole.
type DocStore interface {
	// PutDoc stores doc under (collection, key), replacing any previous value.
	PutDoc(ctx context.Context, collection, key string, doc []byte) error

	// GetDoc retrieves the document at (collection, key). Returns
	// [ErrNotFound] when absent.
	GetDoc(ctx context.Context, collection, key string) ([]byte, error)

	// ListDocs returns all documents in the collection keyed by their key.
	// Returns an empty (non-nil) map when the collection is empty.
	ListDocs(ctx context.Context, collection string) (map[string][]byte, error)
}
