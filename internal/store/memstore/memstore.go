// Package memstore provides an in-process implementation of the store
// interfaces. It backs single-node runs and tests; nothing survives a
// process restart.
//
// All operations are safe for concurrent use via an internal [sync.RWMutex].
// Sessions are stored and handed out as deep copies, so callers never alias
// the stored state.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/store"
)

// Compile-time interface checks.
var (
	_ store.SessionStore = (*Store)(nil)
	_ store.EventSink    = (*Store)(nil)
	_ store.DocStore     = (*Store)(nil)
)

// defaultEventLimit caps EventsSince results when the caller passes 0.
const defaultEventLimit = 10000

// Store is the in-memory store. The zero value is not usable; construct with
// [New].
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*conversation.ConversationState
	events   []store.Event
	docs     map[string]map[string][]byte // collection -> key -> doc
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*conversation.ConversationState),
		docs:     make(map[string]map[string][]byte),
	}
}

// Create implements [store.SessionStore].
func (s *Store) Create(ctx context.Context, state *conversation.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[state.SessionID]; ok {
		return store.ErrAlreadyExists
	}
	state.Version = 1
	s.sessions[state.SessionID] = state.Clone()
	return nil
}

// Load implements [store.SessionStore].
func (s *Store) Load(ctx context.Context, sessionID string) (*conversation.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st.Clone(), nil
}

// Save implements [store.SessionStore].
func (s *Store) Save(ctx context.Context, state *conversation.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[state.SessionID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != state.Version {
		return store.ErrVersionConflict
	}
	state.Version++
	s.sessions[state.SessionID] = state.Clone()
	return nil
}

// IdleSessionIDs implements [store.SessionStore].
func (s *Store) IdleSessionIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, st := range s.sessions {
		if st.Terminated() || !st.LastActivityAt.Before(cutoff) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Append implements [store.EventSink].
func (s *Store) Append(ctx context.Context, ev store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.Payload = append([]byte(nil), ev.Payload...)
	s.events = append(s.events, ev)
	return nil
}

// EventsSince implements [store.EventSink].
func (s *Store) EventsSince(ctx context.Context, kind string, since time.Time, limit int) ([]store.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultEventLimit
	}
	out := []store.Event{}
	for _, ev := range s.events {
		if ev.Kind != kind || ev.Timestamp.Before(since) {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// PutDoc implements [store.DocStore].
func (s *Store) PutDoc(ctx context.Context, collection, key string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string][]byte)
		s.docs[collection] = coll
	}
	coll[key] = append([]byte(nil), doc...)
	return nil
}

// GetDoc implements [store.DocStore].
func (s *Store) GetDoc(ctx context.Context, collection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[collection][key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), doc...), nil
}

// ListDocs implements [store.DocStore].
func (s *Store) ListDocs(ctx context.Context, collection string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte, len(s.docs[collection]))
	for k, v := range s.docs[collection] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}
