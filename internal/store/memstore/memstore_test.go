package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/store"
)

func newSession(id string) *conversation.ConversationState {
	return conversation.NewState(id, conversation.CustomerProfile{Name: "Ana"}, time.Unix(1700000000, 0))
}

// TestCreateAndLoad verifies the create/load round trip and version advance.
func TestCreateAndLoad(t *testing.T) {
	s := New()
	ctx := context.Background()
	st := newSession("s-1")

	if err := s.Create(ctx, st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Version != 1 {
		t.Errorf("expected caller's version advanced to 1, got %d", st.Version)
	}

	got, err := s.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SessionID != "s-1" || got.Version != 1 {
		t.Errorf("unexpected loaded state: id=%s version=%d", got.SessionID, got.Version)
	}
}

// TestCreate_Duplicate verifies duplicate ids are rejected.
func TestCreate_Duplicate(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Create(ctx, newSession("s-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Create(ctx, newSession("s-1")); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

// TestLoad_NotFound verifies the sentinel for missing sessions.
func TestLoad_NotFound(t *testing.T) {
	s := New()
	if _, err := s.Load(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestSave_OptimisticConflict verifies a stale version loses the race.
func TestSave_OptimisticConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	st := newSession("s-1")
	if err := s.Create(ctx, st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := s.Load(ctx, "s-1")
	b, _ := s.Load(ctx, "s-1")

	a.AppendMessage(conversation.RoleUser, "hola", "c-1", time.Now())
	if err := s.Save(ctx, a); err != nil {
		t.Fatalf("unexpected error on first save: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("expected version 2 after save, got %d", a.Version)
	}

	b.AppendMessage(conversation.RoleUser, "otra", "c-2", time.Now())
	if err := s.Save(ctx, b); !errors.Is(err, store.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	// The losing writer reloads and retries.
	b2, _ := s.Load(ctx, "s-1")
	b2.AppendMessage(conversation.RoleUser, "otra", "c-2", time.Now())
	if err := s.Save(ctx, b2); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
}

// TestSave_MissingSession verifies saving an uncreated session fails.
func TestSave_MissingSession(t *testing.T) {
	s := New()
	st := newSession("ghost")
	if err := s.Save(context.Background(), st); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestLoad_ReturnsCopy verifies mutations of a loaded state never leak into
// the store.
func TestLoad_ReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	st := newSession("s-1")
	if err := s.Create(ctx, st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := s.Load(ctx, "s-1")
	a.AppendMessage(conversation.RoleUser, "no guardado", "c-1", time.Now())

	b, _ := s.Load(ctx, "s-1")
	if len(b.Transcript) != 0 {
		t.Errorf("unsaved mutation leaked into store: %d messages", len(b.Transcript))
	}
}

// TestIdleSessionIDs verifies idle filtering skips terminated and active sessions.
func TestIdleSessionIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	idle := conversation.NewState("idle-1", conversation.CustomerProfile{}, base)
	active := conversation.NewState("active-1", conversation.CustomerProfile{}, base.Add(time.Hour))
	done := conversation.NewState("done-1", conversation.CustomerProfile{}, base)
	done.Terminate(conversation.OutcomeLost, "closed", base)

	for _, st := range []*conversation.ConversationState{idle, active, done} {
		if err := s.Create(ctx, st); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ids, err := s.IdleSessionIDs(ctx, base.Add(30*time.Minute), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "idle-1" {
		t.Errorf("expected only idle-1, got %v", ids)
	}
}

// TestEvents_RoundTrip verifies append and filtered read-back.
func TestEvents_RoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	events := []store.Event{
		{SessionID: "s-1", Seq: 1, Kind: "message_exchange", Payload: []byte(`{"a":1}`), Timestamp: base},
		{SessionID: "s-1", Seq: 2, Kind: "conversation_outcome", Payload: []byte(`{"b":2}`), Timestamp: base.Add(time.Minute)},
		{SessionID: "s-2", Seq: 1, Kind: "message_exchange", Payload: []byte(`{"c":3}`), Timestamp: base.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		if err := s.Append(ctx, ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := s.EventsSince(ctx, "message_exchange", base.Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "s-2" {
		t.Errorf("unexpected events: %+v", got)
	}
}

// TestDocs_RoundTrip verifies put/get/list and the not-found sentinel.
func TestDocs_RoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.PutDoc(ctx, store.CollectionModels, "tier", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.PutDoc(ctx, store.CollectionModels, "tier", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	doc, err := s.GetDoc(ctx, store.CollectionModels, "tier")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(doc) != `{"v":2}` {
		t.Errorf("expected upsert to replace doc, got %s", doc)
	}

	if _, err := s.GetDoc(ctx, store.CollectionModels, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	all, err := s.ListDocs(ctx, store.CollectionModels)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 doc, got %d", len(all))
	}
}

// TestConcurrentSaves verifies exactly one writer wins each version under
// contention.
func TestConcurrentSaves(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Create(ctx, newSession("s-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.Load(ctx, "s-1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			st.AppendMessage(conversation.RoleUser, "x", "", time.Now())
			if err := s.Save(ctx, st); errors.Is(err, store.ErrVersionConflict) {
				mu.Lock()
				conflicts++
				mu.Unlock()
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	final, err := s.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wins := int(final.Version) - 1
	if wins+conflicts != writers {
		t.Errorf("expected wins+conflicts=%d, got %d wins and %d conflicts", writers, wins, conflicts)
	}
	if wins < 1 {
		t.Error("expected at least one writer to win")
	}
}
