package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cierra-ai/cierra/internal/store"
	"github.com/cierra-ai/cierra/internal/store/memstore"
)

// failSink rejects every append and returns nothing on reads.
type failSink struct{ err error }

func (f *failSink) Append(context.Context, store.Event) error { return f.err }

func (f *failSink) EventsSince(context.Context, string, time.Time, int) ([]store.Event, error) {
	return nil, f.err
}

func TestTee_AppendReachesBothSinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	primary := memstore.New()
	secondary := memstore.New()
	sink := store.Tee(primary, secondary)

	ev := store.Event{
		SessionID: "s-1",
		Seq:       1,
		Kind:      "message_exchange",
		Payload:   []byte(`{"phase":"DISCOVERY"}`),
		Timestamp: time.Now().UTC(),
	}
	if err := sink.Append(ctx, ev); err != nil {
		t.Fatalf("Append: %v", err)
	}

	for name, s := range map[string]store.EventSink{"primary": primary, "secondary": secondary} {
		got, err := s.EventsSince(ctx, "message_exchange", time.Time{}, 0)
		if err != nil {
			t.Fatalf("EventsSince(%s): %v", name, err)
		}
		if len(got) != 1 {
			t.Errorf("%s holds %d events, want 1", name, len(got))
		}
	}
}

func TestTee_ReadsFromPrimaryOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	primary := memstore.New()
	sink := store.Tee(primary, &failSink{err: errors.New("disk full")})

	if err := primary.Append(ctx, store.Event{Kind: "outcome", Timestamp: time.Now()}); err != nil {
		t.Fatalf("seed primary: %v", err)
	}

	got, err := sink.EventsSince(ctx, "outcome", time.Time{}, 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("EventsSince returned %d events, want the primary's 1", len(got))
	}
}

func TestTee_PartialFailureStillWritesHealthySink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	primary := memstore.New()
	sinkErr := errors.New("disk full")
	sink := store.Tee(primary, &failSink{err: sinkErr})

	err := sink.Append(ctx, store.Event{Kind: "outcome", Timestamp: time.Now()})
	if !errors.Is(err, sinkErr) {
		t.Fatalf("Append error = %v, want the secondary failure surfaced", err)
	}

	got, err := primary.EventsSince(ctx, "outcome", time.Time{}, 0)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("primary holds %d events, want the write to have landed", len(got))
	}
}
