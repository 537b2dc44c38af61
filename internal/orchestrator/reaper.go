package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/fault"
)

const (
	// DefaultSweepInterval is the period between idle-session sweeps.
	DefaultSweepInterval = time.Minute

	// DefaultSweepBatch caps how many sessions one sweep terminates.
	DefaultSweepBatch = 100
)

// ReaperOption configures a [Reaper].
type ReaperOption func(*Reaper)

// WithSweepInterval overrides the sweep period. Defaults to
// [DefaultSweepInterval].
func WithSweepInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithSweepBatch overrides the per-sweep session cap. Defaults to
// [DefaultSweepBatch].
func WithSweepBatch(n int) ReaperOption {
	return func(r *Reaper) {
		if n > 0 {
			r.batch = n
		}
	}
}

// Reaper terminates sessions that have been idle longer than the
// orchestrator's idle timeout, recording them as abandoned so their outcome
// still reaches the bandit and the tracking sink.
//
// Safe for concurrent use.
type Reaper struct {
	orch     *Orchestrator
	interval time.Duration
	batch    int

	done     chan struct{}
	stopOnce sync.Once
}

// NewReaper creates a reaper around the orchestrator.
func NewReaper(orch *Orchestrator, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		orch:     orch,
		interval: DefaultSweepInterval,
		batch:    DefaultSweepBatch,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins sweeping in a background goroutine. The goroutine runs until
// [Reaper.Stop] is called or ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Stop halts the sweep loop. Safe to call multiple times.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

// SweepNow terminates up to the batch cap of idle sessions and returns how
// many it ended.
func (r *Reaper) SweepNow(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-r.orch.IdleTimeout())

	ids, err := r.orch.sessions.IdleSessionIDs(ctx, cutoff, r.batch)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, id := range ids {
		if err := r.orch.EndConversation(ctx, id, conversation.OutcomeAbandoned, "inactivity timeout"); err != nil {
			if ctx.Err() != nil {
				return reaped, ctx.Err()
			}
			// A racing handler may have touched or ended the session; the
			// next sweep picks it up again if it is still idle.
			slog.Debug("idle sweep skipped session",
				"session_id", id, "kind", fault.KindOf(err), "error", err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		slog.Info("idle sessions reaped", "count", reaped, "cutoff", cutoff)
	}
	return reaped, nil
}

func (r *Reaper) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if _, err := r.SweepNow(ctx); err != nil {
				slog.Warn("idle sweep failed", "error", err)
			}
		}
	}
}
