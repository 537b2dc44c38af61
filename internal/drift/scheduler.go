package drift

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCheckInterval is the period between scheduled drift checks.
const DefaultCheckInterval = time.Hour

// SchedulerOption configures a [Scheduler].
type SchedulerOption func(*Scheduler)

// WithInterval overrides the check period. Defaults to
// [DefaultCheckInterval].
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithNotify registers a callback invoked for every report that requires
// retraining. The retraining queue hooks in here.
func WithNotify(fn func(*Report)) SchedulerOption {
	return func(s *Scheduler) {
		s.notify = fn
	}
}

// WithOnReport registers a callback invoked for every conclusive report,
// whatever its severity. The drift severity gauge hooks in here.
func WithOnReport(fn func(*Report)) SchedulerOption {
	return func(s *Scheduler) {
		s.onReport = fn
	}
}

// Scheduler runs periodic drift checks over all models.
//
// Safe for concurrent use.
type Scheduler struct {
	detector *Detector
	interval time.Duration
	notify   func(*Report)
	onReport func(*Report)

	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler around the detector.
func NewScheduler(detector *Detector, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		detector: detector,
		interval: DefaultCheckInterval,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins periodic checking in a background goroutine. The goroutine
// runs until [Scheduler.Stop] is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop halts the check loop. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// CheckNow runs one immediate check, forwarding retraining-worthy reports to
// the notify callback.
func (s *Scheduler) CheckNow(ctx context.Context) ([]*Report, error) {
	reports, err := s.detector.Check(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	for _, rep := range reports {
		if rep.Insufficient || rep.BaselineEstablished {
			continue
		}
		if s.onReport != nil {
			s.onReport(rep)
		}
		if rep.Severity != SeverityNone {
			slog.Info("drift detected",
				"model_id", rep.ModelID,
				"severity", rep.Severity,
				"max_psi", rep.MaxPSI,
				"accuracy_drop", rep.AccuracyDrop,
				"requires_retraining", rep.RequiresRetraining,
			)
		}
		if rep.RequiresRetraining && s.notify != nil {
			s.notify(rep)
		}
	}
	return reports, nil
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := s.CheckNow(ctx); err != nil {
				slog.Warn("scheduled drift check failed", "error", err)
			}
		}
	}
}
