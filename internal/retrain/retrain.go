// Package retrain closes the ML feedback loop. It consumes drift reports,
// refits model artifacts from the rolling tracking window, gates every
// candidate on a holdout replay against the incumbent, and promotes
// survivors through the model registry with a fresh monitoring baseline.
//
// A single worker goroutine drains the queue, so at most one refit runs at
// a time and promotions are serialized.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cierra-ai/cierra/internal/drift"
	"github.com/cierra-ai/cierra/internal/models"
	"github.com/cierra-ai/cierra/internal/store"
	"github.com/cierra-ai/cierra/internal/tracking"
)

const (
	// DefaultQueueSize bounds the number of jobs waiting for the worker.
	DefaultQueueSize = 16

	// DefaultMinSamples is the smallest training window a refit accepts.
	DefaultMinSamples = 50

	// DefaultHoldoutFraction is the share of window samples withheld from
	// the trainer and replayed by the gate.
	DefaultHoldoutFraction = 0.2

	// gateMargin is the holdout accuracy regression, in absolute terms,
	// at which a candidate is rejected.
	gateMargin = 0.02
)

// ErrInsufficientSamples reports a window too small to train and gate on.
var ErrInsufficientSamples = errors.New("retrain: insufficient samples")

// ErrGateRejected reports a candidate that regressed on the holdout.
var ErrGateRejected = errors.New("retrain: validation gate rejected candidate")

// Job asks the worker to retrain one model.
type Job struct {
	ModelID string
	Reason  string
}

// Trainer fits a candidate artifact from window samples. The incumbent is
// read-only; implementations return a new artifact with weights, bias, and
// labels populated. Version, TrainedAt, and the baseline are stamped by the
// worker after the gate passes.
type Trainer interface {
	Train(base *models.Artifact, samples []tracking.TrainingSample) (*models.Artifact, error)
}

// Option configures a [Worker].
type Option func(*Worker)

// WithTrainer replaces the default [GradientTrainer].
func WithTrainer(t Trainer) Option {
	return func(w *Worker) {
		if t != nil {
			w.trainer = t
		}
	}
}

// WithDocStore enables baseline persistence after every promotion, keeping
// the drift detector's stored baseline in step with the live model.
func WithDocStore(docs store.DocStore) Option {
	return func(w *Worker) {
		w.docs = docs
	}
}

// WithMinSamples overrides [DefaultMinSamples].
func WithMinSamples(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.minSamples = n
		}
	}
}

// WithQueueSize overrides [DefaultQueueSize].
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithHoldoutFraction overrides [DefaultHoldoutFraction]. Fractions outside
// (0, 0.5] keep the default.
func WithHoldoutFraction(f float64) Option {
	return func(w *Worker) {
		if f > 0 && f <= 0.5 {
			w.holdoutFraction = f
		}
	}
}

// Worker owns the retraining queue and runs jobs one at a time. Safe for
// concurrent use.
type Worker struct {
	registry        *models.Registry
	agg             *tracking.Aggregator
	docs            store.DocStore
	trainer         Trainer
	minSamples      int
	holdoutFraction float64
	queueSize       int

	queue   chan Job
	trained atomic.Int64

	mu      sync.Mutex
	pending map[string]bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker builds a worker over the given registry and tracking window.
func NewWorker(registry *models.Registry, agg *tracking.Aggregator, opts ...Option) *Worker {
	w := &Worker{
		registry:        registry,
		agg:             agg,
		trainer:         GradientTrainer{},
		minSamples:      DefaultMinSamples,
		holdoutFraction: DefaultHoldoutFraction,
		queueSize:       DefaultQueueSize,
		pending:         make(map[string]bool),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan Job, w.queueSize)
	return w
}

// Enqueue hands a job to the worker without blocking. It reports false when
// the model already has a job pending or the queue is full; either way the
// next drift check re-fires, so dropped jobs are not retried here.
func (w *Worker) Enqueue(job Job) bool {
	if job.ModelID == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending[job.ModelID] {
		return false
	}
	select {
	case w.queue <- job:
		w.pending[job.ModelID] = true
		return true
	default:
		slog.Warn("retrain: queue full, dropping job", "model_id", job.ModelID, "reason", job.Reason)
		return false
	}
}

// Notify adapts [Worker.Enqueue] to the drift scheduler's callback shape.
func (w *Worker) Notify(rep *drift.Report) {
	if rep == nil {
		return
	}
	w.Enqueue(Job{ModelID: rep.ModelID, Reason: "drift:" + string(rep.Severity)})
}

// Start launches the worker goroutine.
func (w *Worker) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop terminates the worker goroutine. Idempotent. In-flight work finishes;
// queued jobs are discarded.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case job := <-w.queue:
			w.clearPending(job.ModelID)
			if err := w.Process(ctx, job); err != nil {
				slog.Warn("retrain: job failed",
					"model_id", job.ModelID, "reason", job.Reason, "error", err)
			}
		}
	}
}

func (w *Worker) clearPending(modelID string) {
	w.mu.Lock()
	delete(w.pending, modelID)
	w.mu.Unlock()
}

// Process runs one retraining job to completion: window extraction, refit,
// holdout gate, promotion, re-baseline. Any error leaves the registry
// untouched.
func (w *Worker) Process(ctx context.Context, job Job) error {
	base, ok := w.registry.Current(job.ModelID)
	if !ok {
		return fmt.Errorf("retrain: %s: %w", job.ModelID, models.ErrUnknownModel)
	}
	now := time.Now().UTC()
	report, err := w.agg.Window(ctx, now)
	if err != nil {
		return fmt.Errorf("retrain: %s: window: %w", job.ModelID, err)
	}
	var samples []tracking.TrainingSample
	if mw := report.Models[job.ModelID]; mw != nil {
		samples = mw.Training
	}
	if len(samples) < w.minSamples {
		return fmt.Errorf("retrain: %s: %w: %d of %d",
			job.ModelID, ErrInsufficientSamples, len(samples), w.minSamples)
	}
	train, holdout := split(samples, w.holdoutFraction)
	if len(train) == 0 || len(holdout) == 0 {
		return fmt.Errorf("retrain: %s: %w: window cannot be split", job.ModelID, ErrInsufficientSamples)
	}

	candidate, err := w.trainer.Train(base, train)
	if err != nil {
		return fmt.Errorf("retrain: %s: train: %w", job.ModelID, err)
	}
	candidate.Version = w.nextVersion(now)
	candidate.TrainedAt = now

	incumbentAcc, _ := evaluate(base, holdout)
	candidateAcc, ok := evaluate(candidate, holdout)
	if !ok {
		return fmt.Errorf("retrain: %s: %w: empty holdout", job.ModelID, ErrInsufficientSamples)
	}
	if incumbentAcc-candidateAcc >= gateMargin {
		return fmt.Errorf("%w: %s holdout %.3f, incumbent %.3f",
			ErrGateRejected, job.ModelID, candidateAcc, incumbentAcc)
	}

	candidate.Baseline = capture(candidate, samples, candidateAcc, now)
	if err := w.registry.Promote(ctx, candidate); err != nil {
		return fmt.Errorf("retrain: %s: promote: %w", job.ModelID, err)
	}
	if w.docs != nil {
		if err := drift.SaveBaseline(ctx, w.docs, candidate.ModelID, candidate.Version, *candidate.Baseline); err != nil {
			slog.Warn("retrain: persist baseline", "model_id", job.ModelID, "error", err)
		}
	}
	slog.Info("retrain: model promoted",
		"model_id", job.ModelID,
		"version", candidate.Version,
		"reason", job.Reason,
		"train", len(train),
		"holdout", len(holdout),
		"holdout_accuracy", candidateAcc,
		"incumbent_accuracy", incumbentAcc)
	return nil
}

// nextVersion builds a sortable version string. The counter breaks ties when
// several promotions land in the same second.
func (w *Worker) nextVersion(now time.Time) string {
	return fmt.Sprintf("%s-r%d", now.Format("20060102-150405"), w.trained.Add(1))
}
