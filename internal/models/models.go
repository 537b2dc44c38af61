// Package models holds the model registry: one versioned weight artifact per
// predictive model, readable without locks on the prediction hot path.
//
// An [Artifact] is a sparse linear model: per-label feature weights plus a
// bias. The predictors in internal/predict interpret the scores (sigmoid for
// probabilities, arg-max for actions). Retraining produces a new Artifact and
// calls [Registry.Promote], which atomically swaps the current pointer,
// archives the predecessor, and persists both when a document store is
// configured. The registry is seeded with default artifacts for all models so
// the system serves predictions from first boot.
//
// Artifacts are immutable once registered: [Registry.Current] hands out the
// shared pointer, so callers must [Artifact.Clone] before modifying.
package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cierra-ai/cierra/internal/store"
)

// Model identifiers for the four predictive models.
const (
	ModelObjection  = "objection"
	ModelNeeds      = "needs"
	ModelConversion = "conversion"
	ModelNextAction = "next_best_action"
)

// ModelIDs lists every registered model in canonical order.
var ModelIDs = []string{ModelObjection, ModelNeeds, ModelConversion, ModelNextAction}

// ErrUnknownModel is returned when a model id is not registered.
var ErrUnknownModel = errors.New("models: unknown model")

// Baseline is the reference distribution captured when an artifact is
// promoted. Drift detection compares live windows against it.
type Baseline struct {
	// Outputs is a reservoir of output scores observed on the validation
	// holdout at promotion time, capped at the drift reservoir size.
	Outputs []float64 `json:"outputs,omitempty"`

	// Features holds per-feature value reservoirs from the training window,
	// capped the same way.
	Features map[string][]float64 `json:"features,omitempty"`

	// Accuracy is the validation accuracy at promotion time.
	Accuracy float64 `json:"accuracy"`

	CapturedAt time.Time `json:"captured_at"`
}

// Artifact is one trained (or seeded) model version. Weights are sparse:
// label → feature name → weight; features absent from the map weigh zero.
type Artifact struct {
	ModelID   string                        `json:"model_id"`
	Version   string                        `json:"version"`
	Labels    []string                      `json:"labels"`
	Weights   map[string]map[string]float64 `json:"weights"`
	Bias      map[string]float64            `json:"bias"`
	Baseline  *Baseline                     `json:"baseline,omitempty"`
	TrainedAt time.Time                     `json:"trained_at"`
}

// Score computes the linear score of one label over the given feature vector:
// bias plus the dot product of the label's sparse weights with the features.
func (a *Artifact) Score(label string, features map[string]float64) float64 {
	s := a.Bias[label]
	for f, w := range a.Weights[label] {
		s += w * features[f]
	}
	return s
}

// Clone returns a deep copy safe to mutate.
func (a *Artifact) Clone() *Artifact {
	cp := &Artifact{
		ModelID:   a.ModelID,
		Version:   a.Version,
		Labels:    append([]string(nil), a.Labels...),
		Weights:   make(map[string]map[string]float64, len(a.Weights)),
		Bias:      make(map[string]float64, len(a.Bias)),
		TrainedAt: a.TrainedAt,
	}
	for label, feats := range a.Weights {
		inner := make(map[string]float64, len(feats))
		for f, w := range feats {
			inner[f] = w
		}
		cp.Weights[label] = inner
	}
	for label, b := range a.Bias {
		cp.Bias[label] = b
	}
	if a.Baseline != nil {
		b := *a.Baseline
		b.Outputs = append([]float64(nil), a.Baseline.Outputs...)
		if a.Baseline.Features != nil {
			b.Features = make(map[string][]float64, len(a.Baseline.Features))
			for name, vals := range a.Baseline.Features {
				b.Features[name] = append([]float64(nil), vals...)
			}
		}
		cp.Baseline = &b
	}
	return cp
}

// Option is a functional option for configuring a [Registry].
type Option func(*Registry)

// WithDocStore enables persistence: promotions write the current artifact and
// the archived predecessor to [store.CollectionModels], and [Registry.Restore]
// loads persisted artifacts over the seeds at startup.
func WithDocStore(docs store.DocStore) Option {
	return func(r *Registry) {
		r.docs = docs
	}
}

// Registry maps model ids to their current artifact. Reads are lock-free
// through per-model atomic pointers; promotions serialize on a mutex.
//
// Safe for concurrent use.
type Registry struct {
	docs store.DocStore

	// current is fixed at construction; only the pointees swap.
	current map[string]*atomic.Pointer[Artifact]

	mu      sync.Mutex
	archive map[string][]*Artifact // predecessors, oldest first
}

// NewRegistry creates a registry seeded with the default artifacts for all
// four models.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		current: make(map[string]*atomic.Pointer[Artifact], len(ModelIDs)),
		archive: make(map[string][]*Artifact, len(ModelIDs)),
	}
	for _, art := range seededArtifacts() {
		p := new(atomic.Pointer[Artifact])
		p.Store(art)
		r.current[art.ModelID] = p
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the active artifact for the model, or false when the model
// id is not registered. The returned artifact must not be mutated.
func (r *Registry) Current(modelID string) (*Artifact, bool) {
	p, ok := r.current[modelID]
	if !ok {
		return nil, false
	}
	return p.Load(), true
}

// Versions returns the active version per model id.
func (r *Registry) Versions() map[string]string {
	out := make(map[string]string, len(r.current))
	for id, p := range r.current {
		out[id] = p.Load().Version
	}
	return out
}

// Promote installs art as the current artifact for its model, archiving the
// predecessor. When a document store is configured both are persisted; a
// persistence failure aborts the promotion and leaves the predecessor active.
func (r *Registry) Promote(ctx context.Context, art *Artifact) error {
	if art == nil || art.ModelID == "" {
		return fmt.Errorf("models: promote: missing model id")
	}
	p, ok := r.current[art.ModelID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, art.ModelID)
	}
	if art.Version == "" {
		return fmt.Errorf("models: promote %s: missing version", art.ModelID)
	}
	if len(art.Weights) == 0 {
		return fmt.Errorf("models: promote %s: empty weights", art.ModelID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := p.Load()
	if r.docs != nil {
		if err := r.persist(ctx, art.ModelID, art); err != nil {
			return err
		}
		if err := r.persist(ctx, prev.ModelID+"@"+prev.Version, prev); err != nil {
			return err
		}
	}
	p.Store(art)
	r.archive[art.ModelID] = append(r.archive[art.ModelID], prev)
	return nil
}

// Archived returns the archived predecessors for the model, oldest first.
func (r *Registry) Archived(modelID string) []*Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Artifact(nil), r.archive[modelID]...)
}

// Restore loads persisted current artifacts over the seeds. Models without a
// persisted document keep their seed. A no-op without a document store.
func (r *Registry) Restore(ctx context.Context) error {
	if r.docs == nil {
		return nil
	}
	for id, p := range r.current {
		doc, err := r.docs.GetDoc(ctx, store.CollectionModels, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("models: restore %s: %w", id, err)
		}
		var art Artifact
		if err := json.Unmarshal(doc, &art); err != nil {
			return fmt.Errorf("models: restore %s: decode: %w", id, err)
		}
		p.Store(&art)
	}
	return nil
}

func (r *Registry) persist(ctx context.Context, key string, art *Artifact) error {
	doc, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("models: encode %s: %w", key, err)
	}
	if err := r.docs.PutDoc(ctx, store.CollectionModels, key, doc); err != nil {
		return fmt.Errorf("models: persist %s: %w", key, err)
	}
	return nil
}
