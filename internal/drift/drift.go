// Package drift watches the predictive models for data and performance drift
// against their promotion baselines.
//
// Every check rebuilds the rolling tracking window and compares, per model,
// the live output score distribution and each shared feature distribution
// with the baseline reservoirs: the two-sample Kolmogorov-Smirnov statistic
// with its asymptotic p-value, the population stability index over
// baseline-decile bins, and the realized accuracy delta. The worst signal
// sets the report severity; high and critical severities mark the model as
// requiring retraining, which the [Scheduler] forwards to the retraining
// queue.
//
// Models that never had a baseline (fresh seeds) get one captured from the
// first sufficiently large window, so drift judgments always have a
// reference.
package drift

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cierra-ai/cierra/internal/models"
	"github.com/cierra-ai/cierra/internal/store"
	"github.com/cierra-ai/cierra/internal/tracking"
)

// Severity grades how far a model has drifted.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severity thresholds. PSI reuses the classification bounds from stats.go;
// accuracy drops are absolute (0.05 is five percentage points).
const (
	psiHighAt = 0.15
	psiLowAt  = 0.05

	dropCriticalAt = 0.10
	dropHighAt     = 0.05
	dropMediumAt   = 0.02

	pValueMediumAt = 0.05
	pValueLowAt    = 0.10
)

// DefaultMinSamples is the smallest model-path window a check will judge.
const DefaultMinSamples = 50

// Classify maps drift signals to a severity: the maximum PSI over all tested
// distributions, the realized accuracy drop (ignored unless known), and the
// KS p-value of the output distribution.
func Classify(maxPSI, accuracyDrop float64, accuracyKnown bool, outputPValue float64) Severity {
	return classifyAt(maxPSI, accuracyDrop, accuracyKnown, outputPValue, psiHighAt, dropHighAt)
}

// classifyAt runs the severity ladder with the high rung at the given cut
// points. The critical rung keeps its default distance above the high rung
// so a recalibrated threshold moves both together.
func classifyAt(maxPSI, accuracyDrop float64, accuracyKnown bool, outputPValue, psiHigh, dropHigh float64) Severity {
	psiCritical := psiHigh + (psiSignificantAt - psiHighAt)
	dropCritical := dropHigh + (dropCriticalAt - dropHighAt)
	switch {
	case maxPSI >= psiCritical || (accuracyKnown && accuracyDrop >= dropCritical):
		return SeverityCritical
	case maxPSI >= psiHigh || (accuracyKnown && accuracyDrop >= dropHigh):
		return SeverityHigh
	case maxPSI >= psiModerateAt || (accuracyKnown && accuracyDrop >= dropMediumAt) || outputPValue < pValueMediumAt:
		return SeverityMedium
	case maxPSI >= psiLowAt || (accuracyKnown && accuracyDrop > 0) || outputPValue < pValueLowAt:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// TestResult is the drift comparison of one distribution against its
// baseline reservoir.
type TestResult struct {
	Name      string  `json:"name"`
	KS        float64 `json:"ks"`
	PValue    float64 `json:"p_value"`
	PSI       float64 `json:"psi"`
	PSILevel  string  `json:"psi_level"`
	BaselineN int     `json:"baseline_n"`
	WindowN   int     `json:"window_n"`
}

// Report is one model's drift judgment over one window.
type Report struct {
	ModelID      string    `json:"model_id"`
	ModelVersion string    `json:"model_version"`
	GeneratedAt  time.Time `json:"generated_at"`
	WindowFrom   time.Time `json:"window_from"`
	WindowTo     time.Time `json:"window_to"`

	Samples  int `json:"samples"`
	Degraded int `json:"degraded,omitempty"`

	Output   *TestResult  `json:"output,omitempty"`
	Features []TestResult `json:"features,omitempty"`

	BaselineAccuracy float64 `json:"baseline_accuracy,omitempty"`
	WindowAccuracy   float64 `json:"window_accuracy,omitempty"`
	AccuracyResolved int     `json:"accuracy_resolved,omitempty"`
	AccuracyDrop     float64 `json:"accuracy_drop,omitempty"`

	MaxPSI float64 `json:"max_psi"`

	Severity           Severity `json:"severity"`
	RequiresRetraining bool     `json:"requires_retraining"`

	// Insufficient marks a window too small to judge; nothing was compared.
	Insufficient bool `json:"insufficient_data,omitempty"`

	// BaselineEstablished marks a run that captured the model's first
	// baseline instead of comparing against one.
	BaselineEstablished bool `json:"baseline_established,omitempty"`
}

// StoredBaseline is the persisted envelope of one model baseline in
// [store.CollectionBaselines].
type StoredBaseline struct {
	ModelID      string          `json:"model_id"`
	ModelVersion string          `json:"model_version"`
	Baseline     models.Baseline `json:"baseline"`
}

// Option configures a [Detector].
type Option func(*Detector)

// WithDocStore enables baseline bootstrap and report persistence.
func WithDocStore(docs store.DocStore) Option {
	return func(d *Detector) {
		d.docs = docs
	}
}

// WithMinSamples overrides the smallest judgeable window. Defaults to
// [DefaultMinSamples].
func WithMinSamples(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.minSamples = n
		}
	}
}

// WithThresholds recalibrates the high-severity cut points: psi is the
// population stability index and drop the absolute accuracy loss (0.05 is
// five percentage points) at which a model is marked as requiring
// retraining. Zero keeps the respective default.
func WithThresholds(psi, drop float64) Option {
	return func(d *Detector) {
		if psi > 0 {
			d.psiHigh = psi
		}
		if drop > 0 {
			d.dropHigh = drop
		}
	}
}

// Detector evaluates drift for every registered model.
//
// Safe for concurrent use as long as the aggregator and stores are.
type Detector struct {
	registry   *models.Registry
	agg        *tracking.Aggregator
	docs       store.DocStore
	minSamples int
	psiHigh    float64
	dropHigh   float64
}

// NewDetector creates a detector over the given registry and tracking
// aggregator.
func NewDetector(registry *models.Registry, agg *tracking.Aggregator, opts ...Option) *Detector {
	d := &Detector{
		registry:   registry,
		agg:        agg,
		minSamples: DefaultMinSamples,
		psiHigh:    psiHighAt,
		dropHigh:   dropHighAt,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check aggregates the window ending at now and evaluates every registered
// model, persisting each report when a document store is configured.
// Persistence failures are logged; the reports are still returned.
func (d *Detector) Check(ctx context.Context, now time.Time) ([]*Report, error) {
	window, err := d.agg.Window(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("drift: aggregate window: %w", err)
	}

	reports := make([]*Report, 0, len(models.ModelIDs))
	for _, id := range models.ModelIDs {
		art, ok := d.registry.Current(id)
		if !ok {
			continue
		}
		rep := d.evaluate(ctx, art, window.Models[id], window)
		d.persistReport(ctx, rep)
		reports = append(reports, rep)
	}
	return reports, nil
}

func (d *Detector) evaluate(ctx context.Context, art *models.Artifact, w *tracking.ModelWindow, window *tracking.WindowReport) *Report {
	rep := &Report{
		ModelID:      art.ModelID,
		ModelVersion: art.Version,
		GeneratedAt:  window.To,
		WindowFrom:   window.From,
		WindowTo:     window.To,
		Severity:     SeverityNone,
	}
	if w == nil {
		rep.Insufficient = true
		return rep
	}
	rep.Samples = w.Samples
	rep.Degraded = w.Degraded

	if w.Samples-w.Degraded < d.minSamples {
		rep.Insufficient = true
		return rep
	}

	baseline := d.baseline(ctx, art)
	if baseline == nil || len(baseline.Outputs) == 0 {
		d.establishBaseline(ctx, art, w, window)
		rep.BaselineEstablished = true
		return rep
	}

	output := compare("output", baseline.Outputs, w.Outputs)
	rep.Output = &output
	rep.MaxPSI = output.PSI

	for _, name := range comparableFeatures(baseline.Features, window.Features) {
		res := compare(name, baseline.Features[name], window.Features[name])
		rep.Features = append(rep.Features, res)
		if res.PSI > rep.MaxPSI {
			rep.MaxPSI = res.PSI
		}
	}

	rep.BaselineAccuracy = baseline.Accuracy
	rep.AccuracyResolved = w.Resolved
	acc, resolved := w.Accuracy()
	if resolved {
		rep.WindowAccuracy = acc
	}
	accuracyKnown := resolved && baseline.Accuracy > 0
	if accuracyKnown {
		rep.AccuracyDrop = baseline.Accuracy - acc
	}

	rep.Severity = classifyAt(rep.MaxPSI, rep.AccuracyDrop, accuracyKnown, output.PValue, d.psiHigh, d.dropHigh)
	rep.RequiresRetraining = rep.Severity == SeverityHigh || rep.Severity == SeverityCritical
	return rep
}

func compare(name string, baseline, window []float64) TestResult {
	ks, p := KolmogorovSmirnov(baseline, window)
	psi := PSI(baseline, window)
	return TestResult{
		Name:      name,
		KS:        ks,
		PValue:    p,
		PSI:       psi,
		PSILevel:  PSILevel(psi),
		BaselineN: len(baseline),
		WindowN:   len(window),
	}
}

// comparableFeatures lists the features present in both reservoirs, sorted
// for stable report order.
func comparableFeatures(baseline, window map[string][]float64) []string {
	names := make([]string, 0, len(baseline))
	for name, vals := range baseline {
		if len(vals) > 0 && len(window[name]) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// baseline returns the model's reference distribution: the artifact's own
// baseline when it carries one, else the persisted bootstrap.
func (d *Detector) baseline(ctx context.Context, art *models.Artifact) *models.Baseline {
	if art.Baseline != nil && len(art.Baseline.Outputs) > 0 {
		return art.Baseline
	}
	if d.docs == nil {
		return nil
	}
	doc, err := d.docs.GetDoc(ctx, store.CollectionBaselines, art.ModelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		slog.Warn("drift: load baseline", "model_id", art.ModelID, "error", err)
		return nil
	}
	var stored StoredBaseline
	if err := json.Unmarshal(doc, &stored); err != nil {
		slog.Warn("drift: decode baseline", "model_id", art.ModelID, "error", err)
		return nil
	}
	return &stored.Baseline
}

// establishBaseline captures the current window as the model's first
// reference distribution so subsequent checks have one to compare against.
func (d *Detector) establishBaseline(ctx context.Context, art *models.Artifact, w *tracking.ModelWindow, window *tracking.WindowReport) {
	if d.docs == nil {
		return
	}
	bl := models.Baseline{
		Outputs:    append([]float64(nil), w.Outputs...),
		Features:   make(map[string][]float64, len(window.Features)),
		CapturedAt: window.To,
	}
	if acc, ok := w.Accuracy(); ok {
		bl.Accuracy = acc
	}
	for name, vals := range window.Features {
		bl.Features[name] = append([]float64(nil), vals...)
	}
	if err := SaveBaseline(ctx, d.docs, art.ModelID, art.Version, bl); err != nil {
		slog.Warn("drift: establish baseline", "model_id", art.ModelID, "error", err)
		return
	}
	slog.Info("drift: baseline established", "model_id", art.ModelID, "model_version", art.Version, "outputs", len(bl.Outputs))
}

// SaveBaseline persists the reference distribution for a model. Retraining
// calls it after every promotion; the detector calls it once to bootstrap
// models that never had one.
func SaveBaseline(ctx context.Context, docs store.DocStore, modelID, version string, bl models.Baseline) error {
	doc, err := json.Marshal(StoredBaseline{ModelID: modelID, ModelVersion: version, Baseline: bl})
	if err != nil {
		return fmt.Errorf("drift: encode baseline %s: %w", modelID, err)
	}
	if err := docs.PutDoc(ctx, store.CollectionBaselines, modelID, doc); err != nil {
		return fmt.Errorf("drift: persist baseline %s: %w", modelID, err)
	}
	return nil
}

func (d *Detector) persistReport(ctx context.Context, rep *Report) {
	if d.docs == nil {
		return
	}
	doc, err := json.Marshal(rep)
	if err != nil {
		slog.Warn("drift: encode report", "model_id", rep.ModelID, "error", err)
		return
	}
	key := rep.ModelID + "@" + rep.GeneratedAt.UTC().Format(time.RFC3339)
	if err := d.docs.PutDoc(ctx, store.CollectionDriftReports, key, doc); err != nil {
		slog.Warn("drift: persist report", "model_id", rep.ModelID, "error", err)
	}
}
