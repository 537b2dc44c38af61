package retrain_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cierra-ai/cierra/internal/drift"
	"github.com/cierra-ai/cierra/internal/models"
	"github.com/cierra-ai/cierra/internal/retrain"
	"github.com/cierra-ai/cierra/internal/store"
	"github.com/cierra-ai/cierra/internal/store/memstore"
	"github.com/cierra-ai/cierra/internal/tracking"
)

// seedConversionWindow records one terminal session per customer: engaged
// customers convert, disengaged ones are lost. The split is linearly
// separable on the engagement feature, and the seed artifact already
// classifies it perfectly, so a warm-started refit must pass the gate.
func seedConversionWindow(t *testing.T, sink store.EventSink, sessions int) {
	t.Helper()
	ctx := context.Background()
	tracker := tracking.NewTracker(sink)
	base := time.Now().UTC().Add(-2 * time.Hour)
	for i := 0; i < sessions; i++ {
		id := fmt.Sprintf("s%02d", i)
		engagement := 0.9
		outcome := "converted"
		if i >= sessions*7/12 {
			engagement = 0.1
			outcome = "lost"
		}
		tracker.Exchange(ctx, tracking.MessageExchange{
			SessionID: id,
			EventSeq:  2,
			Phase:     "CLOSING",
			Features:  map[string]float64{"engagement": engagement},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		tracker.Outcome(ctx, tracking.ConversationOutcome{
			SessionID: id,
			EventSeq:  4,
			Outcome:   outcome,
			Metrics:   tracking.OutcomeMetrics{Messages: 2, FinalPhase: "CLOSING"},
			Timestamp: base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		})
	}
}

func TestGradientTrainer_LearnsSeparableWindow(t *testing.T) {
	t.Parallel()

	base := &models.Artifact{
		ModelID: models.ModelConversion,
		Version: "wrong-v1",
		Labels:  []string{models.LabelConverted},
		Weights: map[string]map[string]float64{
			models.LabelConverted: {"engagement": -2},
		},
		Bias: map[string]float64{models.LabelConverted: 0},
	}

	samples := make([]tracking.TrainingSample, 0, 40)
	for i := 0; i < 40; i++ {
		engagement, converted := 1.0, true
		if i%2 == 1 {
			engagement, converted = 0.0, false
		}
		samples = append(samples, tracking.TrainingSample{
			Features: map[string]float64{"engagement": engagement},
			Truth:    map[string]bool{models.LabelConverted: converted},
		})
	}

	out, err := retrain.GradientTrainer{}.Train(base, samples)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if out.ModelID != models.ModelConversion {
		t.Errorf("ModelID = %q, want %q", out.ModelID, models.ModelConversion)
	}
	if got := base.Weights[models.LabelConverted]["engagement"]; got != -2 {
		t.Errorf("incumbent weight mutated: %v", got)
	}
	if w := out.Weights[models.LabelConverted]["engagement"]; w <= 0 {
		t.Errorf("engagement weight = %v, want positive after refit", w)
	}
	if s := out.Score(models.LabelConverted, map[string]float64{"engagement": 1}); s < 0.5 {
		t.Errorf("engaged score = %v, want >= 0.5", s)
	}
	if s := out.Score(models.LabelConverted, map[string]float64{"engagement": 0}); s > -0.5 {
		t.Errorf("disengaged score = %v, want <= -0.5", s)
	}
}

func TestGradientTrainer_InputValidation(t *testing.T) {
	t.Parallel()

	samples := []tracking.TrainingSample{{Features: map[string]float64{"engagement": 1}}}
	if _, err := (retrain.GradientTrainer{}).Train(nil, samples); err == nil {
		t.Error("Train(nil, samples) error = nil, want error")
	}

	base := &models.Artifact{
		ModelID: models.ModelConversion,
		Labels:  []string{models.LabelConverted},
		Weights: map[string]map[string]float64{models.LabelConverted: {}},
		Bias:    map[string]float64{},
	}
	if _, err := (retrain.GradientTrainer{}).Train(base, nil); err == nil {
		t.Error("Train(base, nil) error = nil, want error")
	}
}

func TestWorker_ProcessPromotesAndRebaselines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := memstore.New()
	registry := models.NewRegistry(models.WithDocStore(mem))
	seedConversionWindow(t, mem, 12)

	worker := retrain.NewWorker(registry, tracking.NewAggregator(mem),
		retrain.WithMinSamples(10),
		retrain.WithDocStore(mem))

	err := worker.Process(ctx, retrain.Job{ModelID: models.ModelConversion, Reason: "test"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	art, ok := registry.Current(models.ModelConversion)
	if !ok {
		t.Fatal("Current() missing conversion model")
	}
	if art.Version == models.SeedVersion || art.Version == "" {
		t.Fatalf("Version = %q, want a new version after promotion", art.Version)
	}
	if w := art.Weights[models.LabelConverted]["engagement"]; w <= 1.8 {
		t.Errorf("engagement weight = %v, want sharpened above the seed's 1.8", w)
	}
	if art.Baseline == nil {
		t.Fatal("promoted artifact has no baseline")
	}
	if got := art.Baseline.Accuracy; got != 1 {
		t.Errorf("Baseline.Accuracy = %v, want 1", got)
	}
	if got := len(art.Baseline.Outputs); got != 12 {
		t.Errorf("len(Baseline.Outputs) = %d, want 12", got)
	}
	if got := len(art.Baseline.Features["engagement"]); got != 12 {
		t.Errorf("len(Baseline.Features[engagement]) = %d, want 12", got)
	}
	if art.Baseline.CapturedAt.IsZero() {
		t.Error("Baseline.CapturedAt is zero")
	}

	archived := registry.Archived(models.ModelConversion)
	if len(archived) != 1 || archived[0].Version != models.SeedVersion {
		t.Errorf("Archived() = %d artifacts, want the seed archived", len(archived))
	}

	doc, err := mem.GetDoc(ctx, store.CollectionBaselines, models.ModelConversion)
	if err != nil {
		t.Fatalf("GetDoc(baselines) error = %v", err)
	}
	var stored drift.StoredBaseline
	if err := json.Unmarshal(doc, &stored); err != nil {
		t.Fatalf("decode stored baseline: %v", err)
	}
	if stored.ModelVersion != art.Version {
		t.Errorf("stored baseline version = %q, want %q", stored.ModelVersion, art.Version)
	}
}

type flipTrainer struct{}

func (flipTrainer) Train(base *models.Artifact, _ []tracking.TrainingSample) (*models.Artifact, error) {
	art := base.Clone()
	for label, features := range art.Weights {
		for name, v := range features {
			art.Weights[label][name] = -v
		}
		art.Bias[label] = -art.Bias[label]
	}
	return art, nil
}

func TestWorker_GateRejectsRegression(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := memstore.New()
	registry := models.NewRegistry()
	seedConversionWindow(t, mem, 12)

	worker := retrain.NewWorker(registry, tracking.NewAggregator(mem),
		retrain.WithMinSamples(10),
		retrain.WithTrainer(flipTrainer{}))

	err := worker.Process(ctx, retrain.Job{ModelID: models.ModelConversion, Reason: "test"})
	if !errors.Is(err, retrain.ErrGateRejected) {
		t.Fatalf("Process() error = %v, want ErrGateRejected", err)
	}

	art, _ := registry.Current(models.ModelConversion)
	if art.Version != models.SeedVersion {
		t.Errorf("Version = %q, want the seed untouched after rejection", art.Version)
	}
	if got := len(registry.Archived(models.ModelConversion)); got != 0 {
		t.Errorf("Archived() = %d artifacts, want 0", got)
	}
}

func TestWorker_ProcessInsufficientSamples(t *testing.T) {
	t.Parallel()

	worker := retrain.NewWorker(models.NewRegistry(), tracking.NewAggregator(memstore.New()))
	err := worker.Process(context.Background(), retrain.Job{ModelID: models.ModelConversion})
	if !errors.Is(err, retrain.ErrInsufficientSamples) {
		t.Fatalf("Process() error = %v, want ErrInsufficientSamples", err)
	}
}

func TestWorker_ProcessUnknownModel(t *testing.T) {
	t.Parallel()

	worker := retrain.NewWorker(models.NewRegistry(), tracking.NewAggregator(memstore.New()))
	err := worker.Process(context.Background(), retrain.Job{ModelID: "sentiment"})
	if !errors.Is(err, models.ErrUnknownModel) {
		t.Fatalf("Process() error = %v, want ErrUnknownModel", err)
	}
}

func TestWorker_EnqueueDedupes(t *testing.T) {
	t.Parallel()

	worker := retrain.NewWorker(models.NewRegistry(), tracking.NewAggregator(memstore.New()),
		retrain.WithQueueSize(1))

	if !worker.Enqueue(retrain.Job{ModelID: models.ModelConversion, Reason: "first"}) {
		t.Fatal("first Enqueue() = false, want true")
	}
	if worker.Enqueue(retrain.Job{ModelID: models.ModelConversion, Reason: "second"}) {
		t.Error("duplicate Enqueue() = true, want pending job deduped")
	}
	if worker.Enqueue(retrain.Job{ModelID: models.ModelObjection}) {
		t.Error("Enqueue() on a full queue = true, want false")
	}
	if worker.Enqueue(retrain.Job{}) {
		t.Error("Enqueue() without a model = true, want false")
	}
}

func TestWorker_NotifyEnqueues(t *testing.T) {
	t.Parallel()

	worker := retrain.NewWorker(models.NewRegistry(), tracking.NewAggregator(memstore.New()))
	worker.Notify(nil)

	worker.Notify(&drift.Report{ModelID: models.ModelObjection, Severity: drift.SeverityHigh})
	if worker.Enqueue(retrain.Job{ModelID: models.ModelObjection}) {
		t.Error("Enqueue() after Notify() = true, want the drift job already pending")
	}
}

func TestWorker_LoopProcessesDriftNotifications(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := memstore.New()
	registry := models.NewRegistry()
	seedConversionWindow(t, mem, 12)

	worker := retrain.NewWorker(registry, tracking.NewAggregator(mem),
		retrain.WithMinSamples(10))
	worker.Start(ctx)
	defer worker.Stop()

	worker.Notify(&drift.Report{
		ModelID:            models.ModelConversion,
		Severity:           drift.SeverityCritical,
		RequiresRetraining: true,
	})

	deadline := time.After(5 * time.Second)
	for {
		if art, ok := registry.Current(models.ModelConversion); ok && art.Version != models.SeedVersion {
			break
		}
		select {
		case <-deadline:
			t.Fatal("model was not promoted after drift notification")
		case <-time.After(20 * time.Millisecond):
		}
	}

	worker.Stop()
	worker.Stop()
}
