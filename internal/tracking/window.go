package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/models"
	"github.com/cierra-ai/cierra/internal/store"
)

// DefaultWindow is the rolling aggregation span.
const DefaultWindow = 24 * time.Hour

// reservoirCap bounds every value reservoir kept per window, matching the
// baseline reservoirs captured at promotion time.
const reservoirCap = 2000

// TrainingSample is one exchange from a finished session usable for
// retraining: the feature vector and the realized truth per label.
type TrainingSample struct {
	Features map[string]float64
	Truth    map[string]bool
}

// ModelWindow aggregates one model over the rolling window.
//
// Outputs, OutputCounts, MeanConfidence and the accuracy counters cover
// model-path samples only; fallback samples are rule output, so mixing them
// in would mask or fake drift of the model itself. Training holds resolved
// samples from finished sessions, fallback exchanges included, since truth
// comes from observation rather than from the serving path.
type ModelWindow struct {
	ModelID string

	// Samples counts every prediction served, fallback included; Degraded
	// counts the fallback share of those.
	Samples  int
	Degraded int

	// Versions counts model-path samples per serving version.
	Versions map[string]int

	Outputs        []float64
	OutputCounts   map[string]int
	MeanConfidence float64

	// Resolved and Accurate track realized accuracy where outcomes are
	// known; Accuracy derives the ratio.
	Resolved int
	Accurate int

	Training []TrainingSample

	confidenceSum float64
}

// Accuracy returns the realized accuracy over resolved samples, or false
// when nothing resolved within the window.
func (w *ModelWindow) Accuracy() (float64, bool) {
	if w.Resolved == 0 {
		return 0, false
	}
	return float64(w.Accurate) / float64(w.Resolved), true
}

func (w *ModelWindow) addTraining(features map[string]float64, truth map[string]bool) {
	if len(w.Training) >= reservoirCap {
		return
	}
	w.Training = append(w.Training, TrainingSample{Features: features, Truth: truth})
}

func (w *ModelWindow) resolve(accurate bool) {
	w.Resolved++
	if accurate {
		w.Accurate++
	}
}

// WindowReport is the aggregate over one rolling window: per-model windows
// plus the shared feature reservoirs. Features are extracted once per
// exchange, not per model, so they live beside the models rather than inside
// each one.
type WindowReport struct {
	From, To time.Time

	Exchanges int
	Outcomes  int

	Models map[string]*ModelWindow

	Features map[string][]float64
}

// AggregatorOption configures an [Aggregator].
type AggregatorOption func(*Aggregator)

// WithWindow sets the rolling window span. Defaults to [DefaultWindow].
func WithWindow(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithFetchLimit caps how many events per kind one aggregation fetches. Zero
// applies the sink's default.
func WithFetchLimit(n int) AggregatorOption {
	return func(a *Aggregator) {
		a.limit = n
	}
}

// Aggregator builds rolling [WindowReport] snapshots from the tracking sink.
// It dedupes replayed events on (session_id, event_seq) and tolerates
// undecodable payloads by skipping them.
//
// Safe for concurrent use as long as the sink is.
type Aggregator struct {
	sink   store.EventSink
	window time.Duration
	limit  int
}

// NewAggregator creates an aggregator reading from sink.
func NewAggregator(sink store.EventSink, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{sink: sink, window: DefaultWindow}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Span returns the configured window span.
func (a *Aggregator) Span() time.Duration { return a.window }

// timeline is one session's events inside the window, exchanges ordered by
// event_seq.
type timeline struct {
	exchanges []MessageExchange
	outcome   *ConversationOutcome
}

// Window aggregates the events of the window ending at now.
func (a *Aggregator) Window(ctx context.Context, now time.Time) (*WindowReport, error) {
	since := now.Add(-a.window)

	sessions, exchanges, err := a.loadExchanges(ctx, since)
	if err != nil {
		return nil, err
	}
	outcomes, err := a.loadOutcomes(ctx, since, sessions)
	if err != nil {
		return nil, err
	}

	report := &WindowReport{
		From:      since,
		To:        now,
		Exchanges: exchanges,
		Outcomes:  outcomes,
		Models:    make(map[string]*ModelWindow, len(models.ModelIDs)),
		Features:  make(map[string][]float64),
	}
	for _, id := range models.ModelIDs {
		report.Models[id] = newModelWindow(id)
	}

	for _, tl := range sessions {
		a.aggregateSession(report, tl)
	}

	for _, w := range report.Models {
		if n := w.Samples - w.Degraded; n > 0 {
			w.MeanConfidence = w.confidenceSum / float64(n)
		}
	}
	return report, nil
}

func (a *Aggregator) loadExchanges(ctx context.Context, since time.Time) (map[string]*timeline, int, error) {
	events, err := a.sink.EventsSince(ctx, KindMessageExchange, since, a.limit)
	if err != nil {
		return nil, 0, fmt.Errorf("tracking: window exchanges: %w", err)
	}

	sessions := make(map[string]*timeline)
	seen := make(map[string]map[int64]bool)
	count := 0
	for _, ev := range events {
		if seen[ev.SessionID][ev.Seq] {
			continue
		}
		var ex MessageExchange
		if err := json.Unmarshal(ev.Payload, &ex); err != nil {
			slog.Warn("tracking: skip undecodable exchange", "session_id", ev.SessionID, "seq", ev.Seq, "error", err)
			continue
		}
		if seen[ev.SessionID] == nil {
			seen[ev.SessionID] = make(map[int64]bool)
		}
		seen[ev.SessionID][ev.Seq] = true

		tl := sessions[ev.SessionID]
		if tl == nil {
			tl = &timeline{}
			sessions[ev.SessionID] = tl
		}
		tl.exchanges = append(tl.exchanges, ex)
		count++
	}
	for _, tl := range sessions {
		sort.Slice(tl.exchanges, func(i, j int) bool {
			return tl.exchanges[i].EventSeq < tl.exchanges[j].EventSeq
		})
	}
	return sessions, count, nil
}

func (a *Aggregator) loadOutcomes(ctx context.Context, since time.Time, sessions map[string]*timeline) (int, error) {
	events, err := a.sink.EventsSince(ctx, KindConversationOutcome, since, a.limit)
	if err != nil {
		return 0, fmt.Errorf("tracking: window outcomes: %w", err)
	}

	count := 0
	for _, ev := range events {
		tl := sessions[ev.SessionID]
		if tl == nil || tl.outcome != nil {
			continue
		}
		var out ConversationOutcome
		if err := json.Unmarshal(ev.Payload, &out); err != nil {
			slog.Warn("tracking: skip undecodable outcome", "session_id", ev.SessionID, "seq", ev.Seq, "error", err)
			continue
		}
		tl.outcome = &out
		count++
	}
	return count, nil
}

// aggregateSession folds one session's timeline into the report: sample
// counters, reservoirs, realized accuracy and training truth.
func (a *Aggregator) aggregateSession(report *WindowReport, tl *timeline) {
	later := laterObjections(tl.exchanges)
	out := tl.outcome
	terminal := out != nil
	converted := terminal && out.Outcome == string(conversation.OutcomeConverted)

	for i, ex := range tl.exchanges {
		for name, v := range ex.Features {
			if vals := report.Features[name]; len(vals) < reservoirCap {
				report.Features[name] = append(vals, v)
			}
		}

		for id, sample := range ex.Predictions {
			w := report.Models[id]
			if w == nil {
				w = newModelWindow(id)
				report.Models[id] = w
			}
			w.Samples++
			if sample.Degraded {
				w.Degraded++
				continue
			}
			w.Versions[sample.ModelVersion]++
			w.confidenceSum += sample.Confidence
			w.OutputCounts[sample.Output]++
			if len(w.Outputs) < reservoirCap {
				w.Outputs = append(w.Outputs, outputScore(id, sample))
			}

			switch id {
			case models.ModelObjection:
				resolveObjection(w, sample, later[i], terminal)
			case models.ModelConversion:
				if terminal {
					w.resolve((sample.Probability >= 0.5) == converted)
				}
			}
		}

		if terminal && len(ex.Features) > 0 {
			report.Models[models.ModelObjection].addTraining(ex.Features, truthFromSet(models.ObjectionTags, later[i]))
			report.Models[models.ModelConversion].addTraining(ex.Features, map[string]bool{models.LabelConverted: converted})
			report.Models[models.ModelNeeds].addTraining(ex.Features, truthFromList(models.NeedTags, out.Metrics.ObservedNeeds))
		}
	}

	if terminal && len(tl.exchanges) > 0 {
		resolveFinal(report, tl.exchanges, out)
	}
}

// resolveFinal scores the needs and next-best-action models. Both are
// cumulative recommendations, so only the last model-path sample of the
// session is comparable to the outcome proxies.
func resolveFinal(report *WindowReport, exchanges []MessageExchange, out *ConversationOutcome) {
	last := exchanges[len(exchanges)-1]

	if sample, ok := lastModelSample(exchanges, models.ModelNeeds); ok {
		report.Models[models.ModelNeeds].resolve(tagsOverlap(sample.Tags, out.Metrics.ObservedNeeds))
	}
	if target := out.Metrics.TargetAction; target != "" {
		if sample, ok := lastModelSample(exchanges, models.ModelNextAction); ok {
			report.Models[models.ModelNextAction].resolve(sample.Action == target)
		}
		if len(last.Features) > 0 {
			report.Models[models.ModelNextAction].addTraining(last.Features, truthFromList(models.Actions, []string{target}))
		}
	}
}

// resolveObjection scores one objection sample. A tagged prediction is
// accurate when any predicted tag is observed later in the session, and
// wrong when the session finished without that happening. An empty
// prediction resolves only once the session is terminal: accurate when no
// objection followed.
func resolveObjection(w *ModelWindow, sample PredictionSample, later map[string]bool, terminal bool) {
	if len(sample.Tags) == 0 {
		if terminal {
			w.resolve(len(later) == 0)
		}
		return
	}
	for _, tag := range sample.Tags {
		if later[tag] {
			w.resolve(true)
			return
		}
	}
	if terminal {
		w.resolve(false)
	}
}

// laterObjections returns, per exchange index, the objection tags evidenced
// strictly after that exchange.
func laterObjections(exchanges []MessageExchange) []map[string]bool {
	later := make([]map[string]bool, len(exchanges))
	acc := make(map[string]bool)
	for i := len(exchanges) - 1; i >= 0; i-- {
		snapshot := make(map[string]bool, len(acc))
		for tag := range acc {
			snapshot[tag] = true
		}
		later[i] = snapshot
		for _, tag := range observedObjections(exchanges[i].Features) {
			acc[tag] = true
		}
	}
	return later
}

// lastModelSample returns the newest non-fallback sample for the model.
func lastModelSample(exchanges []MessageExchange, modelID string) (PredictionSample, bool) {
	for i := len(exchanges) - 1; i >= 0; i-- {
		if sample, ok := exchanges[i].Predictions[modelID]; ok && !sample.Degraded {
			return sample, true
		}
	}
	return PredictionSample{}, false
}

func newModelWindow(id string) *ModelWindow {
	return &ModelWindow{
		ModelID:      id,
		Versions:     make(map[string]int),
		OutputCounts: make(map[string]int),
	}
}

// outputScore is the numeric drift stream of one sample: the predicted
// probability for the conversion model, the confidence elsewhere. Baseline
// reservoirs captured at promotion use the same definition.
func outputScore(modelID string, s PredictionSample) float64 {
	if modelID == models.ModelConversion {
		return s.Probability
	}
	return s.Confidence
}

// observedObjections extracts the objection tags evidenced in a feature
// vector, canonical order.
func observedObjections(features map[string]float64) []string {
	var tags []string
	for _, tag := range models.ObjectionTags {
		if features["objection:"+tag] == 1 {
			tags = append(tags, tag)
		}
	}
	return tags
}

// ObservedNeeds extracts the need tags evidenced in a feature vector,
// canonical order. The orchestrator records them in the outcome metrics so
// needs accuracy can be resolved later.
func ObservedNeeds(features map[string]float64) []string {
	var tags []string
	for _, tag := range models.NeedTags {
		if features["need:"+tag] == 1 {
			tags = append(tags, tag)
		}
	}
	return tags
}

// TargetActionFor maps a terminal outcome to the action it vindicates. Lost
// and abandoned sessions vindicate none.
func TargetActionFor(outcome conversation.Outcome) string {
	switch outcome {
	case conversation.OutcomeConverted:
		return models.ActionClose
	case conversation.OutcomeTransferred:
		return models.ActionTransfer
	default:
		return ""
	}
}

func tagsOverlap(predicted, observed []string) bool {
	if len(predicted) == 0 && len(observed) == 0 {
		return true
	}
	set := make(map[string]bool, len(observed))
	for _, tag := range observed {
		set[tag] = true
	}
	for _, tag := range predicted {
		if set[tag] {
			return true
		}
	}
	return false
}

func truthFromSet(labels []string, set map[string]bool) map[string]bool {
	truth := make(map[string]bool, len(labels))
	for _, label := range labels {
		truth[label] = set[label]
	}
	return truth
}

func truthFromList(labels []string, positives []string) map[string]bool {
	set := make(map[string]bool, len(positives))
	for _, p := range positives {
		set[p] = true
	}
	return truthFromSet(labels, set)
}
