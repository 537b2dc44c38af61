// Package predict implements the four predictive models consulted on every
// user message: objection tags, ranked need tags, conversion probability, and
// the next best action.
//
// Each predictor has two paths sharing one deterministic feature extraction:
//
//   - Model path: a sparse linear artifact from the model registry scores the
//     feature vector (sigmoid for per-tag probabilities and conversion,
//     arg-max with softmax confidence for actions).
//   - Fallback path: rule-based keyword matching through the lexicon matcher
//     (conversion falls back to phase weight x engagement, next best action
//     to {continue, 0.5}). Fallback predictions carry Degraded=true and the
//     version "rules-v0".
//
// The orchestrator calls Predict under a per-predictor deadline and
// substitutes Fallback on timeout or breaker rejection. A predictor disabled
// by configuration serves its fallback permanently. Predictors never depend
// on one another's output; they share only the Inputs snapshot.
//
// All types are safe for concurrent use.
package predict

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/lexicon"
	"github.com/cierra-ai/cierra/internal/models"
)

// FallbackVersion is the model_version recorded for rule-based predictions.
const FallbackVersion = "rules-v0"

const (
	// objectionThreshold is the sigmoid cutoff above which a tag is predicted.
	objectionThreshold = 0.5

	// needThreshold admits softer hits; needs are ranked, not asserted.
	needThreshold = 0.35

	// maxNeedTags caps the ranked need list.
	maxNeedTags = 3

	fallbackHitConfidence  = 0.6
	fallbackMissConfidence = 0.3

	// conversionFallbackConfidence reflects how much to trust the phase
	// times engagement heuristic.
	conversionFallbackConfidence = 0.4

	fallbackActionConfidence = 0.5
)

// conversionPhaseWeights drives the conversion fallback heuristic. Phases
// absent from the map (TERMINAL) weigh zero.
var conversionPhaseWeights = map[conversation.Phase]float64{
	conversation.PhaseDiscovery: 0.15,
	conversation.PhaseAnalysis:  0.35,
	conversation.PhaseFocused:   0.55,
	conversation.PhaseObjection: 0.45,
	conversation.PhaseClosing:   0.80,
}

// Prediction is the outcome of one predictor call. Tags, Probability and
// Action are populated according to the model; Output is the canonical text
// rendering recorded in the predictions log.
type Prediction struct {
	ModelID      string
	ModelVersion string
	Output       string
	Tags         []string
	Probability  float64
	Action       string
	Confidence   float64
	Degraded     bool
	InputsHash   string
}

// Record converts the prediction into a bounded-log entry.
func (p Prediction) Record(latency time.Duration, now time.Time) conversation.PredictionRecord {
	return conversation.PredictionRecord{
		ModelID:      p.ModelID,
		ModelVersion: p.ModelVersion,
		InputsHash:   p.InputsHash,
		Output:       p.Output,
		Confidence:   p.Confidence,
		Degraded:     p.Degraded,
		LatencyMS:    latency.Milliseconds(),
		Timestamp:    now,
	}
}

// Predictor is one of the four models. Predict runs the model path and fails
// only on cancellation or a missing artifact; Fallback is pure computation
// and always succeeds.
type Predictor interface {
	ModelID() string
	Predict(ctx context.Context, in Inputs) (Prediction, error)
	Fallback(in Inputs) Prediction
}

var (
	_ Predictor = (*ObjectionPredictor)(nil)
	_ Predictor = (*NeedsPredictor)(nil)
	_ Predictor = (*ConversionPredictor)(nil)
	_ Predictor = (*NextActionPredictor)(nil)
)

// base carries what every predictor needs.
type base struct {
	id        string
	registry  *models.Registry
	extractor *Extractor
	enabled   bool
}

// ModelID returns the model identifier.
func (b *base) ModelID() string { return b.id }

// load fetches the current artifact and computes the feature vector,
// honoring cancellation before and after extraction.
func (b *base) load(ctx context.Context, in Inputs) (*models.Artifact, map[string]float64, string, error) {
	if ctx.Err() != nil {
		return nil, nil, "", fmt.Errorf("predict: %s: %w", b.id, context.Cause(ctx))
	}
	art, ok := b.registry.Current(b.id)
	if !ok {
		return nil, nil, "", fmt.Errorf("predict: %s: %w", b.id, models.ErrUnknownModel)
	}
	f := b.extractor.Extract(in)
	if ctx.Err() != nil {
		return nil, nil, "", fmt.Errorf("predict: %s: %w", b.id, context.Cause(ctx))
	}
	return art, f, Fingerprint(f), nil
}

// ObjectionPredictor predicts the set of objection tags present in the
// recent messages.
type ObjectionPredictor struct{ base }

// Predict scores every objection tag and returns those whose probability
// clears the threshold. Confidence is the best predicted probability, or the
// certainty that no objection is present when none clears.
func (p *ObjectionPredictor) Predict(ctx context.Context, in Inputs) (Prediction, error) {
	if !p.enabled {
		return p.Fallback(in), nil
	}
	art, f, hash, err := p.load(ctx, in)
	if err != nil {
		return Prediction{}, err
	}

	var tags []string
	var best, top float64
	for _, tag := range art.Labels {
		prob := sigmoid(art.Score(tag, f))
		if prob > best {
			best = prob
		}
		if prob >= objectionThreshold {
			tags = append(tags, tag)
			if prob > top {
				top = prob
			}
		}
	}
	conf := 1 - best
	if len(tags) > 0 {
		conf = top
	}
	return Prediction{
		ModelID:      p.id,
		ModelVersion: art.Version,
		Output:       renderTags(tags),
		Tags:         tags,
		Confidence:   conf,
		InputsHash:   hash,
	}, nil
}

// Fallback returns the objection tags whose keyword vocabulary matched the
// recent messages.
func (p *ObjectionPredictor) Fallback(in Inputs) Prediction {
	f := p.extractor.Extract(in)
	var tags []string
	for _, tag := range models.ObjectionTags {
		if f["objection:"+tag] == 1 {
			tags = append(tags, tag)
		}
	}
	conf := fallbackMissConfidence
	if len(tags) > 0 {
		conf = fallbackHitConfidence
	}
	return Prediction{
		ModelID:      p.id,
		ModelVersion: FallbackVersion,
		Output:       renderTags(tags),
		Tags:         tags,
		Confidence:   conf,
		Degraded:     true,
		InputsHash:   Fingerprint(f),
	}
}

// NeedsPredictor ranks the customer's need tags over the whole transcript.
type NeedsPredictor struct{ base }

// Predict scores every need tag and returns up to three, ranked by
// probability; equal probabilities keep canonical order.
func (p *NeedsPredictor) Predict(ctx context.Context, in Inputs) (Prediction, error) {
	if !p.enabled {
		return p.Fallback(in), nil
	}
	art, f, hash, err := p.load(ctx, in)
	if err != nil {
		return Prediction{}, err
	}

	type scored struct {
		tag  string
		prob float64
	}
	var ranked []scored
	var best float64
	for _, tag := range art.Labels {
		prob := sigmoid(art.Score(tag, f))
		if prob > best {
			best = prob
		}
		if prob >= needThreshold {
			ranked = append(ranked, scored{tag, prob})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].prob > ranked[j].prob })
	if len(ranked) > maxNeedTags {
		ranked = ranked[:maxNeedTags]
	}

	tags := make([]string, len(ranked))
	for i, s := range ranked {
		tags[i] = s.tag
	}
	conf := 1 - best
	if len(ranked) > 0 {
		conf = ranked[0].prob
	}
	return Prediction{
		ModelID:      p.id,
		ModelVersion: art.Version,
		Output:       renderTags(tags),
		Tags:         tags,
		Confidence:   conf,
		InputsHash:   hash,
	}, nil
}

// Fallback returns the need tags whose keyword vocabulary matched anywhere in
// the transcript, in canonical order.
func (p *NeedsPredictor) Fallback(in Inputs) Prediction {
	f := p.extractor.Extract(in)
	var tags []string
	for _, tag := range models.NeedTags {
		if f["need:"+tag] == 1 {
			tags = append(tags, tag)
		}
	}
	if len(tags) > maxNeedTags {
		tags = tags[:maxNeedTags]
	}
	conf := fallbackMissConfidence
	if len(tags) > 0 {
		conf = fallbackHitConfidence
	}
	return Prediction{
		ModelID:      p.id,
		ModelVersion: FallbackVersion,
		Output:       renderTags(tags),
		Tags:         tags,
		Confidence:   conf,
		Degraded:     true,
		InputsHash:   Fingerprint(f),
	}
}

// ConversionPredictor estimates the probability this session converts.
type ConversionPredictor struct{ base }

// Predict applies the logistic link to the converted-label score. Confidence
// is the certainty of the binary call, max(p, 1-p).
func (p *ConversionPredictor) Predict(ctx context.Context, in Inputs) (Prediction, error) {
	if !p.enabled {
		return p.Fallback(in), nil
	}
	art, f, hash, err := p.load(ctx, in)
	if err != nil {
		return Prediction{}, err
	}

	prob := sigmoid(art.Score(models.LabelConverted, f))
	return Prediction{
		ModelID:      p.id,
		ModelVersion: art.Version,
		Output:       renderProbability(prob),
		Probability:  prob,
		Confidence:   math.Max(prob, 1-prob),
		InputsHash:   hash,
	}, nil
}

// Fallback estimates conversion as phase weight times engagement.
func (p *ConversionPredictor) Fallback(in Inputs) Prediction {
	f := p.extractor.Extract(in)
	prob := conversionPhaseWeights[in.Phase] * clamp01(in.Engagement)
	return Prediction{
		ModelID:      p.id,
		ModelVersion: FallbackVersion,
		Output:       renderProbability(prob),
		Probability:  prob,
		Confidence:   conversionFallbackConfidence,
		Degraded:     true,
		InputsHash:   Fingerprint(f),
	}
}

// NextActionPredictor picks the agent's next move: continue, ask, offer,
// close, or transfer.
type NextActionPredictor struct{ base }

// Predict scores the five actions and arg-maxes; ties keep the earlier
// canonical action. Confidence is the winner's softmax share.
func (p *NextActionPredictor) Predict(ctx context.Context, in Inputs) (Prediction, error) {
	if !p.enabled {
		return p.Fallback(in), nil
	}
	art, f, hash, err := p.load(ctx, in)
	if err != nil {
		return Prediction{}, err
	}

	scores := make([]float64, len(art.Labels))
	bestIdx := 0
	for i, action := range art.Labels {
		scores[i] = art.Score(action, f)
		if scores[i] > scores[bestIdx] {
			bestIdx = i
		}
	}
	action := art.Labels[bestIdx]
	return Prediction{
		ModelID:      p.id,
		ModelVersion: art.Version,
		Output:       action,
		Action:       action,
		Confidence:   softmaxProb(scores, bestIdx),
		InputsHash:   hash,
	}, nil
}

// Fallback always continues the conversation.
func (p *NextActionPredictor) Fallback(in Inputs) Prediction {
	f := p.extractor.Extract(in)
	return Prediction{
		ModelID:      p.id,
		ModelVersion: FallbackVersion,
		Output:       models.ActionContinue,
		Action:       models.ActionContinue,
		Confidence:   fallbackActionConfidence,
		Degraded:     true,
		InputsHash:   Fingerprint(f),
	}
}

// Option is a functional option for configuring a [Set].
type Option func(*setConfig)

type setConfig struct {
	matcher  *lexicon.Matcher
	disabled map[string]bool
}

// WithMatcher replaces the lexicon matcher used for all vocabulary scans.
func WithMatcher(m *lexicon.Matcher) Option {
	return func(c *setConfig) {
		c.matcher = m
	}
}

// WithDisabled forces the named models onto their fallback path permanently.
func WithDisabled(modelIDs ...string) Option {
	return func(c *setConfig) {
		for _, id := range modelIDs {
			c.disabled[id] = true
		}
	}
}

// Set bundles the four predictors over a shared extractor and registry.
type Set struct {
	extractor  *Extractor
	predictors []Predictor
	byID       map[string]Predictor
}

// NewSet creates the predictor set backed by the given registry.
func NewSet(registry *models.Registry, opts ...Option) *Set {
	cfg := setConfig{disabled: make(map[string]bool)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.matcher == nil {
		cfg.matcher = lexicon.New()
	}

	ex := NewExtractor(cfg.matcher)
	mk := func(id string) base {
		return base{id: id, registry: registry, extractor: ex, enabled: !cfg.disabled[id]}
	}
	s := &Set{
		extractor: ex,
		predictors: []Predictor{
			&ObjectionPredictor{mk(models.ModelObjection)},
			&NeedsPredictor{mk(models.ModelNeeds)},
			&ConversionPredictor{mk(models.ModelConversion)},
			&NextActionPredictor{mk(models.ModelNextAction)},
		},
		byID: make(map[string]Predictor, 4),
	}
	for _, p := range s.predictors {
		s.byID[p.ModelID()] = p
	}
	return s
}

// All returns the predictors in canonical order.
func (s *Set) All() []Predictor {
	return append([]Predictor(nil), s.predictors...)
}

// Get returns the predictor for a model id.
func (s *Set) Get(modelID string) (Predictor, bool) {
	p, ok := s.byID[modelID]
	return p, ok
}

// Extractor exposes the shared feature extractor, reused by drift detection
// and retraining so features stay consistent across the pipeline.
func (s *Set) Extractor() *Extractor {
	return s.extractor
}

func renderTags(tags []string) string {
	if len(tags) == 0 {
		return "none"
	}
	return strings.Join(tags, ",")
}

func renderProbability(p float64) string {
	return strconv.FormatFloat(p, 'f', 4, 64)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// softmaxProb returns the softmax probability of scores[idx], shifted by the
// maximum for numeric stability.
func softmaxProb(scores []float64, idx int) float64 {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	var sum float64
	for _, s := range scores {
		sum += math.Exp(s - max)
	}
	return math.Exp(scores[idx]-max) / sum
}
