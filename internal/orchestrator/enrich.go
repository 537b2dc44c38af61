package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cierra-ai/cierra/internal/cache"
	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/emotion"
	"github.com/cierra-ai/cierra/internal/models"
	"github.com/cierra-ai/cierra/internal/predict"
)

// timed wraps one enrichment stage's result with its latency.
type timed[T any] struct {
	val T
	err error
	dur time.Duration
}

// runStage executes fn under the per-stage deadline in its own goroutine and
// returns the channel carrying the single owned result. The buffer guarantees
// an abandoned stage never leaks its goroutine.
func runStage[T any](ctx context.Context, deadline time.Duration, fn func(context.Context) (T, error)) <-chan timed[T] {
	out := make(chan timed[T], 1)
	go func() {
		sctx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		start := time.Now()
		v, err := fn(sctx)
		out <- timed[T]{val: v, err: err, dur: time.Since(start)}
	}()
	return out
}

// collect waits for one stage result until the fan-in barrier expires.
func collect[T any](bctx context.Context, ch <-chan timed[T]) (timed[T], bool) {
	select {
	case r := <-ch:
		return r, true
	case <-bctx.Done():
		return timed[T]{}, false
	}
}

// enrichment is everything the analysis fan-out produced for one turn.
type enrichment struct {
	emotion conversation.EmotionSnapshot
	tierOK  bool
	tier    conversation.TierDecision

	objection  predict.Prediction
	needs      predict.Prediction
	conversion predict.Prediction
	action     predict.Prediction

	// features is the shared extraction this turn's predictions saw, reused
	// by telemetry so training and drift read the serving representation.
	features map[string]float64

	latencies map[string]int64
	degraded  bool
}

// predictions returns the four predictions keyed by model id.
func (e *enrichment) predictions() map[string]predict.Prediction {
	return map[string]predict.Prediction{
		models.ModelObjection:  e.objection,
		models.ModelNeeds:      e.needs,
		models.ModelConversion: e.conversion,
		models.ModelNextAction: e.action,
	}
}

// enrich fans out the six analysis stages and joins whatever finished by the
// barrier; the rest get fallback substitutes and mark the turn degraded. The
// state must already hold the tentative user message. Enrichment never
// mutates state; results are applied by the caller after the join.
func (o *Orchestrator) enrich(ctx context.Context, state *conversation.ConversationState, userText string, now time.Time) enrichment {
	in := predict.FromState(state, now)

	enr := enrichment{latencies: make(map[string]int64, 6)}
	fingerprint := ""
	if o.predictors != nil {
		enr.features = o.predictors.Extractor().Extract(in)
		fingerprint = predict.Fingerprint(enr.features)
	}

	previous := previousUserTexts(state)
	engagement := state.EngagementScore(now)
	profile := state.Profile

	tierKey := ""
	if o.cache != nil {
		tierKey = cache.Key(state.SessionID, state.TranscriptPrefixHash())
	}

	emoCh := runStage(ctx, o.stageDeadline, func(context.Context) (conversation.EmotionSnapshot, error) {
		return o.emotion.Analyze(userText, previous, now), nil
	})
	tierCh := runStage(ctx, o.stageDeadline, func(sctx context.Context) (conversation.TierDecision, error) {
		if d, ok := o.cachedTier(sctx, tierKey); ok {
			return d, nil
		}
		d := o.tier.Analyze(profile, userText, engagement, now)
		o.storeTier(sctx, tierKey, d)
		return d, nil
	})
	objCh := o.runPredictor(ctx, models.ModelObjection, fingerprint, in)
	needsCh := o.runPredictor(ctx, models.ModelNeeds, fingerprint, in)
	convCh := o.runPredictor(ctx, models.ModelConversion, fingerprint, in)
	actionCh := o.runPredictor(ctx, models.ModelNextAction, fingerprint, in)

	bctx, cancel := context.WithTimeout(ctx, o.barrier)
	defer cancel()

	if r, ok := collect(bctx, emoCh); ok {
		enr.emotion = r.val
		enr.latencies["emotion"] = r.dur.Milliseconds()
	} else {
		enr.emotion = conversation.EmotionSnapshot{
			PrimaryEmotion: emotion.EmotionNeutral,
			Timestamp:      now,
		}
		enr.degraded = true
		enr.latencies["emotion"] = o.barrier.Milliseconds()
	}

	if r, ok := collect(bctx, tierCh); ok {
		enr.tier = r.val
		enr.tierOK = true
		enr.latencies["tier"] = r.dur.Milliseconds()
	} else {
		enr.degraded = true
		enr.latencies["tier"] = o.barrier.Milliseconds()
	}

	enr.objection = o.collectPrediction(bctx, models.ModelObjection, objCh, in, &enr)
	enr.needs = o.collectPrediction(bctx, models.ModelNeeds, needsCh, in, &enr)
	enr.conversion = o.collectPrediction(bctx, models.ModelConversion, convCh, in, &enr)
	enr.action = o.collectPrediction(bctx, models.ModelNextAction, actionCh, in, &enr)

	return enr
}

// runPredictor runs one model stage, memoizing model-path outputs in the
// prediction namespace keyed by (model id, inputs fingerprint). Fallback
// predictions are never cached, so a recovered model is consulted again.
func (o *Orchestrator) runPredictor(ctx context.Context, modelID, fingerprint string, in predict.Inputs) <-chan timed[predict.Prediction] {
	return runStage(ctx, o.stageDeadline, func(sctx context.Context) (predict.Prediction, error) {
		if p, ok := o.cachedPrediction(sctx, modelID, fingerprint); ok {
			return p, nil
		}
		pr, ok := o.predictors.Get(modelID)
		if !ok {
			return predict.Prediction{}, fmt.Errorf("orchestrator: no predictor for %s", modelID)
		}
		p, err := pr.Predict(sctx, in)
		if err == nil && !p.Degraded {
			o.storePrediction(sctx, modelID, fingerprint, p)
		}
		return p, err
	})
}

// cachedPrediction serves a memoized model output for the same inputs. The
// model is deterministic over its feature vector, so an unexpired entry is
// exactly what the model path would recompute; a promotion changes outputs at
// most one prediction TTL late.
func (o *Orchestrator) cachedPrediction(ctx context.Context, modelID, fingerprint string) (predict.Prediction, bool) {
	if o.cache == nil || fingerprint == "" {
		return predict.Prediction{}, false
	}
	raw, ok, err := o.cache.Get(ctx, cache.NSPrediction, cache.Key(modelID, fingerprint))
	if err != nil || !ok {
		return predict.Prediction{}, false
	}
	var p predict.Prediction
	if json.Unmarshal(raw, &p) != nil || p.ModelID != modelID {
		return predict.Prediction{}, false
	}
	return p, true
}

func (o *Orchestrator) storePrediction(ctx context.Context, modelID, fingerprint string, p predict.Prediction) {
	if o.cache == nil || fingerprint == "" {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := o.cache.Set(ctx, cache.NSPrediction, cache.Key(modelID, fingerprint), raw); err != nil {
		slog.Debug("prediction cache failed", "model", modelID, "error", err)
	}
}

// cachedTier serves the tier decision previously computed for the same
// user-message prefix of this session.
func (o *Orchestrator) cachedTier(ctx context.Context, key string) (conversation.TierDecision, bool) {
	if o.cache == nil || key == "" {
		return conversation.TierDecision{}, false
	}
	raw, ok, err := o.cache.Get(ctx, cache.NSTierDecision, key)
	if err != nil || !ok {
		return conversation.TierDecision{}, false
	}
	var d conversation.TierDecision
	if json.Unmarshal(raw, &d) != nil || d.Detected == "" {
		return conversation.TierDecision{}, false
	}
	return d, true
}

func (o *Orchestrator) storeTier(ctx context.Context, key string, d conversation.TierDecision) {
	if o.cache == nil || key == "" || d.Detected == "" {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := o.cache.Set(ctx, cache.NSTierDecision, key, raw); err != nil {
		slog.Debug("tier decision cache failed", "error", err)
	}
}

// collectPrediction joins one predictor stage, substituting the rule
// fallback when the stage failed or missed the barrier.
func (o *Orchestrator) collectPrediction(bctx context.Context, modelID string, ch <-chan timed[predict.Prediction], in predict.Inputs, enr *enrichment) predict.Prediction {
	if r, ok := collect(bctx, ch); ok && r.err == nil {
		enr.latencies[modelID] = r.dur.Milliseconds()
		if r.val.Degraded {
			enr.degraded = true
		}
		return r.val
	}
	enr.degraded = true
	enr.latencies[modelID] = o.barrier.Milliseconds()
	if p, ok := o.predictors.Get(modelID); ok {
		return p.Fallback(in)
	}
	return predict.Prediction{
		ModelID:      modelID,
		ModelVersion: predict.FallbackVersion,
		Degraded:     true,
	}
}

// previousUserTexts returns the user texts before the current message,
// oldest first, for the emotion recency window.
func previousUserTexts(state *conversation.ConversationState) []string {
	msgs := state.LastUserMessages(4)
	if len(msgs) <= 1 {
		return nil
	}
	msgs = msgs[:len(msgs)-1]
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
	}
	return texts
}
