package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cierra-ai/cierra/internal/cache"
	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/empathy"
	"github.com/cierra-ai/cierra/internal/engine"
	"github.com/cierra-ai/cierra/internal/fault"
	"github.com/cierra-ai/cierra/internal/models"
	"github.com/cierra-ai/cierra/internal/observe"
	"github.com/cierra-ai/cierra/internal/resilience"
	"github.com/cierra-ai/cierra/internal/store"
	"github.com/cierra-ai/cierra/internal/tracking"
)

// turn captures every mutation one processed message applies to its session,
// so a commit that loses the optimistic race can replay the turn onto a
// freshly loaded copy without re-running the pipeline.
type turn struct {
	sessionID string
	clientID  string
	userText  string
	truncated bool
	now       time.Time

	emotion  conversation.EmotionSnapshot
	tierOK   bool
	tier     conversation.TierDecision
	records  []conversation.PredictionRecord
	phase    conversation.Phase
	variants map[string]string

	agentText string
	agentAt   time.Time
}

// SendMessage runs one customer message through the full pipeline and
// returns the agent reply envelope.
//
// The stages, in order: admission control, validation, ingress (load plus
// idempotency), tentative user append, parallel enrichment, phase
// transition, experiment assignment, empathy composition, generation,
// post-processing, optimistic commit, telemetry. Everything up to the commit
// works on an owned copy of the session, so a failed request leaves no
// partial state behind.
func (o *Orchestrator) SendMessage(ctx context.Context, req Request) (*Reply, error) {
	const op = "orchestrator.send"

	if o.sem != nil {
		if !o.sem.TryAcquire(1) {
			o.metrics.RecordAdmissionRejection(ctx)
			return nil, fault.New(fault.KindOverloaded, op, "message pipeline at capacity")
		}
		defer o.sem.Release(1)
	}

	if req.SessionID == "" {
		return nil, fault.New(fault.KindValidation, op, "missing session id")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fault.New(fault.KindValidation, op, "empty message")
	}

	ctx, cancel := context.WithTimeout(ctx, o.requestDeadline)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, op)
	defer span.End()
	span.SetAttributes(observe.Attr("session_id", req.SessionID))

	started := time.Now()
	now := started.UTC()
	defer func() {
		o.metrics.RecordRequest(ctx, op, time.Since(started))
	}()

	state, err := o.loadSession(ctx, op, req.SessionID)
	if err != nil {
		return nil, err
	}
	if state.Terminated() {
		return nil, fault.New(fault.KindValidation, op, "conversation has ended")
	}

	userText, truncated := conversation.TruncateToTokens(text, o.tokenCap)

	if req.ClientMessageID != "" {
		rep, rerr := o.replay(ctx, state, req.ClientMessageID, userText)
		if rep != nil || rerr != nil {
			return rep, rerr
		}
	}

	// Tentative append so the enrichment stages see the current message.
	state.AppendMessage(conversation.RoleUser, userText, req.ClientMessageID, now)
	if truncated {
		state.AppendMessage(conversation.RoleSystem, conversation.TruncationNotice, "", now)
	}
	firstExchange := state.UserMessageCount() == 1

	enr := o.enrich(ctx, state, userText, now)

	state.AppendEmotion(enr.emotion)
	if enr.tierOK && enr.tier.Detected != "" {
		state.ApplyTier(enr.tier.Detected, enr.tier.Confidence, now)
	}
	preds := enr.predictions()
	records := make([]conversation.PredictionRecord, 0, len(preds))
	for _, id := range models.ModelIDs {
		p, ok := preds[id]
		if !ok {
			continue
		}
		rec := p.Record(time.Duration(enr.latencies[id])*time.Millisecond, now)
		records = append(records, rec)
		state.RecordPrediction(rec)
	}

	tierConf := 0.0
	if state.Tier != nil {
		tierConf = state.Tier.Confidence
	}
	sig := conversation.PhaseSignals{
		UserMessages:          state.UserMessageCount(),
		NeedTags:              enr.needs.Tags,
		ObjectionTags:         enr.objection.Tags,
		ObjectionConfidence:   enr.objection.Confidence,
		EmotionSignals:        enr.emotion.Signals,
		TierConfidence:        tierConf,
		ConversionProbability: enr.conversion.Probability,
		NextAction:            enr.action.Action,
	}
	if next := conversation.NextPhase(state.Phase, sig); next != state.Phase {
		if aerr := state.AdvancePhase(next); aerr == nil {
			observe.Logger(ctx).Debug("phase advanced", "session_id", state.SessionID, "phase", next)
		}
	}

	variants := o.assignVariants(ctx, state, now)

	comp := o.composer.Compose(ctx, empathy.ComposeInput{
		Phase:         state.Phase,
		FirstExchange: firstExchange,
		Emotion:       enr.emotion,
		Variants:      variants,
		Objections:    enr.objection.Tags,
		UserText:      userText,
		Profile:       state.Profile,
		Now:           now,
	})

	var facts []string
	if o.cache != nil {
		facts = empathy.TierFacts(ctx, o.cache, tierOf(state))
	}

	prompt := o.engine.BuildPrompt(engine.PromptInput{
		Phase:         state.Phase,
		FirstExchange: firstExchange,
		Profile:       state.Profile,
		Tier:          tierOf(state),
		Facts:         facts,
		Transcript:    state.Transcript,
		Composition:   comp,
	})
	res, gerr := o.engine.Generate(ctx, prompt, o.engine.Params(state.Phase, firstExchange))
	if gerr != nil {
		return nil, fault.Wrap(fault.KindTransient, op, gerr)
	}
	o.metrics.RecordLLM(ctx, res.Source, res.Latency, res.TokensUsed)
	degraded := enr.degraded || res.Degraded

	proc := o.composer.PostProcess(empathy.ProcessInput{
		Completion:    res.Text,
		Category:      comp.Category,
		Phase:         state.Phase,
		CustomerName:  state.Profile.Name,
		PreviousAgent: state.LastAgentTexts(2),
	})
	agentText := proc.Text
	if proc.Rejected {
		agentText = o.engine.Canned(state.Phase, comp.Category)
		degraded = true
		slog.Debug("completion rejected",
			"session_id", state.SessionID, "reason", proc.RejectReason)
	}
	score := o.composer.Score(agentText)
	o.metrics.RecordEmpathyScore(ctx, score)

	agentAt := time.Now().UTC()
	state.AppendMessage(conversation.RoleAgent, agentText, "", agentAt)
	seq := state.NextEventSeq()

	t := turn{
		sessionID: state.SessionID,
		clientID:  req.ClientMessageID,
		userText:  userText,
		truncated: truncated,
		now:       now,
		emotion:   enr.emotion,
		tierOK:    enr.tierOK,
		tier:      enr.tier,
		records:   records,
		phase:     state.Phase,
		variants:  variants,
		agentText: agentText,
		agentAt:   agentAt,
	}

	commitStart := time.Now()
	var replayed *Reply
	state, seq, replayed, err = o.commit(ctx, op, state, t, seq)
	if err != nil {
		return nil, err
	}
	if replayed != nil {
		return replayed, nil
	}
	enr.latencies["commit"] = time.Since(commitStart).Milliseconds()
	enr.latencies["llm"] = res.Latency.Milliseconds()
	for stage, ms := range enr.latencies {
		o.metrics.RecordStage(ctx, stage, time.Duration(ms)*time.Millisecond)
	}

	reply := &Reply{
		AgentText: agentText,
		Phase:     state.Phase,
		Tier:      tierOf(state),
		Insights: Insights{
			PredictedObjections:   enr.objection.Tags,
			PredictedNeeds:        enr.needs.Tags,
			ConversionProbability: enr.conversion.Probability,
			NextBestAction:        enr.action.Action,
			VariantIDs:            variantIDs(variants),
			EmpathyScore:          score,
			Degraded:              degraded,
		},
	}

	// Post-commit side effects are logged, never surfaced.
	o.emitExchange(ctx, state, &enr, res, score, degraded, variants, seq)
	o.cacheSession(ctx, state)
	o.cacheReply(ctx, state.SessionID, req.ClientMessageID, reply)

	if req.WithVoice && o.voice != nil {
		reply.Audio = o.synthesize(ctx, agentText)
	}

	observe.Logger(ctx).Info("message processed",
		"session_id", state.SessionID,
		"client_message_id", req.ClientMessageID,
		"phase", state.Phase,
		"source", res.Source,
		"degraded", degraded,
		"elapsed_ms", time.Since(started).Milliseconds())
	return reply, nil
}

// assignVariants draws a variant for every experiment relevant to the
// session's phase. Assignment is sticky per session; only fresh draws count
// toward the assignment metric.
func (o *Orchestrator) assignVariants(ctx context.Context, state *conversation.ConversationState, now time.Time) map[string]string {
	if o.bandit == nil {
		return nil
	}
	variants := make(map[string]string)
	for _, experimentID := range o.bandit.Relevant(state.Phase) {
		_, sticky := state.ExperimentsAssigned[experimentID]
		variant, err := o.bandit.Assign(state, experimentID, now)
		if err != nil {
			slog.Warn("variant assignment failed",
				"session_id", state.SessionID, "experiment", experimentID, "error", err)
			continue
		}
		if !sticky {
			o.metrics.RecordAssignment(ctx, experimentID, variant)
		}
		variants[experimentID] = variant
	}
	if len(variants) == 0 {
		return nil
	}
	return variants
}

// replay settles idempotency at ingress. A known client message id with
// matching text returns the previous reply envelope; with different text it
// is a conflict. (nil, nil) means the message is new.
func (o *Orchestrator) replay(ctx context.Context, state *conversation.ConversationState, clientID, userText string) (*Reply, error) {
	const op = "orchestrator.send"

	var original *conversation.Message
	for i := len(state.Transcript) - 1; i >= 0; i-- {
		if state.Transcript[i].Role == conversation.RoleUser && state.Transcript[i].ClientMessageID == clientID {
			msg := state.Transcript[i]
			original = &msg
			break
		}
	}
	if original == nil {
		return nil, nil
	}
	if original.Text != userText {
		return nil, fault.New(fault.KindConflict, op, "client message id reused with different text")
	}

	key := conversation.IdempotencyKey(state.SessionID, clientID)
	if o.cache != nil {
		if raw, ok, err := o.cache.Get(ctx, cache.NSIdempotency, key); err == nil && ok {
			var rep Reply
			if json.Unmarshal(raw, &rep) == nil {
				rep.Replayed = true
				return &rep, nil
			}
		}
	}
	if text, ok := state.ReplyToClientMessage(clientID); ok {
		return &Reply{AgentText: text, Phase: state.Phase, Tier: tierOf(state), Replayed: true}, nil
	}
	return nil, nil
}

// commit saves the turn under optimistic concurrency. On conflict it backs
// off, reloads, re-checks idempotency (the racer may have processed this
// very message), replays the turn onto the fresh copy, and tries again until
// the commit retry budget runs out.
func (o *Orchestrator) commit(ctx context.Context, op string, state *conversation.ConversationState, t turn, seq int64) (*conversation.ConversationState, int64, *Reply, error) {
	for attempt := 0; ; attempt++ {
		err := o.execPersistSave(ctx, state)
		if err == nil {
			return state, seq, nil, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, 0, nil, mapStoreError(op, err)
		}
		o.metrics.RecordCommitConflict(ctx, op)
		if attempt >= o.commitRetries {
			return nil, 0, nil, fault.Wrap(fault.KindTransient, op,
				fmt.Errorf("commit retries exhausted: %w", err))
		}
		if werr := waitBackoff(ctx, attempt); werr != nil {
			return nil, 0, nil, fault.Wrap(fault.KindTransient, op, werr)
		}
		fresh, lerr := o.loadSessionStore(ctx, op, t.sessionID)
		if lerr != nil {
			return nil, 0, nil, lerr
		}
		if t.clientID != "" {
			if text, ok := fresh.ReplyToClientMessage(t.clientID); ok {
				return fresh, 0, &Reply{AgentText: text, Phase: fresh.Phase, Tier: tierOf(fresh), Replayed: true}, nil
			}
		}
		if fresh.Terminated() {
			return nil, 0, nil, fault.New(fault.KindValidation, op, "conversation has ended")
		}
		seq = o.applyTurn(fresh, t)
		state = fresh
		slog.Debug("commit conflict, retrying",
			"session_id", t.sessionID, "attempt", attempt+1)
	}
}

// applyTurn replays one processed turn onto a freshly loaded state and
// returns the telemetry sequence it claimed.
func (o *Orchestrator) applyTurn(state *conversation.ConversationState, t turn) int64 {
	state.AppendMessage(conversation.RoleUser, t.userText, t.clientID, t.now)
	if t.truncated {
		state.AppendMessage(conversation.RoleSystem, conversation.TruncationNotice, "", t.now)
	}
	state.AppendEmotion(t.emotion)
	if t.tierOK && t.tier.Detected != "" {
		state.ApplyTier(t.tier.Detected, t.tier.Confidence, t.now)
	}
	for _, rec := range t.records {
		state.RecordPrediction(rec)
	}
	if t.phase != state.Phase {
		// The racer may have advanced further; forward-only rules decide.
		_ = state.AdvancePhase(t.phase)
	}
	for experimentID, variant := range t.variants {
		state.AssignExperiment(experimentID, variant)
	}
	state.AppendMessage(conversation.RoleAgent, t.agentText, "", t.agentAt)
	return state.NextEventSeq()
}

// emitExchange publishes the per-message telemetry event.
func (o *Orchestrator) emitExchange(ctx context.Context, state *conversation.ConversationState, enr *enrichment, res engine.Result, score float64, degraded bool, variants map[string]string, seq int64) {
	if o.tracker == nil {
		return
	}
	samples := make(map[string]tracking.PredictionSample, 4)
	for id, p := range enr.predictions() {
		samples[id] = tracking.PredictionSample{
			ModelVersion: p.ModelVersion,
			Output:       p.Output,
			Tags:         p.Tags,
			Probability:  p.Probability,
			Action:       p.Action,
			Confidence:   p.Confidence,
			Degraded:     p.Degraded,
			LatencyMS:    enr.latencies[id],
		}
	}
	o.tracker.Exchange(ctx, tracking.MessageExchange{
		SessionID:      state.SessionID,
		EventSeq:       seq,
		Phase:          string(state.Phase),
		Tier:           string(tierOf(state)),
		Variants:       variants,
		Predictions:    samples,
		Features:       enr.features,
		Emotion:        enr.emotion.PrimaryEmotion,
		EmpathyScore:   score,
		Source:         res.Source,
		Degraded:       degraded,
		StageLatencyMS: enr.latencies,
		TokensUsed:     res.TokensUsed,
		Timestamp:      time.Now().UTC(),
	})
}

// cacheReply stores the reply envelope for idempotent replays.
func (o *Orchestrator) cacheReply(ctx context.Context, sessionID, clientID string, reply *Reply) {
	if o.cache == nil || clientID == "" {
		return
	}
	raw, err := json.Marshal(reply)
	if err != nil {
		return
	}
	key := conversation.IdempotencyKey(sessionID, clientID)
	if err := o.cache.Set(ctx, cache.NSIdempotency, key, raw); err != nil {
		slog.Debug("idempotency cache failed", "session_id", sessionID, "error", err)
	}
}

// synthesize renders reply audio under the voice breaker, spending the voice
// retry budget on transient failures. Silence is the fallback.
func (o *Orchestrator) synthesize(ctx context.Context, text string) []byte {
	var audio []byte
	fn := func() error {
		b, err := o.voice.Synthesize(ctx, text, o.voiceProfile)
		if err != nil {
			return err
		}
		audio = b
		return nil
	}
	attempt := func() error {
		if o.voiceBreaker != nil {
			return o.voiceBreaker.Execute(fn)
		}
		return fn()
	}
	err := attempt()
	for left := o.voiceRetries; err != nil && left > 0; left-- {
		if ctx.Err() != nil || errors.Is(err, resilience.ErrCircuitOpen) {
			break
		}
		err = attempt()
	}
	if err != nil {
		slog.Warn("voice synthesis degraded", "error", err)
		return nil
	}
	return audio
}
