// Package orchestrator drives conversations end to end: it owns the session
// lifecycle, runs the per-message pipeline (enrichment fan-out, phase
// transition, experiment assignment, empathy composition, generation,
// optimistic commit, telemetry), and maps every failure onto the boundary
// error kinds of [fault].
//
// One Orchestrator serves many concurrent sessions. Per-session writes are
// serialized by the session store's optimistic versioning, not by locks held
// here; a global weighted semaphore applies admission control.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cierra-ai/cierra/internal/bandit"
	"github.com/cierra-ai/cierra/internal/cache"
	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/emotion"
	"github.com/cierra-ai/cierra/internal/empathy"
	"github.com/cierra-ai/cierra/internal/engine"
	"github.com/cierra-ai/cierra/internal/fault"
	"github.com/cierra-ai/cierra/internal/observe"
	"github.com/cierra-ai/cierra/internal/predict"
	"github.com/cierra-ai/cierra/internal/resilience"
	"github.com/cierra-ai/cierra/internal/store"
	"github.com/cierra-ai/cierra/internal/tier"
	"github.com/cierra-ai/cierra/internal/tracking"
	"github.com/cierra-ai/cierra/pkg/provider/voice"
	"github.com/cierra-ai/cierra/pkg/types"
)

// Pipeline defaults, overridable through [Config].
const (
	DefaultRequestDeadline = 8 * time.Second
	DefaultStageDeadline   = 2 * time.Second
	DefaultFanInBarrier    = 2500 * time.Millisecond
	DefaultMaxInFlight     = 256
	DefaultMessageTokenCap = 512
	DefaultIdleTimeout     = 30 * time.Minute

	// defaultCommitRetries bounds reload-and-retry attempts after a
	// version conflict; the budget exhausted maps to a transient error.
	// The persistence breaker's retry budget overrides it.
	defaultCommitRetries = 3

	// backoffBase seeds the jittered exponential backoff between commit
	// retries.
	backoffBase = 25 * time.Millisecond
)

// Profile defaults applied at session start.
const (
	defaultCustomerName = "cliente"
	defaultLocale       = "es-MX"
)

// Request is one inbound customer message.
type Request struct {
	SessionID string

	// ClientMessageID deduplicates retries of the same send. Optional;
	// without it every delivery is treated as a new message.
	ClientMessageID string

	Text string

	// WithVoice asks for synthesized audio of the reply when a voice
	// provider is configured.
	WithVoice bool
}

// Insights is the ML block attached to every reply.
type Insights struct {
	PredictedObjections   []string `json:"predicted_objections,omitempty"`
	PredictedNeeds        []string `json:"predicted_needs,omitempty"`
	ConversionProbability float64  `json:"conversion_probability"`
	NextBestAction        string   `json:"next_best_action,omitempty"`
	VariantIDs            []string `json:"variant_ids,omitempty"`
	EmpathyScore          float64  `json:"empathy_score"`

	// Degraded marks replies produced with at least one fallback in the
	// pipeline, whether a predictor, the LLM, or post-processing.
	Degraded bool `json:"degraded"`
}

// Reply is the SendMessage result envelope. It is also the value cached for
// idempotent replays.
type Reply struct {
	AgentText string             `json:"agent_text"`
	Phase     conversation.Phase `json:"phase"`
	Tier      conversation.Tier  `json:"tier,omitempty"`
	Insights  Insights           `json:"ml_insights"`

	// Replayed marks envelopes served from the idempotency path rather
	// than a fresh generation.
	Replayed bool `json:"-"`

	// Audio carries synthesized speech when requested. Never cached.
	Audio []byte `json:"-"`
}

// Config wires an [Orchestrator]. Sessions, Emotion, Tier, Predictors,
// Composer, and Engine are required; everything else degrades gracefully
// when absent.
type Config struct {
	Sessions store.SessionStore
	Cache    cache.Cache

	Emotion    *emotion.Analyzer
	Tier       *tier.Analyzer
	Predictors *predict.Set
	Bandit     *bandit.Experimenter
	Composer   *empathy.Composer
	Engine     *engine.Engine
	Tracker    *tracking.Tracker

	// Breakers supplies the persistence and voice breakers by dependency
	// name. Optional; without it store and voice calls run unguarded.
	Breakers *resilience.Registry

	// Voice enables the optional audio path.
	Voice        voice.Provider
	VoiceProfile types.VoiceProfile

	// RequestDeadline bounds one SendMessage end to end. Zero means
	// DefaultRequestDeadline.
	RequestDeadline time.Duration

	// StageDeadline bounds each enrichment stage. Zero means
	// DefaultStageDeadline.
	StageDeadline time.Duration

	// FanInBarrier is how long the pipeline waits for enrichment results
	// before substituting fallbacks. Zero means DefaultFanInBarrier.
	FanInBarrier time.Duration

	// MaxInFlight is the admission-control limit. Zero means
	// DefaultMaxInFlight; negative disables admission control.
	MaxInFlight int

	// MessageTokenCap truncates longer user messages. Zero means
	// DefaultMessageTokenCap.
	MessageTokenCap int

	// IdleTimeout is the inactivity horizon used by the reaper. Zero means
	// DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// Orchestrator runs the conversation pipeline. Safe for concurrent use.
type Orchestrator struct {
	sessions store.SessionStore
	cache    cache.Cache

	emotion    *emotion.Analyzer
	tier       *tier.Analyzer
	predictors *predict.Set
	bandit     *bandit.Experimenter
	composer   *empathy.Composer
	engine     *engine.Engine
	tracker    *tracking.Tracker
	metrics    *observe.Metrics

	persistBreaker resilience.Breaker
	voiceBreaker   resilience.Breaker
	voice          voice.Provider
	voiceProfile   types.VoiceProfile

	sem *semaphore.Weighted

	requestDeadline time.Duration
	stageDeadline   time.Duration
	barrier         time.Duration
	tokenCap        int
	idleTimeout     time.Duration
	commitRetries   int
	voiceRetries    int
}

// New creates an [Orchestrator] from cfg, applying defaults for zero values.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		sessions:        cfg.Sessions,
		cache:           cfg.Cache,
		emotion:         cfg.Emotion,
		tier:            cfg.Tier,
		predictors:      cfg.Predictors,
		bandit:          cfg.Bandit,
		composer:        cfg.Composer,
		engine:          cfg.Engine,
		tracker:         cfg.Tracker,
		metrics:         observe.DefaultMetrics(),
		voice:           cfg.Voice,
		voiceProfile:    cfg.VoiceProfile,
		requestDeadline: cfg.RequestDeadline,
		stageDeadline:   cfg.StageDeadline,
		barrier:         cfg.FanInBarrier,
		tokenCap:        cfg.MessageTokenCap,
		idleTimeout:     cfg.IdleTimeout,
	}
	if o.requestDeadline <= 0 {
		o.requestDeadline = DefaultRequestDeadline
	}
	if o.stageDeadline <= 0 {
		o.stageDeadline = DefaultStageDeadline
	}
	if o.barrier <= 0 {
		o.barrier = DefaultFanInBarrier
	}
	if o.tokenCap <= 0 {
		o.tokenCap = DefaultMessageTokenCap
	}
	if o.idleTimeout <= 0 {
		o.idleTimeout = DefaultIdleTimeout
	}
	inFlight := cfg.MaxInFlight
	if inFlight == 0 {
		inFlight = DefaultMaxInFlight
	}
	if inFlight > 0 {
		o.sem = semaphore.NewWeighted(int64(inFlight))
	}
	o.commitRetries = defaultCommitRetries
	if cfg.Breakers != nil {
		pb := cfg.Breakers.Get(resilience.DepPersistence)
		vb := cfg.Breakers.Get(resilience.DepVoice)
		o.persistBreaker = pb
		o.voiceBreaker = vb
		if n := pb.MaxRetries(); n > 0 {
			o.commitRetries = n
		}
		o.voiceRetries = vb.MaxRetries()
	}
	return o
}

// IdleTimeout reports the configured inactivity horizon.
func (o *Orchestrator) IdleTimeout() time.Duration {
	return o.idleTimeout
}

// StartConversation mints a session for the given customer profile, applies
// profile defaults, persists it at version 1, and returns the session id.
func (o *Orchestrator) StartConversation(ctx context.Context, profile conversation.CustomerProfile) (string, error) {
	const op = "orchestrator.start"

	if profile.Name == "" {
		profile.Name = defaultCustomerName
	}
	if profile.Locale == "" {
		profile.Locale = defaultLocale
	}

	id := uuid.NewString()
	state := conversation.NewState(id, profile, time.Now().UTC())

	err := o.execPersist(func() error {
		return o.sessions.Create(ctx, state)
	})
	if err != nil {
		return "", mapStoreError(op, err)
	}
	o.cacheSession(ctx, state)
	o.metrics.SessionStarted(ctx)

	slog.Info("conversation started",
		"session_id", id,
		"archetype", state.Archetype,
		"locale", profile.Locale)
	return id, nil
}

// GetConversation returns a read-only copy of the session state.
func (o *Orchestrator) GetConversation(ctx context.Context, sessionID string) (*conversation.ConversationState, error) {
	const op = "orchestrator.get"
	if sessionID == "" {
		return nil, fault.New(fault.KindValidation, op, "missing session id")
	}
	return o.loadSession(ctx, op, sessionID)
}

// EndConversation terminates the session with the given outcome, converts
// the outcome into bandit rewards for every assigned experiment, and emits
// the terminal telemetry event. Ending an already terminated session is a
// no-op.
//
// An empty outcome defaults to [conversation.OutcomeLost].
func (o *Orchestrator) EndConversation(ctx context.Context, sessionID string, outcome conversation.Outcome, reason string) error {
	const op = "orchestrator.end"

	if sessionID == "" {
		return fault.New(fault.KindValidation, op, "missing session id")
	}
	if outcome == "" {
		outcome = conversation.OutcomeLost
	}
	if !outcome.IsValid() {
		return fault.New(fault.KindValidation, op, fmt.Sprintf("invalid outcome %q", outcome))
	}
	if reason == "" {
		reason = "caller_ended"
	}

	state, err := o.loadSession(ctx, op, sessionID)
	if err != nil {
		return err
	}
	if state.Terminated() {
		return nil
	}

	now := time.Now().UTC()
	state.Terminate(outcome, reason, now)
	seq := state.NextEventSeq()

	for attempt := 0; ; attempt++ {
		err := o.execPersistSave(ctx, state)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return mapStoreError(op, err)
		}
		o.metrics.RecordCommitConflict(ctx, op)
		if attempt >= o.commitRetries {
			return mapStoreError(op, err)
		}
		if werr := waitBackoff(ctx, attempt); werr != nil {
			return fault.Wrap(fault.KindTransient, op, werr)
		}
		fresh, lerr := o.loadSessionStore(ctx, op, sessionID)
		if lerr != nil {
			return lerr
		}
		if fresh.Terminated() {
			return nil
		}
		fresh.Terminate(outcome, reason, now)
		seq = fresh.NextEventSeq()
		state = fresh
	}
	o.metrics.SessionEnded(ctx)

	if o.bandit != nil {
		reward := rewardFor(outcome)
		if rerr := o.bandit.RewardAll(state, reward, now); rerr != nil {
			slog.Warn("outcome reward failed", "session_id", sessionID, "error", rerr)
		} else {
			for experimentID, variant := range state.ExperimentsAssigned {
				o.metrics.RecordReward(ctx, experimentID, variant, reward)
			}
		}
	}
	o.emitOutcome(ctx, state, outcome, reason, seq, now)
	o.cacheSession(ctx, state)

	slog.Info("conversation ended",
		"session_id", sessionID,
		"outcome", outcome,
		"reason", reason,
		"messages", len(state.Transcript))
	return nil
}

// emitOutcome publishes the terminal telemetry event. Failures are logged by
// the tracker and never surfaced.
func (o *Orchestrator) emitOutcome(ctx context.Context, state *conversation.ConversationState, outcome conversation.Outcome, reason string, seq int64, now time.Time) {
	if o.tracker == nil {
		return
	}
	var features map[string]float64
	if o.predictors != nil {
		features = o.predictors.Extractor().Extract(predict.FromState(state, now))
	}
	metrics := tracking.OutcomeMetrics{
		Messages:        len(state.Transcript),
		DurationSeconds: now.Sub(state.CreatedAt).Seconds(),
		FinalPhase:      string(state.Phase),
		Tier:            string(tierOf(state)),
		ObservedNeeds:   tracking.ObservedNeeds(features),
		TargetAction:    tracking.TargetActionFor(outcome),
	}
	o.tracker.Outcome(ctx, tracking.ConversationOutcome{
		SessionID: state.SessionID,
		EventSeq:  seq,
		Outcome:   string(outcome),
		EndReason: reason,
		Metrics:   metrics,
		Timestamp: now,
	})
}

// rewardFor maps a terminal outcome onto the bandit reward scale.
func rewardFor(outcome conversation.Outcome) float64 {
	switch outcome {
	case conversation.OutcomeConverted:
		return 1.0
	case conversation.OutcomeTransferred:
		return 0.3
	default:
		return 0
	}
}

// loadSession reads the session, preferring the cache snapshot. A stale
// snapshot is harmless: the optimistic commit detects it and reloads from
// the store.
func (o *Orchestrator) loadSession(ctx context.Context, op, sessionID string) (*conversation.ConversationState, error) {
	if o.cache != nil {
		if raw, ok, err := o.cache.Get(ctx, cache.NSSession, sessionID); err == nil && ok {
			var state conversation.ConversationState
			if json.Unmarshal(raw, &state) == nil && state.SessionID == sessionID {
				return &state, nil
			}
		}
	}
	return o.loadSessionStore(ctx, op, sessionID)
}

// loadSessionStore reads the session from the store under the persistence
// breaker, mapping failures onto boundary kinds.
func (o *Orchestrator) loadSessionStore(ctx context.Context, op, sessionID string) (*conversation.ConversationState, error) {
	var (
		state    *conversation.ConversationState
		notFound error
	)
	err := o.execPersist(func() error {
		s, err := o.sessions.Load(ctx, sessionID)
		if err != nil {
			// Absence is an answer, not a store failure.
			if errors.Is(err, store.ErrNotFound) {
				notFound = err
				return nil
			}
			return err
		}
		state = s
		return nil
	})
	if err != nil {
		return nil, mapStoreError(op, err)
	}
	if notFound != nil {
		return nil, fault.Wrap(fault.KindNotFound, op, notFound)
	}
	return state, nil
}

// execPersistSave saves under the persistence breaker. Version conflicts are
// contention, not unavailability, so they bypass the failure count and come
// back verbatim.
func (o *Orchestrator) execPersistSave(ctx context.Context, state *conversation.ConversationState) error {
	var conflict error
	err := o.execPersist(func() error {
		if serr := o.sessions.Save(ctx, state); serr != nil {
			if errors.Is(serr, store.ErrVersionConflict) {
				conflict = serr
				return nil
			}
			return serr
		}
		return nil
	})
	if err != nil {
		return err
	}
	return conflict
}

func (o *Orchestrator) execPersist(fn func() error) error {
	if o.persistBreaker == nil {
		return fn()
	}
	return o.persistBreaker.Execute(fn)
}

// mapStoreError classifies persistence failures: an open breaker means the
// dependency is unavailable, everything else is worth a retry.
func mapStoreError(op string, err error) error {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return fault.Wrap(fault.KindUpstreamUnavailable, op, err)
	case errors.Is(err, store.ErrVersionConflict):
		return fault.Wrap(fault.KindTransient, op, err)
	case errors.Is(err, store.ErrAlreadyExists):
		return fault.Wrap(fault.KindInternal, op, err)
	default:
		return fault.Wrap(fault.KindTransient, op, err)
	}
}

// cacheSession refreshes the hot snapshot. Cache trouble never disturbs the
// request.
func (o *Orchestrator) cacheSession(ctx context.Context, state *conversation.ConversationState) {
	if o.cache == nil {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		slog.Warn("session snapshot encode failed", "session_id", state.SessionID, "error", err)
		return
	}
	if err := o.cache.Set(ctx, cache.NSSession, state.SessionID, raw); err != nil {
		slog.Debug("session snapshot cache failed", "session_id", state.SessionID, "error", err)
	}
}

func tierOf(state *conversation.ConversationState) conversation.Tier {
	if state.Tier == nil {
		return ""
	}
	return state.Tier.Detected
}

// waitBackoff sleeps the jittered exponential delay for the given retry
// attempt, or returns early with the context error.
func waitBackoff(ctx context.Context, attempt int) error {
	d := float64(backoffBase) * math.Pow(2, float64(attempt))
	d *= 0.5 + rand.Float64()
	timer := time.NewTimer(time.Duration(d))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// variantIDs flattens an assignment map into a deterministic list, ordered
// by experiment id.
func variantIDs(variants map[string]string) []string {
	if len(variants) == 0 {
		return nil
	}
	exps := make([]string, 0, len(variants))
	for exp := range variants {
		exps = append(exps, exp)
	}
	sort.Strings(exps)
	ids := make([]string, len(exps))
	for i, exp := range exps {
		ids[i] = variants[exp]
	}
	return ids
}
