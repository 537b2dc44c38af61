// Package tracking carries the telemetry stream that feeds the ML pipeline:
// one message_exchange event per committed reply and one terminal
// conversation_outcome event per session, appended to a [store.EventSink].
//
// Delivery is at least once. Producers never retry into the request path: a
// failed append is logged and dropped, and the request still succeeds.
// Consumers dedupe on (session_id, event_seq); the [Aggregator] in this
// package does so when it builds rolling windows.
package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cierra-ai/cierra/internal/store"
)

// Event kinds written to the tracking sink.
const (
	KindMessageExchange     = "message_exchange"
	KindConversationOutcome = "conversation_outcome"
)

// PredictionSample is the per-model slice of a [MessageExchange]: what one
// predictor returned for this exchange.
type PredictionSample struct {
	ModelVersion string   `json:"model_version"`
	Output       string   `json:"output"`
	Tags         []string `json:"tags,omitempty"`
	Probability  float64  `json:"probability,omitempty"`
	Action       string   `json:"action,omitempty"`
	Confidence   float64  `json:"confidence"`
	Degraded     bool     `json:"degraded,omitempty"`
	LatencyMS    int64    `json:"latency_ms"`
}

// MessageExchange is the payload emitted after every committed user/agent
// exchange. Features is the shared extraction the predictors scored, kept in
// the event so drift detection can compare live feature distributions against
// promotion baselines.
type MessageExchange struct {
	SessionID string `json:"session_id"`
	EventSeq  int64  `json:"event_seq"`

	Phase    string            `json:"phase"`
	Tier     string            `json:"tier,omitempty"`
	Variants map[string]string `json:"variants,omitempty"`

	// Predictions maps model id to the sample served on this exchange.
	Predictions map[string]PredictionSample `json:"predictions,omitempty"`

	Features map[string]float64 `json:"features,omitempty"`

	Emotion      string  `json:"emotion,omitempty"`
	EmpathyScore float64 `json:"empathy_score"`

	// Source is the reply source ("llm", "cache" or "canned"); Degraded is
	// set when any stage substituted a fallback.
	Source   string `json:"source,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`

	StageLatencyMS map[string]int64 `json:"stage_latency_ms,omitempty"`
	TokensUsed     int              `json:"tokens_used,omitempty"`

	Timestamp time.Time `json:"ts"`
}

// OutcomeMetrics summarizes a finished session alongside its outcome. The
// observed needs and the target action are the proxies later used to resolve
// needs and next-best-action accuracy.
type OutcomeMetrics struct {
	Messages        int     `json:"messages"`
	DurationSeconds float64 `json:"duration_s"`
	FinalPhase      string  `json:"final_phase"`
	Tier            string  `json:"tier,omitempty"`
	EmpathyMean     float64 `json:"empathy_mean,omitempty"`

	// ObservedNeeds are the need tags evidenced over the full transcript.
	ObservedNeeds []string `json:"observed_needs,omitempty"`

	// TargetAction is the action the outcome vindicates: "close" for
	// converted sessions, "transfer" for transferred ones, empty otherwise.
	TargetAction string `json:"target_action,omitempty"`
}

// ConversationOutcome is the terminal payload emitted when a session ends.
type ConversationOutcome struct {
	SessionID string         `json:"session_id"`
	EventSeq  int64          `json:"event_seq"`
	Outcome   string         `json:"outcome"`
	EndReason string         `json:"end_reason,omitempty"`
	Metrics   OutcomeMetrics `json:"metrics"`
	Timestamp time.Time      `json:"ts"`
}

// Tracker emits telemetry events to a sink. Emission is fire-and-forget:
// failures are logged, never returned, so a flaky sink cannot fail a request
// that already committed.
//
// Safe for concurrent use as long as the sink is.
type Tracker struct {
	sink store.EventSink
}

// NewTracker creates a tracker writing to sink.
func NewTracker(sink store.EventSink) *Tracker {
	return &Tracker{sink: sink}
}

// Exchange emits a message_exchange event.
func (t *Tracker) Exchange(ctx context.Context, ev MessageExchange) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	t.emit(ctx, KindMessageExchange, ev.SessionID, ev.EventSeq, ev.Timestamp, ev)
}

// Outcome emits a conversation_outcome event.
func (t *Tracker) Outcome(ctx context.Context, ev ConversationOutcome) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	t.emit(ctx, KindConversationOutcome, ev.SessionID, ev.EventSeq, ev.Timestamp, ev)
}

func (t *Tracker) emit(ctx context.Context, kind, sessionID string, seq int64, ts time.Time, payload any) {
	if t == nil || t.sink == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("tracking: encode event", "kind", kind, "session_id", sessionID, "error", err)
		return
	}
	ev := store.Event{
		SessionID: sessionID,
		Seq:       seq,
		Kind:      kind,
		Payload:   body,
		Timestamp: ts,
	}
	if err := t.sink.Append(ctx, ev); err != nil {
		slog.Warn("tracking: append event", "kind", kind, "session_id", sessionID, "seq", seq, "error", err)
	}
}
