// Package conversation defines the session aggregate of the sales agent core.
//
// A [ConversationState] is the aggregation root for one customer session: the
// transcript, the emotional journey, the detected product tier, the experiment
// assignments, and the bounded prediction log. Exactly one orchestrator
// invocation mutates a session at a time; the store enforces this with the
// optimistic Version field, so the type itself carries no locks. All mutating
// methods preserve the session invariants: the transcript is append-only,
// experiment assignments are immutable once set, phases only move forward, and
// tier confidence never regresses for an unchanged tier.
package conversation

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Phase is the orchestrator's view of where in the sales conversation a
// session currently sits. Phases are ordered; transitions only move forward
// (see [NextPhase]) or jump to PhaseTerminal.
type Phase string

const (
	PhaseDiscovery Phase = "DISCOVERY"
	PhaseAnalysis  Phase = "ANALYSIS"
	PhaseFocused   Phase = "FOCUSED"
	PhaseObjection Phase = "OBJECTION"
	PhaseClosing   Phase = "CLOSING"
	PhaseTerminal  Phase = "TERMINAL"
)

// phaseRank orders phases for the forward-only rule.
var phaseRank = map[Phase]int{
	PhaseDiscovery: 0,
	PhaseAnalysis:  1,
	PhaseFocused:   2,
	PhaseObjection: 3,
	PhaseClosing:   4,
	PhaseTerminal:  5,
}

// Rank returns the ordinal position of the phase. Unknown phases rank -1.
func (p Phase) Rank() int {
	r, ok := phaseRank[p]
	if !ok {
		return -1
	}
	return r
}

// IsValid reports whether p is one of the known phases.
func (p Phase) IsValid() bool {
	_, ok := phaseRank[p]
	return ok
}

// Tier is the recommended product level for the customer.
type Tier string

const (
	TierEssential Tier = "Essential"
	TierPro       Tier = "Pro"
	TierElite     Tier = "Elite"
	TierPremium   Tier = "Premium"
)

// Tiers lists all tiers from lowest to highest.
var Tiers = []Tier{TierEssential, TierPro, TierElite, TierPremium}

// Rank returns the ordinal position of the tier, lowest first. Unknown tiers rank -1.
func (t Tier) Rank() int {
	for i, tier := range Tiers {
		if tier == t {
			return i
		}
	}
	return -1
}

// Archetype is a coarse customer profile category influencing template selection.
type Archetype string

const (
	ArchetypePrime     Archetype = "PRIME"
	ArchetypeLongevity Archetype = "LONGEVITY"
	ArchetypeHybrid    Archetype = "HYBRID"
	ArchetypeUnknown   Archetype = "UNKNOWN"
)

// Outcome is the terminal disposition of a session.
type Outcome string

const (
	OutcomeConverted   Outcome = "converted"
	OutcomeLost        Outcome = "lost"
	OutcomeTransferred Outcome = "transferred"
	OutcomeAbandoned   Outcome = "abandoned"
)

// IsValid reports whether o is one of the known outcomes.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeConverted, OutcomeLost, OutcomeTransferred, OutcomeAbandoned:
		return true
	}
	return false
}

// Message roles within a transcript.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// Message is a single committed transcript entry. Committed messages are never
// mutated or removed.
type Message struct {
	// Role is one of "user", "agent", or "system".
	Role string `json:"role"`

	// Text is the message content.
	Text string `json:"text"`

	// Seq is the monotonic position of the message within the session,
	// starting at 1.
	Seq int `json:"seq"`

	// Timestamp is the wall-clock commit time.
	Timestamp time.Time `json:"timestamp"`

	// TokensEstimated is the approximate token cost of Text.
	TokensEstimated int `json:"tokens_estimated"`

	// ClientMessageID is the caller-supplied id for user messages. Empty for
	// agent and system messages. Together with the session id it forms the
	// idempotency key for SendMessage.
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// CustomerProfile carries what is known about the customer at session start.
// Missing fields receive documented defaults at StartConversation.
type CustomerProfile struct {
	Name       string `json:"name"`
	Age        int    `json:"age"`
	Profession string `json:"profession"`
	Budget     string `json:"budget"` // free-form band: "low", "medium", "high"
	Goal       string `json:"goal"`
	Locale     string `json:"locale"`
}

// EmotionSnapshot is one append-only entry of the emotional journey.
type EmotionSnapshot struct {
	PrimaryEmotion string    `json:"primary_emotion"`
	Intensity      float64   `json:"intensity"`
	Confidence     float64   `json:"confidence"`
	Signals        []string  `json:"signals,omitempty"`
	Timestamp      time.Time `json:"ts"`
}

// TierDecision is the current tier recommendation with its confidence.
type TierDecision struct {
	Detected    Tier      `json:"detected"`
	Confidence  float64   `json:"confidence"`
	LastUpdated time.Time `json:"last_updated"`
}

// PredictionRecord is one bounded-log entry for a prediction served during the
// session, whether model-sourced or fallback.
type PredictionRecord struct {
	ModelID      string    `json:"model_id"`
	ModelVersion string    `json:"model_version"`
	InputsHash   string    `json:"inputs_hash"`
	Output       string    `json:"output"`
	Confidence   float64   `json:"confidence"`
	Degraded     bool      `json:"degraded"`
	LatencyMS    int64     `json:"latency_ms"`
	Timestamp    time.Time `json:"ts"`
}

// maxPredictionsLog bounds the predictions_log window; the oldest entries are
// dropped on overflow.
const maxPredictionsLog = 64

// ConversationState is the session aggregate. See the package comment for the
// ownership and invariant rules.
type ConversationState struct {
	SessionID string          `json:"session_id"`
	Profile   CustomerProfile `json:"customer_profile"`

	Transcript       []Message          `json:"transcript"`
	Phase            Phase              `json:"phase"`
	EmotionalJourney []EmotionSnapshot  `json:"emotional_journey"`
	Tier             *TierDecision      `json:"tier,omitempty"`
	Archetype        Archetype          `json:"archetype"`

	// ExperimentsAssigned maps experiment_id to the variant fixed for this
	// session. Entries are write-once.
	ExperimentsAssigned map[string]string `json:"experiments_assigned"`

	// RewardsRecorded marks experiments whose reward has been recorded, so a
	// reward lands at most once per (session, experiment).
	RewardsRecorded map[string]bool `json:"rewards_recorded,omitempty"`

	PredictionsLog []PredictionRecord `json:"predictions_log,omitempty"`

	// Version increases strictly on every persisted mutation.
	Version int64 `json:"version"`

	// EventSeq is the last telemetry sequence number emitted for this session.
	EventSeq int64 `json:"event_seq"`

	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	TerminatedAt   *time.Time `json:"terminated_at,omitempty"`
	Outcome        Outcome    `json:"outcome,omitempty"`
	EndReason      string     `json:"end_reason,omitempty"`
}

// NewState creates a fresh session in PhaseDiscovery.
func NewState(sessionID string, profile CustomerProfile, now time.Time) *ConversationState {
	return &ConversationState{
		SessionID:           sessionID,
		Profile:             profile,
		Phase:               PhaseDiscovery,
		Archetype:           DeriveArchetype(profile),
		ExperimentsAssigned: make(map[string]string),
		RewardsRecorded:     make(map[string]bool),
		Version:             0,
		CreatedAt:           now,
		LastActivityAt:      now,
	}
}

// DeriveArchetype maps a customer profile onto a coarse archetype.
// Younger executive or technical profiles lean PRIME; older customers or
// longevity-flavoured goals lean LONGEVITY; both signals make HYBRID.
func DeriveArchetype(p CustomerProfile) Archetype {
	prime := p.Age > 0 && p.Age < 45 && isExecutiveProfession(p.Profession)
	longevity := p.Age >= 55 || containsAnyFold(p.Goal, "longevidad", "salud", "bienestar", "longevity", "health", "wellness")

	switch {
	case prime && longevity:
		return ArchetypeHybrid
	case prime:
		return ArchetypePrime
	case longevity:
		return ArchetypeLongevity
	default:
		return ArchetypeUnknown
	}
}

// AppendMessage appends a transcript entry and returns it. The sequence number
// continues the session's monotonic order. Any append counts as session
// activity for the idle reaper.
func (s *ConversationState) AppendMessage(role, text, clientMessageID string, now time.Time) Message {
	msg := Message{
		Role:            role,
		Text:            text,
		Seq:             len(s.Transcript) + 1,
		Timestamp:       now,
		TokensEstimated: EstimateTokens(text),
		ClientMessageID: clientMessageID,
	}
	s.Transcript = append(s.Transcript, msg)
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
	return msg
}

// AppendEmotion appends an emotional journey entry.
func (s *ConversationState) AppendEmotion(snap EmotionSnapshot) {
	s.EmotionalJourney = append(s.EmotionalJourney, snap)
}

// ApplyTier applies a new tier decision under the confidence rules: the stored
// decision only changes when the detected tier differs (confidence resets) or
// when the same tier arrives with confidence at least minTierGain higher.
// Returns true when the stored decision changed.
func (s *ConversationState) ApplyTier(detected Tier, confidence float64, now time.Time) bool {
	const minTierGain = 0.05

	if s.Tier == nil {
		s.Tier = &TierDecision{Detected: detected, Confidence: confidence, LastUpdated: now}
		return true
	}
	if s.Tier.Detected != detected {
		// A tier switch resets confidence to the new decision's value.
		s.Tier = &TierDecision{Detected: detected, Confidence: confidence, LastUpdated: now}
		return true
	}
	if confidence >= s.Tier.Confidence+minTierGain {
		s.Tier.Confidence = confidence
		s.Tier.LastUpdated = now
		return true
	}
	return false
}

// AdvancePhase moves the session to next. Backward transitions are rejected;
// equal phases are a no-op. PhaseTerminal is always reachable.
func (s *ConversationState) AdvancePhase(next Phase) error {
	if !next.IsValid() {
		return fmt.Errorf("conversation: invalid phase %q", next)
	}
	if next == s.Phase {
		return nil
	}
	if next != PhaseTerminal && next.Rank() < s.Phase.Rank() {
		return fmt.Errorf("conversation: backward phase transition %s -> %s", s.Phase, next)
	}
	s.Phase = next
	return nil
}

// AssignExperiment records variantID for experimentID unless the session
// already has an assignment, in which case the existing variant is returned.
// The returned bool is true when this call created the assignment.
func (s *ConversationState) AssignExperiment(experimentID, variantID string) (string, bool) {
	if s.ExperimentsAssigned == nil {
		s.ExperimentsAssigned = make(map[string]string)
	}
	if existing, ok := s.ExperimentsAssigned[experimentID]; ok {
		return existing, false
	}
	s.ExperimentsAssigned[experimentID] = variantID
	return variantID, true
}

// MarkRewardRecorded marks the experiment's reward as recorded. Returns false
// when a reward was already recorded for it in this session.
func (s *ConversationState) MarkRewardRecorded(experimentID string) bool {
	if s.RewardsRecorded == nil {
		s.RewardsRecorded = make(map[string]bool)
	}
	if s.RewardsRecorded[experimentID] {
		return false
	}
	s.RewardsRecorded[experimentID] = true
	return true
}

// RecordPrediction appends rec to the bounded predictions log.
func (s *ConversationState) RecordPrediction(rec PredictionRecord) {
	s.PredictionsLog = append(s.PredictionsLog, rec)
	if len(s.PredictionsLog) > maxPredictionsLog {
		s.PredictionsLog = s.PredictionsLog[len(s.PredictionsLog)-maxPredictionsLog:]
	}
}

// NextEventSeq increments and returns the telemetry sequence number.
func (s *ConversationState) NextEventSeq() int64 {
	s.EventSeq++
	return s.EventSeq
}

// Terminate marks the session TERMINAL with the given outcome and reason.
// Subsequent calls are no-ops.
func (s *ConversationState) Terminate(outcome Outcome, reason string, now time.Time) bool {
	if s.Terminated() {
		return false
	}
	s.Phase = PhaseTerminal
	s.Outcome = outcome
	s.EndReason = reason
	t := now
	s.TerminatedAt = &t
	return true
}

// Terminated reports whether the session has entered PhaseTerminal.
func (s *ConversationState) Terminated() bool {
	return s.TerminatedAt != nil || s.Phase == PhaseTerminal
}

// UserMessageCount returns the number of user messages in the transcript.
func (s *ConversationState) UserMessageCount() int {
	n := 0
	for _, m := range s.Transcript {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// LastUserMessages returns up to n of the most recent user messages, oldest first.
func (s *ConversationState) LastUserMessages(n int) []Message {
	var out []Message
	for i := len(s.Transcript) - 1; i >= 0 && len(out) < n; i-- {
		if s.Transcript[i].Role == RoleUser {
			out = append(out, s.Transcript[i])
		}
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// LastAgentTexts returns up to n of the most recent agent message texts,
// newest first. Used by the repetition guard.
func (s *ConversationState) LastAgentTexts(n int) []string {
	var out []string
	for i := len(s.Transcript) - 1; i >= 0 && len(out) < n; i-- {
		if s.Transcript[i].Role == RoleAgent {
			out = append(out, s.Transcript[i].Text)
		}
	}
	return out
}

// ReplyToClientMessage scans the transcript for a user message carrying
// clientMessageID and returns the agent reply that follows it. Used for
// idempotent replay when the reply cache is cold.
func (s *ConversationState) ReplyToClientMessage(clientMessageID string) (string, bool) {
	for i, m := range s.Transcript {
		if m.Role != RoleUser || m.ClientMessageID != clientMessageID {
			continue
		}
		for j := i + 1; j < len(s.Transcript); j++ {
			if s.Transcript[j].Role == RoleAgent {
				return s.Transcript[j].Text, true
			}
		}
		return "", false
	}
	return "", false
}

// Clone returns a deep copy of the state. Stores hand out clones so callers
// never alias persisted data.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s

	out.Transcript = append([]Message(nil), s.Transcript...)
	out.EmotionalJourney = append([]EmotionSnapshot(nil), s.EmotionalJourney...)
	for i := range out.EmotionalJourney {
		out.EmotionalJourney[i].Signals = append([]string(nil), s.EmotionalJourney[i].Signals...)
	}
	out.PredictionsLog = append([]PredictionRecord(nil), s.PredictionsLog...)

	if s.Tier != nil {
		t := *s.Tier
		out.Tier = &t
	}
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		out.TerminatedAt = &t
	}

	out.ExperimentsAssigned = make(map[string]string, len(s.ExperimentsAssigned))
	for k, v := range s.ExperimentsAssigned {
		out.ExperimentsAssigned[k] = v
	}
	out.RewardsRecorded = make(map[string]bool, len(s.RewardsRecorded))
	for k, v := range s.RewardsRecorded {
		out.RewardsRecorded[k] = v
	}
	return &out
}

// EngagementScore derives a [0,1] engagement estimate from the transcript:
// message volume, message depth, and recency each contribute a third.
func (s *ConversationState) EngagementScore(now time.Time) float64 {
	userMsgs := s.LastUserMessages(10)
	if len(userMsgs) == 0 {
		return 0
	}

	// Volume: saturates at 8 user messages.
	volume := float64(s.UserMessageCount()) / 8
	if volume > 1 {
		volume = 1
	}

	// Depth: mean message length, saturating at 120 chars.
	total := 0
	for _, m := range userMsgs {
		total += len(m.Text)
	}
	depth := float64(total) / float64(len(userMsgs)) / 120
	if depth > 1 {
		depth = 1
	}

	// Recency: full credit within 2 minutes of activity, fading to zero at 15.
	idle := now.Sub(s.LastActivityAt)
	recency := 1.0
	if idle > 2*time.Minute {
		recency = 1 - float64(idle-2*time.Minute)/float64(13*time.Minute)
		if recency < 0 {
			recency = 0
		}
	}

	return (volume + depth + recency) / 3
}

// IdempotencyKey derives the stable key for a (session, client message) pair.
func IdempotencyKey(sessionID, clientMessageID string) string {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write([]byte(clientMessageID))
	return fmt.Sprintf("%016x", h.Sum64())
}

// FingerprintInputs derives the stable inputs_fingerprint for a prediction
// from its canonical feature rendering.
func FingerprintInputs(canonical string) string {
	h := fnv.New64a()
	h.Write([]byte(canonical))
	return fmt.Sprintf("%016x", h.Sum64())
}

// TranscriptPrefixHash hashes the user messages of the transcript in order.
// Agent and system messages do not contribute: they are derived from the user
// prefix, so including them would split cache entries for the same analyzer
// input. Keys the tier decision cache.
func (s *ConversationState) TranscriptPrefixHash() string {
	h := fnv.New64a()
	for _, m := range s.Transcript {
		if m.Role != RoleUser {
			continue
		}
		h.Write([]byte(m.Text))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
