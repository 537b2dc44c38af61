package conversation

import (
	"testing"
	"time"
)

func newTestState() *ConversationState {
	return NewState("s-1", CustomerProfile{Name: "Ana", Age: 38, Profession: "directora de marketing", Locale: "es-MX"}, time.Unix(1700000000, 0))
}

// TestNewState verifies a fresh session starts in discovery with version zero.
func TestNewState(t *testing.T) {
	s := newTestState()

	if s.Phase != PhaseDiscovery {
		t.Errorf("expected phase %s, got %s", PhaseDiscovery, s.Phase)
	}
	if s.Version != 0 {
		t.Errorf("expected version 0, got %d", s.Version)
	}
	if s.Archetype != ArchetypePrime {
		t.Errorf("expected archetype %s, got %s", ArchetypePrime, s.Archetype)
	}
	if s.Terminated() {
		t.Error("fresh session should not be terminated")
	}
}

// TestDeriveArchetype covers the four archetype buckets.
func TestDeriveArchetype(t *testing.T) {
	tests := []struct {
		name    string
		profile CustomerProfile
		want    Archetype
	}{
		{"young executive", CustomerProfile{Age: 38, Profession: "gerente de ventas"}, ArchetypePrime},
		{"older customer", CustomerProfile{Age: 61, Profession: "abogado"}, ArchetypeLongevity},
		{"longevity goal", CustomerProfile{Age: 40, Goal: "mejorar mi salud a largo plazo"}, ArchetypeLongevity},
		{"young engineer with health goal", CustomerProfile{Age: 35, Profession: "ingeniero", Goal: "salud y longevidad"}, ArchetypeHybrid},
		{"no signals", CustomerProfile{Age: 48, Profession: "artista"}, ArchetypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveArchetype(tt.profile); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

// TestAppendMessage_Sequence verifies sequence numbers are monotonic from 1.
func TestAppendMessage_Sequence(t *testing.T) {
	s := newTestState()
	now := time.Now()

	m1 := s.AppendMessage(RoleUser, "Hola", "c-1", now)
	m2 := s.AppendMessage(RoleAgent, "¡Hola Ana!", "", now)

	if m1.Seq != 1 || m2.Seq != 2 {
		t.Errorf("expected seqs 1 and 2, got %d and %d", m1.Seq, m2.Seq)
	}
	if m1.ClientMessageID != "c-1" {
		t.Errorf("expected client message id to be kept, got %q", m1.ClientMessageID)
	}
	if m2.TokensEstimated == 0 {
		t.Error("expected a non-zero token estimate for agent text")
	}
}

// TestApplyTier_FirstDecision verifies the first decision is always stored.
func TestApplyTier_FirstDecision(t *testing.T) {
	s := newTestState()

	if !s.ApplyTier(TierPro, 0.40, time.Now()) {
		t.Fatal("expected first tier decision to apply")
	}
	if s.Tier.Detected != TierPro || s.Tier.Confidence != 0.40 {
		t.Errorf("unexpected stored decision: %+v", s.Tier)
	}
}

// TestApplyTier_SmallGainIgnored verifies same-tier updates below the minimum
// gain leave the stored confidence untouched.
func TestApplyTier_SmallGainIgnored(t *testing.T) {
	s := newTestState()
	s.ApplyTier(TierPro, 0.40, time.Now())

	if s.ApplyTier(TierPro, 0.42, time.Now()) {
		t.Error("expected +0.02 update to be ignored")
	}
	if s.Tier.Confidence != 0.40 {
		t.Errorf("expected confidence 0.40, got %v", s.Tier.Confidence)
	}
}

// TestApplyTier_SufficientGain verifies same-tier updates at or above the
// minimum gain take effect.
func TestApplyTier_SufficientGain(t *testing.T) {
	s := newTestState()
	s.ApplyTier(TierPro, 0.40, time.Now())

	if !s.ApplyTier(TierPro, 0.45, time.Now()) {
		t.Error("expected +0.05 update to apply")
	}
	if s.Tier.Confidence != 0.45 {
		t.Errorf("expected confidence 0.45, got %v", s.Tier.Confidence)
	}
}

// TestApplyTier_SwitchResetsConfidence verifies a tier change overwrites the
// decision even at lower confidence.
func TestApplyTier_SwitchResetsConfidence(t *testing.T) {
	s := newTestState()
	s.ApplyTier(TierPro, 0.80, time.Now())

	if !s.ApplyTier(TierElite, 0.55, time.Now()) {
		t.Fatal("expected tier switch to apply")
	}
	if s.Tier.Detected != TierElite || s.Tier.Confidence != 0.55 {
		t.Errorf("unexpected decision after switch: %+v", s.Tier)
	}
}

// TestAdvancePhase_Forward verifies forward and same-phase transitions.
func TestAdvancePhase_Forward(t *testing.T) {
	s := newTestState()

	if err := s.AdvancePhase(PhaseAnalysis); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.AdvancePhase(PhaseAnalysis); err != nil {
		t.Fatalf("unexpected error on same-phase transition: %v", err)
	}
	if s.Phase != PhaseAnalysis {
		t.Errorf("expected phase %s, got %s", PhaseAnalysis, s.Phase)
	}
}

// TestAdvancePhase_BackwardRejected verifies the forward-only rule.
func TestAdvancePhase_BackwardRejected(t *testing.T) {
	s := newTestState()
	if err := s.AdvancePhase(PhaseClosing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.AdvancePhase(PhaseDiscovery); err == nil {
		t.Error("expected backward transition to be rejected")
	}
	if s.Phase != PhaseClosing {
		t.Errorf("expected phase to remain %s, got %s", PhaseClosing, s.Phase)
	}
}

// TestAdvancePhase_TerminalAlwaysReachable verifies any phase can terminate.
func TestAdvancePhase_TerminalAlwaysReachable(t *testing.T) {
	s := newTestState()

	if err := s.AdvancePhase(PhaseTerminal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Phase != PhaseTerminal {
		t.Errorf("expected phase %s, got %s", PhaseTerminal, s.Phase)
	}
}

// TestAssignExperiment_Idempotent verifies assignments are write-once.
func TestAssignExperiment_Idempotent(t *testing.T) {
	s := newTestState()

	v, created := s.AssignExperiment("greeting_style", "warm")
	if !created || v != "warm" {
		t.Fatalf("expected fresh assignment of warm, got %q created=%v", v, created)
	}

	v, created = s.AssignExperiment("greeting_style", "direct")
	if created {
		t.Error("expected second assignment to be rejected")
	}
	if v != "warm" {
		t.Errorf("expected existing variant warm, got %q", v)
	}
}

// TestMarkRewardRecorded verifies at most one reward per experiment.
func TestMarkRewardRecorded(t *testing.T) {
	s := newTestState()

	if !s.MarkRewardRecorded("greeting_style") {
		t.Fatal("expected first reward to be recorded")
	}
	if s.MarkRewardRecorded("greeting_style") {
		t.Error("expected duplicate reward to be rejected")
	}
}

// TestRecordPrediction_Bounded verifies the predictions log drops the oldest
// entries past its window.
func TestRecordPrediction_Bounded(t *testing.T) {
	s := newTestState()
	for i := 0; i < maxPredictionsLog+10; i++ {
		s.RecordPrediction(PredictionRecord{ModelID: "conversion", Output: "0.5", Timestamp: time.Now()})
	}

	if len(s.PredictionsLog) != maxPredictionsLog {
		t.Errorf("expected log bounded at %d, got %d", maxPredictionsLog, len(s.PredictionsLog))
	}
}

// TestTerminate verifies termination is recorded once.
func TestTerminate(t *testing.T) {
	s := newTestState()
	now := time.Now()

	if !s.Terminate(OutcomeConverted, "customer accepted", now) {
		t.Fatal("expected first terminate to apply")
	}
	if s.Terminate(OutcomeLost, "late change", now.Add(time.Minute)) {
		t.Error("expected second terminate to be ignored")
	}
	if s.Outcome != OutcomeConverted {
		t.Errorf("expected outcome %s, got %s", OutcomeConverted, s.Outcome)
	}
	if s.Phase != PhaseTerminal {
		t.Errorf("expected phase %s, got %s", PhaseTerminal, s.Phase)
	}
}

// TestReplyToClientMessage verifies replay lookup through the transcript.
func TestReplyToClientMessage(t *testing.T) {
	s := newTestState()
	now := time.Now()
	s.AppendMessage(RoleUser, "Hola", "c-1", now)
	s.AppendMessage(RoleAgent, "¡Hola Ana! ¿En qué te puedo ayudar?", "", now)
	s.AppendMessage(RoleUser, "¿Cuánto cuesta?", "c-2", now)
	s.AppendMessage(RoleSystem, "nota interna", "", now)
	s.AppendMessage(RoleAgent, "Tenemos planes desde...", "", now)

	reply, ok := s.ReplyToClientMessage("c-2")
	if !ok {
		t.Fatal("expected a reply for c-2")
	}
	if reply != "Tenemos planes desde..." {
		t.Errorf("unexpected reply: %q", reply)
	}

	if _, ok := s.ReplyToClientMessage("c-404"); ok {
		t.Error("expected no reply for unknown client message id")
	}
}

// TestClone_Isolated verifies clones do not alias the original's slices or maps.
func TestClone_Isolated(t *testing.T) {
	s := newTestState()
	now := time.Now()
	s.AppendMessage(RoleUser, "Hola", "c-1", now)
	s.ApplyTier(TierPro, 0.5, now)
	s.AssignExperiment("greeting_style", "warm")

	c := s.Clone()
	c.AppendMessage(RoleUser, "otro", "c-2", now)
	c.Tier.Confidence = 0.99
	c.AssignExperiment("price_anchor", "high")

	if len(s.Transcript) != 1 {
		t.Errorf("clone mutation leaked into original transcript: %d messages", len(s.Transcript))
	}
	if s.Tier.Confidence != 0.5 {
		t.Errorf("clone mutation leaked into original tier: %v", s.Tier.Confidence)
	}
	if _, ok := s.ExperimentsAssigned["price_anchor"]; ok {
		t.Error("clone mutation leaked into original assignments")
	}
}

// TestLastAgentTexts verifies newest-first ordering and the count limit.
func TestLastAgentTexts(t *testing.T) {
	s := newTestState()
	now := time.Now()
	s.AppendMessage(RoleAgent, "primero", "", now)
	s.AppendMessage(RoleUser, "ok", "c-1", now)
	s.AppendMessage(RoleAgent, "segundo", "", now)
	s.AppendMessage(RoleAgent, "tercero", "", now)

	got := s.LastAgentTexts(2)
	if len(got) != 2 || got[0] != "tercero" || got[1] != "segundo" {
		t.Errorf("unexpected agent texts: %v", got)
	}
}

// TestIdempotencyKey_Stable verifies the key is deterministic and sensitive
// to both inputs.
func TestIdempotencyKey_Stable(t *testing.T) {
	a := IdempotencyKey("s-1", "c-1")
	b := IdempotencyKey("s-1", "c-1")
	if a != b {
		t.Errorf("expected stable key, got %q and %q", a, b)
	}
	if IdempotencyKey("s-1", "c-2") == a {
		t.Error("expected different key for different client message id")
	}
	if IdempotencyKey("s-2", "c-1") == a {
		t.Error("expected different key for different session id")
	}
}

// TestTranscriptPrefixHash verifies the hash tracks only the user-message
// prefix, in order.
func TestTranscriptPrefixHash(t *testing.T) {
	now := time.Unix(1700000000, 0)

	a := newTestState()
	a.AppendMessage(RoleUser, "Hola", "m-1", now)
	b := NewState("s-2", CustomerProfile{Name: "Luis"}, now)
	b.AppendMessage(RoleUser, "Hola", "m-9", now)
	if a.TranscriptPrefixHash() != b.TranscriptPrefixHash() {
		t.Error("same user prefix should hash the same across sessions")
	}

	withAgent := a.TranscriptPrefixHash()
	a.AppendMessage(RoleAgent, "¡Hola! ¿En qué te ayudo?", "", now)
	a.AppendMessage(RoleSystem, "nota", "", now)
	if a.TranscriptPrefixHash() != withAgent {
		t.Error("agent and system messages must not change the prefix hash")
	}

	a.AppendMessage(RoleUser, "Quiero informes", "m-2", now)
	if a.TranscriptPrefixHash() == withAgent {
		t.Error("a new user message must change the prefix hash")
	}

	b.AppendMessage(RoleUser, "informes Quiero", "m-10", now)
	if a.TranscriptPrefixHash() == b.TranscriptPrefixHash() {
		t.Error("different user texts must hash differently")
	}
}
