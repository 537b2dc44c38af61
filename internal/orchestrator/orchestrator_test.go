package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cierra-ai/cierra/internal/bandit"
	"github.com/cierra-ai/cierra/internal/cache"
	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/emotion"
	"github.com/cierra-ai/cierra/internal/empathy"
	"github.com/cierra-ai/cierra/internal/engine"
	"github.com/cierra-ai/cierra/internal/fault"
	"github.com/cierra-ai/cierra/internal/models"
	"github.com/cierra-ai/cierra/internal/orchestrator"
	"github.com/cierra-ai/cierra/internal/predict"
	"github.com/cierra-ai/cierra/internal/resilience"
	"github.com/cierra-ai/cierra/internal/store/memstore"
	"github.com/cierra-ai/cierra/internal/tier"
	"github.com/cierra-ai/cierra/internal/tracking"
	"github.com/cierra-ai/cierra/pkg/provider/llm"
	"github.com/cierra-ai/cierra/pkg/provider/llm/mock"
	"github.com/cierra-ai/cierra/pkg/types"
)

type fixture struct {
	orch     *orchestrator.Orchestrator
	mem      *memstore.Store
	provider *mock.Provider
	exp      *bandit.Experimenter
}

func newFixture(t *testing.T, mutate func(*orchestrator.Config)) *fixture {
	t.Helper()

	mem := memstore.New()
	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "Con gusto te acompaño. Cuéntame, ¿qué te gustaría lograr?",
			Usage:   llm.Usage{PromptTokens: 80, CompletionTokens: 20, TotalTokens: 100},
		},
	}
	composer := empathy.New()
	exp := bandit.New()

	cfg := orchestrator.Config{
		Sessions:   mem,
		Cache:      cache.NewMemory(),
		Emotion:    emotion.New(),
		Tier:       tier.New(),
		Predictors: predict.NewSet(models.NewRegistry()),
		Bandit:     exp,
		Composer:   composer,
		Engine:     engine.New(provider, composer),
		Tracker:    tracking.NewTracker(mem),
		Breakers:   resilience.NewRegistry(resilience.DefaultConfigs()...),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &fixture{orch: orchestrator.New(cfg), mem: mem, provider: provider, exp: exp}
}

func TestStartConversation_AppliesProfileDefaults(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{Age: 62, Goal: "mejorar mi salud"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if id == "" {
		t.Fatal("StartConversation returned empty session id")
	}

	state, err := f.orch.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if state.Profile.Name != "cliente" || state.Profile.Locale != "es-MX" {
		t.Errorf("profile defaults = %q/%q, want cliente/es-MX", state.Profile.Name, state.Profile.Locale)
	}
	if state.Archetype != conversation.ArchetypeLongevity {
		t.Errorf("Archetype = %q, want %q", state.Archetype, conversation.ArchetypeLongevity)
	}
	if state.Phase != conversation.PhaseDiscovery {
		t.Errorf("Phase = %q, want %q", state.Phase, conversation.PhaseDiscovery)
	}
	if state.Version != 1 {
		t.Errorf("Version = %d, want 1", state.Version)
	}
	if len(state.Transcript) != 0 {
		t.Errorf("new session transcript has %d messages, want 0", len(state.Transcript))
	}
}

func TestGetConversation_MissingID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if _, err := f.orch.GetConversation(context.Background(), ""); !fault.Is(err, fault.KindValidation) {
		t.Errorf("GetConversation(\"\") error = %v, want VALIDATION", err)
	}
}

func TestSendMessage_GreetingUsesNameOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	f.provider.CompleteResponse = &llm.CompletionResponse{
		Content: "Cuéntame, ¿qué te gustaría lograr con el programa?",
		Usage:   llm.Usage{TotalTokens: 60},
	}

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{Name: "Carlos", Age: 38, Profession: "empresario"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	got, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID:       id,
		ClientMessageID: "m-1",
		Text:            "Hola, quiero saber más del curso",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if n := strings.Count(got.AgentText, "Carlos"); n != 1 {
		t.Errorf("greeting mentions the name %d times, want exactly 1: %q", n, got.AgentText)
	}
	if !strings.HasSuffix(strings.TrimSpace(got.AgentText), "?") {
		t.Errorf("greeting does not end in a question: %q", got.AgentText)
	}
	if got.Phase != conversation.PhaseDiscovery {
		t.Errorf("Phase = %q, want %q", got.Phase, conversation.PhaseDiscovery)
	}
	if got.Replayed {
		t.Error("first exchange marked as replayed")
	}
	if p := got.Insights.ConversionProbability; p <= 0 || p >= 1 {
		t.Errorf("ConversionProbability = %v, want in (0, 1)", p)
	}
	if got.Insights.NextBestAction == "" {
		t.Error("NextBestAction is empty")
	}
	if len(got.Insights.VariantIDs) != 2 {
		t.Errorf("VariantIDs = %v, want the two DISCOVERY experiments", got.Insights.VariantIDs)
	}

	state, err := f.orch.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(state.Transcript) != 2 {
		t.Fatalf("transcript = %d messages, want user + agent", len(state.Transcript))
	}
	if state.Transcript[0].Role != conversation.RoleUser || state.Transcript[1].Role != conversation.RoleAgent {
		t.Errorf("transcript roles = %q/%q", state.Transcript[0].Role, state.Transcript[1].Role)
	}
}

func TestSendMessage_PriceObjectionDetectedAndScrubbed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{Name: "Ana"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if _, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-1", Text: "Hola, quiero información del curso",
	}); err != nil {
		t.Fatalf("greeting SendMessage: %v", err)
	}

	f.provider.CompleteResponse = &llm.CompletionResponse{
		Content: "Nunca había visto un programa tan completo, y no es barato porque incluye acompañamiento. ¿Quieres ver opciones de pago?",
		Usage:   llm.Usage{TotalTokens: 80},
	}

	got, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-2", Text: "Es muy caro para mí",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	found := false
	for _, tag := range got.Insights.PredictedObjections {
		if tag == "price_too_high" {
			found = true
		}
	}
	if !found {
		t.Errorf("PredictedObjections = %v, want price_too_high", got.Insights.PredictedObjections)
	}
	if got.Phase != conversation.PhaseObjection {
		t.Errorf("Phase = %q, want %q", got.Phase, conversation.PhaseObjection)
	}
	lower := strings.ToLower(got.AgentText)
	if strings.Contains(lower, "nunca") || strings.Contains(lower, "barato") {
		t.Errorf("reply kept banned wording: %q", got.AgentText)
	}
}

func TestSendMessage_IdempotentReplay(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{Name: "Lucía"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	req := orchestrator.Request{SessionID: id, ClientMessageID: "m-1", Text: "Hola, quiero saber más del curso"}
	first, err := f.orch.SendMessage(ctx, req)
	if err != nil {
		t.Fatalf("first SendMessage: %v", err)
	}

	second, err := f.orch.SendMessage(ctx, req)
	if err != nil {
		t.Fatalf("replayed SendMessage: %v", err)
	}
	if !second.Replayed {
		t.Error("second delivery not marked replayed")
	}
	if second.AgentText != first.AgentText {
		t.Errorf("replayed AgentText = %q, want %q", second.AgentText, first.AgentText)
	}
	if second.Insights.ConversionProbability != first.Insights.ConversionProbability {
		t.Errorf("replayed insights diverged: %v vs %v",
			second.Insights.ConversionProbability, first.Insights.ConversionProbability)
	}

	state, err := f.orch.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(state.Transcript) != 2 {
		t.Errorf("transcript = %d messages after replay, want 2", len(state.Transcript))
	}

	if _, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-1", Text: "este texto es distinto",
	}); !fault.Is(err, fault.KindConflict) {
		t.Errorf("reused id with new text: error = %v, want CONFLICT", err)
	}
}

func TestSendMessage_ProviderFailureFallsBackToCanned(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	f.provider.CompleteResponse = nil
	f.provider.CompleteErr = errors.New("upstream 503")

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{Name: "Marta"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	got, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-1", Text: "Hola, quiero saber más del curso",
	})
	if err != nil {
		t.Fatalf("SendMessage with failing provider: %v", err)
	}
	if got.AgentText == "" {
		t.Fatal("degraded reply is empty")
	}
	if !got.Insights.Degraded {
		t.Error("Insights.Degraded = false, want true on the canned path")
	}
}

func TestSendMessage_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	tests := []struct {
		name string
		req  orchestrator.Request
		want fault.Kind
	}{
		{"missing session id", orchestrator.Request{Text: "hola"}, fault.KindValidation},
		{"blank text", orchestrator.Request{SessionID: id, Text: "   "}, fault.KindValidation},
		{"unknown session", orchestrator.Request{SessionID: "ghost", Text: "hola"}, fault.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.orch.SendMessage(ctx, tt.req); !fault.Is(err, tt.want) {
				t.Errorf("error = %v, want kind %s", err, tt.want)
			}
		})
	}
}

func TestSendMessage_TerminatedSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if err := f.orch.EndConversation(ctx, id, conversation.OutcomeLost, "left"); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}

	if _, err := f.orch.SendMessage(ctx, orchestrator.Request{SessionID: id, Text: "hola"}); !fault.Is(err, fault.KindValidation) {
		t.Errorf("send after termination: error = %v, want VALIDATION", err)
	}
}

func TestSendMessage_AdmissionControl(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(cfg *orchestrator.Config) {
		cfg.MaxInFlight = 1
	})
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	f.provider.CompleteFunc = func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		close(started)
		select {
		case <-release:
			return &llm.CompletionResponse{Content: "Listo, seguimos. ¿Te parece?"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var wg sync.WaitGroup
	var slowErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, slowErr = f.orch.SendMessage(ctx, orchestrator.Request{
			SessionID: id, ClientMessageID: "m-slow", Text: "Hola, quiero saber más",
		})
	}()

	<-started
	if _, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-fast", Text: "sigues ahí",
	}); !fault.Is(err, fault.KindOverloaded) {
		t.Errorf("second in-flight send: error = %v, want OVERLOADED", err)
	}

	close(release)
	wg.Wait()
	if slowErr != nil {
		t.Fatalf("admitted send failed: %v", slowErr)
	}
}

func TestSendMessage_TruncatesLongMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	long := strings.Repeat("necesito saber todos los detalles del curso ", 60)
	if _, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-1", Text: long,
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	state, err := f.orch.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(state.Transcript) != 3 {
		t.Fatalf("transcript = %d messages, want user + note + agent", len(state.Transcript))
	}
	if got := state.Transcript[0]; len(got.Text) >= len(long) || got.TokensEstimated > 512 {
		t.Errorf("user message not truncated: %d chars, %d tokens", len(got.Text), got.TokensEstimated)
	}
	if got := state.Transcript[1]; got.Role != conversation.RoleSystem || got.Text != conversation.TruncationNotice {
		t.Errorf("second entry = %q/%q, want the truncation note", got.Role, got.Text)
	}
}

func TestSendMessage_RacingSendsCommitBoth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{Name: "Luisa"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	// Hold both requests inside the provider until each has loaded the same
	// session version, forcing exactly one optimistic conflict.
	var gate sync.Mutex
	arrived := 0
	bothIn := make(chan struct{})
	f.provider.CompleteFunc = func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		gate.Lock()
		arrived++
		if arrived == 2 {
			close(bothIn)
		}
		gate.Unlock()
		select {
		case <-bothIn:
			return &llm.CompletionResponse{Content: "Claro, te cuento. ¿Qué te gustaría saber primero?"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	texts := map[string]string{
		"m-1": "Quiero saber el temario del curso",
		"m-2": "También me interesa conocer a las mentoras",
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = make(map[string]error, len(texts))
	)
	for cid, text := range texts {
		wg.Add(1)
		go func(cid, text string) {
			defer wg.Done()
			_, err := f.orch.SendMessage(ctx, orchestrator.Request{
				SessionID: id, ClientMessageID: cid, Text: text,
			})
			mu.Lock()
			errs[cid] = err
			mu.Unlock()
		}(cid, text)
	}
	wg.Wait()
	for cid, err := range errs {
		if err != nil {
			t.Fatalf("SendMessage(%s): %v", cid, err)
		}
	}

	state, err := f.orch.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(state.Transcript) != 4 {
		t.Fatalf("transcript = %d messages, want both turns committed", len(state.Transcript))
	}
	wantRoles := []string{conversation.RoleUser, conversation.RoleAgent, conversation.RoleUser, conversation.RoleAgent}
	for i, m := range state.Transcript {
		if m.Role != wantRoles[i] {
			t.Errorf("Transcript[%d].Role = %q, want %q", i, m.Role, wantRoles[i])
		}
	}
	seen := map[string]bool{}
	for _, m := range state.Transcript {
		if m.ClientMessageID != "" {
			seen[m.ClientMessageID] = true
		}
	}
	if !seen["m-1"] || !seen["m-2"] {
		t.Errorf("client message ids in transcript = %v, want both", seen)
	}

	events, err := f.mem.EventsSince(ctx, tracking.KindMessageExchange, time.Time{}, 10)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("exchange events = %d, want 2", len(events))
	}
	seqs := map[int64]bool{}
	for _, ev := range events {
		seqs[ev.Seq] = true
	}
	if !seqs[1] || !seqs[2] {
		t.Errorf("event seqs = %v, want distinct 1 and 2", seqs)
	}
}

func TestEndConversation_RewardsAndOutcomeEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{Name: "Sofía"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if _, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-1", Text: "Hola, quiero saber más del curso",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := f.orch.EndConversation(ctx, id, conversation.OutcomeConverted, "enrolled"); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}

	state, err := f.orch.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if state.Phase != conversation.PhaseTerminal {
		t.Errorf("Phase = %q, want %q", state.Phase, conversation.PhaseTerminal)
	}
	if state.Outcome != conversation.OutcomeConverted || state.EndReason != "enrolled" {
		t.Errorf("terminal state = %q/%q, want converted/enrolled", state.Outcome, state.EndReason)
	}

	gs, ok := f.exp.State(bandit.ExperimentGreetingStyle)
	if !ok {
		t.Fatal("greeting experiment missing")
	}
	var rewards int64
	var rewardSum float64
	for _, arm := range gs.Arms {
		rewards += arm.Rewards
		rewardSum += arm.RewardSum
	}
	if rewards != 1 || rewardSum != 1.0 {
		t.Errorf("greeting arms rewards = %d sum %.1f, want one reward of 1.0", rewards, rewardSum)
	}

	events, err := f.mem.EventsSince(ctx, tracking.KindConversationOutcome, time.Time{}, 10)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("outcome events = %d, want 1", len(events))
	}
	var out tracking.ConversationOutcome
	if err := json.Unmarshal(events[0].Payload, &out); err != nil {
		t.Fatalf("decode outcome payload: %v", err)
	}
	if out.Outcome != "converted" || out.Metrics.TargetAction != "close" {
		t.Errorf("outcome payload = %q/%q, want converted/close", out.Outcome, out.Metrics.TargetAction)
	}
	if out.Metrics.Messages != 2 {
		t.Errorf("Metrics.Messages = %d, want 2", out.Metrics.Messages)
	}

	// Ending again is a no-op: no extra event, no extra reward.
	if err := f.orch.EndConversation(ctx, id, conversation.OutcomeLost, "changed mind"); err != nil {
		t.Fatalf("repeat EndConversation: %v", err)
	}
	events, err = f.mem.EventsSince(ctx, tracking.KindConversationOutcome, time.Time{}, 10)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("outcome events after repeat end = %d, want still 1", len(events))
	}
	gs, _ = f.exp.State(bandit.ExperimentGreetingStyle)
	rewards = 0
	for _, arm := range gs.Arms {
		rewards += arm.Rewards
	}
	if rewards != 1 {
		t.Errorf("rewards after repeat end = %d, want still 1", rewards)
	}
}

func TestEndConversation_OutcomeValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	if err := f.orch.EndConversation(ctx, id, conversation.Outcome("weird"), ""); !fault.Is(err, fault.KindValidation) {
		t.Errorf("invalid outcome: error = %v, want VALIDATION", err)
	}

	if err := f.orch.EndConversation(ctx, id, "", ""); err != nil {
		t.Fatalf("default outcome EndConversation: %v", err)
	}
	state, err := f.orch.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if state.Outcome != conversation.OutcomeLost || state.EndReason != "caller_ended" {
		t.Errorf("defaults = %q/%q, want lost/caller_ended", state.Outcome, state.EndReason)
	}
}

func TestReaper_SweepAbandonsIdleSessions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(cfg *orchestrator.Config) {
		cfg.IdleTimeout = 5 * time.Millisecond
	})
	ctx := context.Background()

	stale1, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	stale2, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	active, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	r := orchestrator.NewReaper(f.orch, orchestrator.WithSweepBatch(10))
	n, err := r.SweepNow(ctx)
	if err != nil {
		t.Fatalf("SweepNow: %v", err)
	}
	if n != 2 {
		t.Fatalf("SweepNow reaped %d sessions, want 2", n)
	}

	for _, id := range []string{stale1, stale2} {
		state, err := f.orch.GetConversation(ctx, id)
		if err != nil {
			t.Fatalf("GetConversation(%s): %v", id, err)
		}
		if !state.Terminated() || state.Outcome != conversation.OutcomeAbandoned {
			t.Errorf("session %s = %q/%q, want terminated as abandoned", id, state.Phase, state.Outcome)
		}
		if state.EndReason != "inactivity timeout" {
			t.Errorf("EndReason = %q, want inactivity timeout", state.EndReason)
		}
	}

	state, err := f.orch.GetConversation(ctx, active)
	if err != nil {
		t.Fatalf("GetConversation(active): %v", err)
	}
	if state.Terminated() {
		t.Error("active session was reaped")
	}

	events, err := f.mem.EventsSince(ctx, tracking.KindConversationOutcome, time.Time{}, 10)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("outcome events = %d, want one per reaped session", len(events))
	}
}

func TestReaper_StartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	r := orchestrator.NewReaper(f.orch, orchestrator.WithSweepInterval(time.Hour))
	r.Start(context.Background())
	r.Stop()
	r.Stop()
}

// flakyVoice fails the first n Synthesize calls, then returns audio.
type flakyVoice struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyVoice) Synthesize(_ context.Context, _ string, _ types.VoiceProfile) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("synthesis backend 500")
	}
	return []byte("OggS"), nil
}

func (f *flakyVoice) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	return nil, nil
}

func TestSendMessage_VoiceRetryRecoversAudio(t *testing.T) {
	t.Parallel()
	fv := &flakyVoice{fails: 1}
	f := newFixture(t, func(cfg *orchestrator.Config) {
		cfg.Voice = fv
		cfg.VoiceProfile = types.VoiceProfile{ID: "v-demo"}
	})
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{Name: "Paula"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	got, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-1", Text: "Hola, quisiera información", WithVoice: true,
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(got.Audio) == 0 {
		t.Fatal("Audio is empty, want synthesized bytes after one retry")
	}
	if fv.calls != 2 {
		t.Errorf("synthesize calls = %d, want one failure and one retry", fv.calls)
	}
}

func TestSendMessage_PromptCarriesKnowledgeFacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	shared := cache.NewMemory()
	f := newFixture(t, func(cfg *orchestrator.Config) { cfg.Cache = shared })

	k := &empathy.Knowledge{General: []string{"Todas las inscripciones incluyen garantía de 14 días."}}
	if err := empathy.WarmKnowledge(ctx, shared, k); err != nil {
		t.Fatalf("WarmKnowledge: %v", err)
	}

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{Name: "Ana"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if _, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-1", Text: "Hola, quiero informes del curso",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if len(f.provider.CompleteCalls) == 0 {
		t.Fatal("provider was never called")
	}
	sys := f.provider.CompleteCalls[0].Req.SystemPrompt
	if !strings.Contains(sys, "garantía de 14 días") {
		t.Errorf("system prompt missing the warmed fact:\n%s", sys)
	}
}

func TestSendMessage_DisabledPredictorServesFallbackDegraded(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(cfg *orchestrator.Config) {
		cfg.Predictors = predict.NewSet(models.NewRegistry(), predict.WithDisabled(models.ModelObjection))
	})
	ctx := context.Background()

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{Name: "Ana"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	got, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-1", Text: "Es muy caro para mí",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if !got.Insights.Degraded {
		t.Error("Insights.Degraded = false, want true while a predictor is disabled")
	}
	found := false
	for _, tag := range got.Insights.PredictedObjections {
		if tag == "price_too_high" {
			found = true
		}
	}
	if !found {
		t.Errorf("PredictedObjections = %v, want price_too_high from the rule fallback", got.Insights.PredictedObjections)
	}

	state, err := f.orch.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	var rec *conversation.PredictionRecord
	for i := range state.PredictionsLog {
		if state.PredictionsLog[i].ModelID == models.ModelObjection {
			rec = &state.PredictionsLog[i]
		}
	}
	if rec == nil {
		t.Fatalf("predictions log carries no %s entry", models.ModelObjection)
	}
	if rec.ModelVersion != predict.FallbackVersion {
		t.Errorf("logged ModelVersion = %q, want %q", rec.ModelVersion, predict.FallbackVersion)
	}
	if !rec.Degraded {
		t.Error("logged prediction not flagged degraded")
	}
}

func TestSendMessage_PopulatesDecisionCaches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	shared := cache.NewMemory()
	f := newFixture(t, func(cfg *orchestrator.Config) { cfg.Cache = shared })

	id, err := f.orch.StartConversation(ctx, conversation.CustomerProfile{
		Name: "Carlos", Age: 42, Profession: "CEO", Budget: "high",
	})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if _, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-1", Text: "Hola, busco mejorar mi productividad",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	state, err := f.orch.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	raw, ok, err := shared.Get(ctx, cache.NSTierDecision, cache.Key(id, state.TranscriptPrefixHash()))
	if err != nil || !ok {
		t.Fatalf("tier decision not cached under the prefix hash: ok=%v err=%v", ok, err)
	}
	var dec conversation.TierDecision
	if err := json.Unmarshal(raw, &dec); err != nil {
		t.Fatalf("cached tier decision: %v", err)
	}
	if dec.Detected == "" {
		t.Error("cached tier decision carries no tier")
	}

	for _, modelID := range models.ModelIDs {
		n, err := shared.Invalidate(ctx, cache.NSPrediction, modelID)
		if err != nil {
			t.Fatalf("Invalidate(%s): %v", modelID, err)
		}
		if n == 0 {
			t.Errorf("no cached prediction for model %s", modelID)
		}
	}
}

func TestSendMessage_TierDecisionServedFromCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	shared := cache.NewMemory()
	f := newFixture(t, func(cfg *orchestrator.Config) { cfg.Cache = shared })

	profile := conversation.CustomerProfile{Name: "Luz"}
	id, err := f.orch.StartConversation(ctx, profile)
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}

	// Plant a decision under the prefix hash of the message about to be
	// sent; the analyzer would not reach Elite for this profile on its own.
	const text = "Hola, quiero informes"
	now := time.Now().UTC()
	scratch := conversation.NewState("scratch", profile, now)
	scratch.AppendMessage(conversation.RoleUser, text, "", now)
	planted := conversation.TierDecision{
		Detected: conversation.TierElite, Confidence: 0.97, LastUpdated: now,
	}
	raw, err := json.Marshal(planted)
	if err != nil {
		t.Fatalf("marshal planted decision: %v", err)
	}
	key := cache.Key(id, scratch.TranscriptPrefixHash())
	if err := shared.Set(ctx, cache.NSTierDecision, key, raw); err != nil {
		t.Fatalf("seed tier cache: %v", err)
	}

	if _, err := f.orch.SendMessage(ctx, orchestrator.Request{
		SessionID: id, ClientMessageID: "m-1", Text: text,
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	state, err := f.orch.GetConversation(ctx, id)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if state.Tier == nil {
		t.Fatal("session has no tier decision")
	}
	if state.Tier.Detected != conversation.TierElite {
		t.Errorf("Tier.Detected = %q, want %q from the cached decision", state.Tier.Detected, conversation.TierElite)
	}
	if state.Tier.Confidence != 0.97 {
		t.Errorf("Tier.Confidence = %v, want 0.97 from the cached decision", state.Tier.Confidence)
	}
}
