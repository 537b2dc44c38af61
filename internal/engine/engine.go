// Package engine is the reply gateway: it assembles the final LLM prompt from
// the conversation window, the customer profile and the empathy composition,
// invokes the language model with phase-appropriate sampling parameters, and
// degrades gracefully when the model is unavailable.
//
// The degraded path is layered: a failed or breaker-open completion first
// consults the llm_response cache for a recent reply to the same prompt and
// only then falls back to the composer's canned text for the current bucket
// and phase. [Engine.Generate] therefore always produces usable agent text;
// it returns an error only when the caller's context is cancelled.
//
// The empathy fragment travels as a trailing assistant-role message so the
// model continues it instead of restarting the reply; the gateway stitches
// fragment and completion back together before returning.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cierra-ai/cierra/internal/cache"
	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/empathy"
	"github.com/cierra-ai/cierra/internal/resilience"
	"github.com/cierra-ai/cierra/pkg/provider/llm"
	"github.com/cierra-ai/cierra/pkg/types"
)

// Reply sources reported in [Result.Source].
const (
	SourceLLM    = "llm"
	SourceCache  = "cache"
	SourceCanned = "canned"
)

// ParamsGreeting keys the sampling parameters for the very first exchange,
// which is warmer and shorter than regular discovery turns.
const ParamsGreeting = "greeting"

// defaultHistoryBudget is the token budget for the transcript window included
// in the prompt.
const defaultHistoryBudget = 1600

// DefaultPersona is the system-prompt persona used unless [WithPersona]
// overrides it.
const DefaultPersona = `Eres Cierra, asesora de ventas de un programa de formación en línea para el mercado hispano.
Acompañas a cada persona con calidez, validas sus emociones y nunca presionas.
Respondes en español neutro, en mensajes breves de dos a cuatro frases.
Nunca inventes precios, fechas ni promociones; si no conoces un dato, ofrece averiguarlo.`

// phaseGuidance is the per-phase instruction line appended to the system
// prompt.
var phaseGuidance = map[conversation.Phase]string{
	conversation.PhaseDiscovery: "Conoce a la persona: su situación actual, sus motivaciones y lo que quiere lograr.",
	conversation.PhaseAnalysis:  "Profundiza en sus necesidades y refléjalas con sus propias palabras.",
	conversation.PhaseFocused:   "Presenta el programa que encaja con sus necesidades, un beneficio a la vez.",
	conversation.PhaseObjection: "Atiende la objeción con empatía antes de argumentar; no repitas el precio sin contexto.",
	conversation.PhaseClosing:   "Guía hacia la inscripción con pasos concretos y sencillos.",
}

// Params are the sampling parameters for one generation.
type Params struct {
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// DefaultParams returns the built-in sampling table keyed by [ParamsGreeting]
// and the lowercase phase names.
func DefaultParams() map[string]Params {
	return map[string]Params{
		ParamsGreeting: {Temperature: 0.9, MaxTokens: 320},
		"discovery":    {Temperature: 0.8, MaxTokens: 380},
		"analysis":     {Temperature: 0.7, MaxTokens: 420},
		"focused":      {Temperature: 0.7, MaxTokens: 420},
		"objection":    {Temperature: 0.6, MaxTokens: 500},
		"closing":      {Temperature: 0.6, MaxTokens: 400},
	}
}

// ParamsKey maps a phase to its entry in the sampling table. The first
// exchange of a session uses the greeting entry regardless of phase.
func ParamsKey(phase conversation.Phase, firstExchange bool) string {
	if firstExchange && phase == conversation.PhaseDiscovery {
		return ParamsGreeting
	}
	return strings.ToLower(string(phase))
}

// PromptInput carries everything [Engine.BuildPrompt] needs for one turn.
type PromptInput struct {
	Phase         conversation.Phase
	FirstExchange bool
	Profile       conversation.CustomerProfile
	Tier          conversation.Tier

	// Facts are product statements from the static-knowledge cache the
	// model may draw on. Empty when no fact sheet is loaded.
	Facts []string

	// Transcript is the full session transcript; the engine selects the
	// window that fits the history budget.
	Transcript []conversation.Message

	// Composition is the empathy fragment and prompt directives for this
	// turn.
	Composition empathy.Composition
}

// Prompt is an assembled LLM request, ready for [Engine.Generate].
type Prompt struct {
	System   string
	Messages []types.Message

	// Fragment is the empathy opener carried as the trailing assistant
	// message; Generate prepends it to the completion.
	Fragment string

	// Phase and Category drive the response cache key and the canned
	// fallback bucket.
	Phase    conversation.Phase
	Category string
}

// Result is the outcome of one generation.
type Result struct {
	Text       string
	TokensUsed int
	Latency    time.Duration

	// Degraded marks replies that did not come from a live completion.
	Degraded bool

	// Source is one of [SourceLLM], [SourceCache] or [SourceCanned].
	Source string
}

// Option configures an [Engine].
type Option func(*Engine)

// WithBreaker wraps every completion in the given circuit breaker.
func WithBreaker(b resilience.Breaker) Option {
	return func(e *Engine) { e.breaker = b }
}

// WithCache enables llm_response caching of successful replies.
func WithCache(store cache.Cache) Option {
	return func(e *Engine) { e.cache = store }
}

// WithParams replaces the sampling table. Missing keys fall back to the
// built-in defaults.
func WithParams(params map[string]Params) Option {
	return func(e *Engine) {
		for k, p := range params {
			e.params[k] = p
		}
	}
}

// WithPersona overrides the system-prompt persona.
func WithPersona(persona string) Option {
	return func(e *Engine) { e.persona = persona }
}

// WithHistoryBudget sets the token budget for the transcript window included
// in prompts. Default is 1600.
func WithHistoryBudget(tokens int) Option {
	return func(e *Engine) { e.historyBudget = tokens }
}

// WithRetries grants each completion up to n additional attempts after a
// failure. An open breaker is never retried. Zero keeps single-attempt
// behaviour.
func WithRetries(n int) Option {
	return func(e *Engine) { e.retries = n }
}

// Engine is the reply gateway. Safe for concurrent use.
type Engine struct {
	provider llm.Provider
	composer *empathy.Composer
	breaker  resilience.Breaker
	cache    cache.Cache

	persona       string
	params        map[string]Params
	historyBudget int
	retries       int
}

// New constructs an Engine over the given provider. The composer supplies
// canned fallback text; pass the same instance the orchestrator composes
// with. Use [resilience.LLMFallback] as the provider to chain multiple
// backends.
func New(provider llm.Provider, composer *empathy.Composer, opts ...Option) *Engine {
	e := &Engine{
		provider:      provider,
		composer:      composer,
		persona:       DefaultPersona,
		params:        DefaultParams(),
		historyBudget: defaultHistoryBudget,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Params returns the sampling parameters for a turn, falling back to the
// discovery entry when the table has no match.
func (e *Engine) Params(phase conversation.Phase, firstExchange bool) Params {
	if p, ok := e.params[ParamsKey(phase, firstExchange)]; ok {
		return p
	}
	return e.params["discovery"]
}

// BuildPrompt assembles the system prompt and message history for one turn.
// The transcript window is chosen newest-first within the history budget and
// the empathy fragment, when present, becomes a trailing assistant message
// the model must continue.
func (e *Engine) BuildPrompt(in PromptInput) Prompt {
	var sb strings.Builder
	sb.WriteString(e.persona)
	sb.WriteString("\n\n")
	writeCustomerCard(&sb, in.Profile, in.Tier)

	if len(in.Facts) > 0 {
		sb.WriteString("\nDatos del programa:\n")
		for _, f := range in.Facts {
			sb.WriteString("- ")
			sb.WriteString(f)
			sb.WriteString("\n")
		}
	}

	if g, ok := phaseGuidance[in.Phase]; ok {
		sb.WriteString("\nEtapa actual: ")
		sb.WriteString(g)
		sb.WriteString("\n")
	}
	if len(in.Composition.Directives) > 0 {
		sb.WriteString("\nIndicaciones para esta respuesta:\n")
		for _, d := range in.Composition.Directives {
			sb.WriteString("- ")
			sb.WriteString(d)
			sb.WriteString("\n")
		}
	}
	if in.Composition.Fragment != "" {
		sb.WriteString("\nTu respuesta ya comienza con la frase dada; continúala de forma natural, sin repetirla.\n")
	}

	window := conversation.PromptWindow(in.Transcript, e.historyBudget)
	msgs := make([]types.Message, 0, len(window)+1)
	for _, m := range window {
		msgs = append(msgs, types.Message{Role: providerRole(m.Role), Content: m.Text})
	}
	if in.Composition.Fragment != "" {
		msgs = append(msgs, types.Message{Role: types.RoleAssistant, Content: in.Composition.Fragment})
	}

	return Prompt{
		System:   sb.String(),
		Messages: msgs,
		Fragment: in.Composition.Fragment,
		Phase:    in.Phase,
		Category: in.Composition.Category,
	}
}

// Generate invokes the model and returns the reply text with token usage and
// latency. Provider failure or an open breaker degrades to a cached reply for
// the same prompt, then to the composer's canned text; the returned error is
// non-nil only when ctx was cancelled.
func (e *Engine) Generate(ctx context.Context, prompt Prompt, params Params) (Result, error) {
	key := e.promptKey(prompt)
	start := time.Now()

	resp, err := e.complete(ctx, prompt, params)
	if err == nil {
		text := stitch(prompt.Fragment, resp.Content)
		if e.cache != nil {
			_ = e.cache.Set(ctx, cache.NSLLMResponse, key, []byte(text))
		}
		return Result{
			Text:       text,
			TokensUsed: resp.Usage.TotalTokens,
			Latency:    time.Since(start),
			Source:     SourceLLM,
		}, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return Result{}, ctx.Err()
	}

	slog.Warn("completion degraded", "phase", prompt.Phase, "error", err)

	if e.cache != nil {
		if val, ok, cerr := e.cache.Get(ctx, cache.NSLLMResponse, key); cerr == nil && ok {
			slog.Debug("serving cached reply", "phase", prompt.Phase)
			return Result{
				Text:     string(val),
				Latency:  time.Since(start),
				Degraded: true,
				Source:   SourceCache,
			}, nil
		}
	}

	return Result{
		Text:     e.canned(prompt),
		Latency:  time.Since(start),
		Degraded: true,
		Source:   SourceCanned,
	}, nil
}

// Canned returns the composer's degraded reply for a prompt without touching
// the provider. Used when the orchestrator's own deadline expires before a
// completion arrives.
func (e *Engine) Canned(phase conversation.Phase, category string) string {
	return e.canned(Prompt{Phase: phase, Category: category})
}

func (e *Engine) complete(ctx context.Context, prompt Prompt, params Params) (*llm.CompletionResponse, error) {
	req := llm.CompletionRequest{
		Messages:     prompt.Messages,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
		SystemPrompt: prompt.System,
	}

	var resp *llm.CompletionResponse
	call := func() error {
		var err error
		resp, err = e.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return fmt.Errorf("empty completion")
		}
		return nil
	}

	attempt := func() error {
		if e.breaker != nil {
			return e.breaker.Execute(call)
		}
		return call()
	}

	err := attempt()
	for left := e.retries; err != nil && left > 0; left-- {
		if ctx.Err() != nil || errors.Is(err, resilience.ErrCircuitOpen) {
			break
		}
		err = attempt()
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// canned picks the fallback bucket for the prompt: price when the turn was
// composed as a price objection, product while presenting the program, and
// general otherwise.
func (e *Engine) canned(prompt Prompt) string {
	bucket := empathy.CannedGeneral
	switch {
	case prompt.Category == empathy.CategoryPriceObjection:
		bucket = empathy.CannedPrice
	case prompt.Phase == conversation.PhaseFocused:
		bucket = empathy.CannedProduct
	}
	return e.composer.Canned(bucket, prompt.Phase)
}

// promptKey fingerprints the assembled prompt for the llm_response namespace.
func (e *Engine) promptKey(prompt Prompt) string {
	var sb strings.Builder
	sb.WriteString(prompt.System)
	for _, m := range prompt.Messages {
		sb.WriteString("\x1f")
		sb.WriteString(m.Role)
		sb.WriteString(":")
		sb.WriteString(m.Content)
	}
	return cache.Key(string(prompt.Phase), conversation.FingerprintInputs(sb.String()))
}

// stitch joins the empathy fragment and the model's continuation into one
// reply, dropping an echoed fragment when the model repeats it.
func stitch(fragment, completion string) string {
	completion = strings.TrimSpace(completion)
	if fragment == "" {
		return completion
	}
	if completion == "" {
		return fragment
	}
	if strings.HasPrefix(completion, fragment) {
		return completion
	}
	return fragment + " " + completion
}

// providerRole maps transcript roles onto the provider role set.
func providerRole(role string) string {
	switch role {
	case conversation.RoleAgent:
		return types.RoleAssistant
	case conversation.RoleSystem:
		return types.RoleSystem
	default:
		return types.RoleUser
	}
}

// writeCustomerCard renders the known customer facts into the system prompt.
func writeCustomerCard(sb *strings.Builder, p conversation.CustomerProfile, tier conversation.Tier) {
	sb.WriteString("Datos del cliente:\n")
	name := p.Name
	if name == "" {
		name = "cliente"
	}
	fmt.Fprintf(sb, "- Nombre: %s\n", name)
	if p.Age > 0 {
		fmt.Fprintf(sb, "- Edad: %d\n", p.Age)
	}
	if p.Profession != "" {
		fmt.Fprintf(sb, "- Profesión: %s\n", p.Profession)
	}
	if p.Budget != "" {
		fmt.Fprintf(sb, "- Presupuesto declarado: %s\n", p.Budget)
	}
	if p.Goal != "" {
		fmt.Fprintf(sb, "- Meta: %s\n", p.Goal)
	}
	if tier != "" {
		fmt.Fprintf(sb, "- Plan sugerido: %s\n", tier)
	}
}
