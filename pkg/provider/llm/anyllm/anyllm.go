// Package anyllm adapts github.com/mozilla-ai/any-llm-go to the [llm.Provider]
// interface, giving the reply engine a single constructor for every backend
// the library speaks: OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral,
// Groq, llama.cpp and llamafile.
//
// The backend is chosen by name at construction time, which is how the
// provider registry assembles fallback chains from configuration:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
//	p, err := anyllm.New("ollama", "llama3.2", anyllmlib.WithBaseURL("http://localhost:11434"))
//
// Hosted backends read their usual environment variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, ...) when no key option is given; local backends connect
// to their default address unless overridden with anyllmlib.WithBaseURL.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/cierra-ai/cierra/pkg/provider/llm"
	"github.com/cierra-ai/cierra/pkg/types"
)

// backendFactories maps a normalised backend name to its any-llm constructor.
// Keeping the whole set in one table means Supported and New can never drift
// apart.
var backendFactories = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(opts...) },
	"anthropic": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(opts...) },
	"gemini":    func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(opts...) },
	"ollama":    func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(opts...) },
	"deepseek":  func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(opts...) },
	"mistral":   func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(opts...) },
	"groq":      func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(opts...) },
	"llamacpp":  func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(opts...) },
	"llamafile": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(opts...) },
}

// Supported returns the backend names accepted by [New], sorted.
func Supported() []string {
	names := make([]string, 0, len(backendFactories))
	for name := range backendFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider routes completions through one any-llm backend.
// Safe for concurrent use.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New builds a Provider for the named backend. The name is matched
// case-insensitively against [Supported]; model is the backend-specific model
// identifier, for example "gpt-4o" or "claude-3-5-sonnet-latest".
func New(backendName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backendName == "" {
		return nil, errors.New("anyllm: backend name is empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model is empty")
	}

	name := strings.ToLower(backendName)
	factory, ok := backendFactories[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unknown backend %q, supported: %s", backendName, strings.Join(Supported(), ", "))
	}

	backend, err := factory(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: init %s backend: %w", name, err)
	}
	return &Provider{backend: backend, name: name, model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}

	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content:      choice.Message.ContentString(),
		FinishReason: choice.FinishReason,
	}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Token estimate tuning. Four characters per token tracks the common BPE
// tokenisers closely enough for context budget checks; the per-message
// overhead accounts for role and separator tokens.
const (
	approxCharsPerToken = 4
	perMessageOverhead  = 4
)

// CountTokens implements [llm.Provider] with a character-count approximation.
// The estimate errs high on dense text, which keeps budget enforcement safe.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + approxCharsPerToken - 1) / approxCharsPerToken
		total += perMessageOverhead
	}
	return total, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// params converts a CompletionRequest into any-llm completion parameters.
// A non-empty system prompt becomes the leading system-role message.
func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name})
	}

	out := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		temp := req.Temperature
		out.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		limit := req.MaxTokens
		out.MaxTokens = &limit
	}
	if len(req.StopSequences) > 0 {
		out.Stop = req.StopSequences
	}
	return out
}

// capRule maps a model-name pattern to its context limits. Rules are evaluated
// in order and the first match wins, so narrower patterns come before the
// family catch-alls.
type capRule struct {
	prefix   string
	contains string
	window   int
	maxOut   int
}

var capRules = []capRule{
	// OpenAI
	{prefix: "gpt-4o", window: 128_000, maxOut: 16_384},
	{prefix: "gpt-4-turbo", window: 128_000, maxOut: 4_096},
	{prefix: "gpt-4", window: 8_192, maxOut: 4_096},
	{prefix: "gpt-3.5-turbo", window: 16_385, maxOut: 4_096},
	{prefix: "o1-mini", window: 128_000, maxOut: 65_536},
	{prefix: "o1", window: 200_000, maxOut: 100_000},
	{prefix: "o3", window: 200_000, maxOut: 100_000},
	// Anthropic
	{contains: "claude-3-opus", window: 200_000, maxOut: 4_096},
	{prefix: "claude", window: 200_000, maxOut: 8_192},
	// Google
	{contains: "gemini-2.0-flash", window: 1_048_576, maxOut: 8_192},
	{contains: "gemini-1.5-pro", window: 2_097_152, maxOut: 8_192},
	{contains: "gemini-1.5-flash", window: 1_048_576, maxOut: 8_192},
	{prefix: "gemini", window: 128_000, maxOut: 8_192},
}

// modelCapabilities resolves context limits for known OpenAI, Anthropic and
// Gemini model families. Unknown models get conservative defaults.
func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsStreaming: true,
		ContextWindow:     128_000,
		MaxOutputTokens:   4_096,
	}

	name := strings.ToLower(model)
	for _, r := range capRules {
		if r.prefix != "" && !strings.HasPrefix(name, r.prefix) {
			continue
		}
		if r.contains != "" && !strings.Contains(name, r.contains) {
			continue
		}
		caps.ContextWindow = r.window
		caps.MaxOutputTokens = r.maxOut
		break
	}
	return caps
}
