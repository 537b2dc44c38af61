// Package openai implements [llm.Provider] on the official OpenAI Go SDK.
//
// It exists alongside the any-llm openai backend because the official SDK
// carries features the generic client does not: organization scoping, typed
// request options and a per-request HTTP timeout.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/cierra-ai/cierra/pkg/provider/llm"
	"github.com/cierra-ai/cierra/pkg/types"
)

// Provider talks to the OpenAI chat completions API.
// Safe for concurrent use.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

type options struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option configures optional Provider behaviour.
type Option func(*options)

// WithBaseURL points the client at an OpenAI-compatible endpoint instead of
// api.openai.com, for example a proxy or an Azure deployment.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithOrganization stamps the organization ID onto every request.
func WithOrganization(org string) Option {
	return func(o *options) { o.organization = org }
}

// WithTimeout bounds each HTTP request. Zero leaves the SDK default in place.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// New builds a Provider for the given model. The API key is required; use
// [WithBaseURL] to target a compatible non-OpenAI endpoint.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is empty")
	}
	if model == "" {
		return nil, errors.New("openai: model is empty")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(o.organization))
	}
	if o.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: o.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response carried no choices")
	}

	choice := resp.Choices[0]
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Token estimate tuning, shared reasoning with the anyllm package: four
// characters per token approximates the GPT tokenisers, and each message
// costs a few extra tokens of role and separator framing.
const (
	approxCharsPerToken = 4
	perMessageOverhead  = 4
)

// CountTokens implements [llm.Provider] with a character-count approximation
// that errs high, keeping context budget enforcement safe.
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

// capRule maps a model-name prefix to its context limits. First match wins,
// so narrower prefixes come before family catch-alls.
type capRule struct {
	prefix string
	window int
	maxOut int
}

var capRules = []capRule{
	{prefix: "gpt-4o", window: 128_000, maxOut: 16_384},
	{prefix: "gpt-4-turbo", window: 128_000, maxOut: 4_096},
	{prefix: "gpt-4", window: 8_192, maxOut: 4_096},
	{prefix: "gpt-3.5-turbo", window: 16_385, maxOut: 4_096},
	{prefix: "o1-mini", window: 128_000, maxOut: 65_536},
	{prefix: "o1", window: 200_000, maxOut: 100_000},
	{prefix: "o3", window: 200_000, maxOut: 100_000},
}

// modelCapabilities resolves context limits for known OpenAI model families.
// Unknown models get conservative defaults.
func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsStreaming: true,
		ContextWindow:     128_000,
		MaxOutputTokens:   4_096,
	}

	name := strings.ToLower(model)
	for _, r := range capRules {
		if strings.HasPrefix(name, r.prefix) {
			caps.ContextWindow = r.window
			caps.MaxOutputTokens = r.maxOut
			break
		}
	}
	return caps
}

// params converts a CompletionRequest into SDK chat completion parameters.
// A non-empty system prompt becomes the leading system-role message.
func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		sdkMsg, err := sdkMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, sdkMsg)
	}

	out := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		out.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		out.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if len(req.StopSequences) > 0 {
		out.Stop = oai.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}
	return out, nil
}

// sdkMessage translates one conversation message into the SDK's role unions.
func sdkMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case types.RoleUser:
		return oai.UserMessage(m.Content), nil

	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
	}
}
