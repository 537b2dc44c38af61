// Package llm defines the [Provider] abstraction over Large Language Model
// backends.
//
// The reply engine and the resilience fallback chains talk to models only
// through this interface, so swapping OpenAI for Anthropic, a local Ollama
// instance or a test mock never touches conversation code. Concrete
// implementations live in the subpackages openai, anyllm and mock.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/cierra-ai/cierra/pkg/types"
)

// Usage is the token accounting a backend reports for one completion. Counts
// are in the model's own token unit, so the same text can cost a different
// amount on different backends.
type Usage struct {
	// PromptTokens covers the input messages plus the system prompt. This is
	// the number that drives billing and context-window budgeting.
	PromptTokens int

	// CompletionTokens covers the generated reply.
	CompletionTokens int

	// TotalTokens is the sum of the two. Some backends return it directly,
	// others leave it to the adapter to add up.
	TotalTokens int
}

// CompletionRequest carries one model call. Messages must be non-empty; the
// other fields are optional.
type CompletionRequest struct {
	// Messages is the conversation history in order. The final entry is
	// normally the user turn the model should answer.
	Messages []types.Message

	// Temperature sets sampling randomness in [0.0, 2.0]. Zero asks the
	// backend for its default rather than forcing greedy decoding.
	Temperature float64

	// MaxTokens caps generated tokens. Zero defers to the backend default,
	// usually the model's MaxOutputTokens.
	MaxTokens int

	// SystemPrompt is injected ahead of the history. Backends with a native
	// system channel use it; the rest prepend a system-role message.
	SystemPrompt string

	// StopSequences ends generation early when any sequence appears.
	StopSequences []string
}

// CompletionResponse is what Complete returns.
type CompletionResponse struct {
	// Content is the full reply text.
	Content string

	// FinishReason says why generation stopped: "stop" for a natural end,
	// "length" when MaxTokens cut it off.
	FinishReason string

	// Usage is the token accounting for this call.
	Usage Usage
}

// Provider is implemented by every LLM backend adapter.
//
// Implementations must be safe for concurrent use and must honour context
// cancellation: when ctx ends, in-flight calls return promptly.
type Provider interface {
	// Complete sends req and blocks until the full reply arrives or ctx ends.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many context-window tokens messages would
	// consume. The engine calls this before sending to enforce its context
	// budget, so estimates should err high rather than low. Exactness is not
	// required; a local approximation is fine.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities reports static model metadata. The result must not change
	// over the life of the Provider.
	Capabilities() types.ModelCapabilities
}
