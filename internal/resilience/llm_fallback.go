package resilience

import (
	"context"

	"github.com/cierra-ai/cierra/pkg/provider/llm"
	"github.com/cierra-ai/cierra/pkg/types"
)

// LLMFallback chains several [llm.Provider] backends behind one provider
// interface. Every backend gets its own circuit breaker; calls go to the
// first entry whose breaker admits them, so an outage at the primary model
// degrades to the next configured backend instead of failing the turn.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback builds a chain with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends provider to the end of the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete runs the completion on the first healthy backend, failing over
// down the chain on error.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens estimates with the first healthy backend's tokeniser. Counts
// may differ a little between backends; they are estimates either way.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary backend's limits without consulting the
// breaker: capabilities are static metadata, not a remote call.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	if len(f.group.entries) == 0 {
		return types.ModelCapabilities{}
	}
	return f.group.entries[0].value.Capabilities()
}
