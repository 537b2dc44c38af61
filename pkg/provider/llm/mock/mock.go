// Package mock provides an in-memory [llm.Provider] double for tests and for
// demo runs without a live backend.
//
// The zero value is usable: every method returns its configured field, so a
// bare &mock.Provider{} completes with a nil response and nil error. Set
// fields before handing the provider to the code under test; the struct
// serialises concurrent calls internally, but reconfiguring fields mid-flight
// is up to the caller.
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "¡Hola!"},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/cierra-ai/cierra/pkg/provider/llm"
	"github.com/cierra-ai/cierra/pkg/types"
)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider implements [llm.Provider] with scriptable results.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc computes the response per call when set, taking precedence
	// over CompleteResponse and CompleteErr. Use it for scripted sequences
	// such as fail-twice-then-succeed.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteResponse and CompleteErr are the canned results of Complete.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount and CountTokensErr are the canned results of CountTokens.
	TokenCount     int
	CountTokensErr error

	// ModelCapabilities is the canned result of Capabilities.
	ModelCapabilities types.ModelCapabilities

	// CompleteCalls records every Complete invocation in order. Read it after
	// the code under test has finished to assert on the requests it sent.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call, then returns the scripted result.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// CountTokens returns the scripted count.
func (p *Provider) CountTokens(_ []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns the scripted capabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}
