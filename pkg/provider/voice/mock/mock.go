// Package mock provides a test double for the voice.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/cierra-ai/cierra/pkg/provider/voice"
	"github.com/cierra-ai/cierra/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice types.VoiceProfile
}

// Provider is a mock implementation of voice.Provider.
// Zero values cause methods to return empty results and nil errors.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns Audio, SynthesizeErr.
func (p *Provider) Synthesize(_ context.Context, text string, v types.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: v})
	return p.Audio, p.SynthesizeErr
}

// ListVoices returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.ListVoicesErr
}

// Ensure Provider implements voice.Provider at compile time.
var _ voice.Provider = (*Provider)(nil)
