package resilience

import (
	"context"

	"github.com/cierra-ai/cierra/pkg/provider/voice"
	"github.com/cierra-ai/cierra/pkg/types"
)

// VoiceFallback implements [voice.Provider] with automatic failover across
// multiple synthesis backends, mirroring [LLMFallback].
type VoiceFallback struct {
	group *FallbackGroup[voice.Provider]
}

// Compile-time interface assertion.
var _ voice.Provider = (*VoiceFallback)(nil)

// NewVoiceFallback creates a [VoiceFallback] with primary as the preferred backend.
func NewVoiceFallback(primary voice.Provider, primaryName string, cfg FallbackConfig) *VoiceFallback {
	return &VoiceFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional voice provider as a fallback.
func (f *VoiceFallback) AddFallback(name string, provider voice.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text with the first healthy provider. Voice profiles are
// provider-specific, so a fallback provider may render with a different voice
// than requested; callers accept that as part of degraded operation.
func (f *VoiceFallback) Synthesize(ctx context.Context, text string, v types.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(f.group, func(p voice.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, v)
	})
}

// ListVoices returns the catalogue of the first healthy provider.
func (f *VoiceFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p voice.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
