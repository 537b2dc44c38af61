// Package voice defines the Provider interface for speech synthesis backends.
//
// A voice provider wraps a synthesis service (e.g., ElevenLabs) and presents a
// request/response interface: the full agent reply goes in, encoded audio bytes
// come out. Synthesis is an optional, non-critical stage of the conversation
// pipeline; callers run it behind its own circuit breaker and treat failures as
// degraded output, never as request failures.
//
// Implementations must be safe for concurrent use.
package voice

import (
	"context"

	"github.com/cierra-ai/cierra/pkg/types"
)

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the raw audio
	// bytes. The encoding is provider-specific (PCM for ElevenLabs by default);
	// callers treat the payload as opaque.
	//
	// Returns an error if synthesis cannot be completed before ctx is done.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
