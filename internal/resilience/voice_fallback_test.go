package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"

	voicemock "github.com/cierra-ai/cierra/pkg/provider/voice/mock"
	"github.com/cierra-ai/cierra/pkg/types"
)

func TestVoiceFallback_Synthesize_PrimarySuccess(t *testing.T) {
	primary := &voicemock.Provider{Audio: []byte("primary-audio")}
	secondary := &voicemock.Provider{Audio: []byte("secondary-audio")}

	fb := NewVoiceFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: Config{FailureThreshold: 3},
	})
	fb.AddFallback("secondary", secondary)

	audio, err := fb.Synthesize(context.Background(), "hola", types.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(audio, []byte("primary-audio")) {
		t.Fatalf("audio = %q, want primary-audio", audio)
	}
	if len(primary.SynthesizeCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.SynthesizeCalls))
	}
	if got := primary.SynthesizeCalls[0].Text; got != "hola" {
		t.Fatalf("synthesized text = %q, want hola", got)
	}
	if len(secondary.SynthesizeCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.SynthesizeCalls))
	}
}

func TestVoiceFallback_Synthesize_Failover(t *testing.T) {
	primary := &voicemock.Provider{SynthesizeErr: errTest}
	secondary := &voicemock.Provider{Audio: []byte("secondary-audio")}

	fb := NewVoiceFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: Config{FailureThreshold: 3},
	})
	fb.AddFallback("secondary", secondary)

	audio, err := fb.Synthesize(context.Background(), "hola", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(audio, []byte("secondary-audio")) {
		t.Fatalf("audio = %q, want secondary-audio", audio)
	}
}

func TestVoiceFallback_Synthesize_AllFail(t *testing.T) {
	primary := &voicemock.Provider{SynthesizeErr: errTest}

	fb := NewVoiceFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: Config{FailureThreshold: 3},
	})

	_, err := fb.Synthesize(context.Background(), "hola", types.VoiceProfile{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestVoiceFallback_ListVoices(t *testing.T) {
	primary := &voicemock.Provider{ListVoicesErr: errTest}
	secondary := &voicemock.Provider{
		Voices: []types.VoiceProfile{{ID: "v2", Name: "Lucia"}},
	}

	fb := NewVoiceFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: Config{FailureThreshold: 3},
	})
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v2" {
		t.Fatalf("voices = %+v, want one entry with ID v2", voices)
	}
}
