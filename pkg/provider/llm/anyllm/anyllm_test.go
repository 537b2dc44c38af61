package anyllm

import (
	"strings"
	"testing"

	"github.com/cierra-ai/cierra/pkg/provider/llm"
	"github.com/cierra-ai/cierra/pkg/types"
)

func TestNew_RejectsBadArguments(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
	}{
		{"empty backend", "", "gpt-4o"},
		{"empty model", "openai", ""},
		{"unknown backend", "watson", "some-model"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.backend, tc.model); err == nil {
				t.Errorf("New(%q, %q) = nil error, want error", tc.backend, tc.model)
			}
		})
	}
}

func TestNew_UnknownBackendNamesAlternatives(t *testing.T) {
	_, err := New("watson", "some-model")
	if err == nil {
		t.Fatal("New() = nil error, want error")
	}
	// The error should list what would have worked.
	for _, name := range []string{"openai", "anthropic", "ollama"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %q", err, name)
		}
	}
}

func TestSupported_CoversFactoryTable(t *testing.T) {
	names := Supported()
	if len(names) != len(backendFactories) {
		t.Fatalf("len(Supported()) = %d, want %d", len(names), len(backendFactories))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("Supported() not sorted: %q before %q", names[i-1], names[i])
		}
	}
	for _, name := range names {
		if _, ok := backendFactories[name]; !ok {
			t.Errorf("Supported() lists %q, which has no factory", name)
		}
	}
}

func TestParams_SystemPromptLeadsHistory(t *testing.T) {
	p := &Provider{name: "openai", model: "gpt-4o"}
	got := p.params(llm.CompletionRequest{
		SystemPrompt: "Eres un asesor de ventas.",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "Hola"}},
	})

	if len(got.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "Eres un asesor de ventas." {
		t.Errorf("Messages[0] = %+v, want system prompt first", got.Messages[0])
	}
	if got.Messages[1].Role != types.RoleUser {
		t.Errorf("Messages[1].Role = %q, want %q", got.Messages[1].Role, types.RoleUser)
	}
	if got.Model != "gpt-4o" {
		t.Errorf("Model = %q, want %q", got.Model, "gpt-4o")
	}
}

func TestParams_OptionalFieldsOnlySetWhenGiven(t *testing.T) {
	p := &Provider{name: "openai", model: "gpt-4o"}
	history := []types.Message{{Role: types.RoleUser, Content: "Hola"}}

	bare := p.params(llm.CompletionRequest{Messages: history})
	if bare.Temperature != nil || bare.MaxTokens != nil || bare.Stop != nil {
		t.Errorf("zero request set optional params: temp=%v max=%v stop=%v",
			bare.Temperature, bare.MaxTokens, bare.Stop)
	}

	full := p.params(llm.CompletionRequest{
		Messages:      history,
		Temperature:   0.9,
		MaxTokens:     320,
		StopSequences: []string{"\n\n"},
	})
	if full.Temperature == nil || *full.Temperature != 0.9 {
		t.Errorf("Temperature = %v, want 0.9", full.Temperature)
	}
	if full.MaxTokens == nil || *full.MaxTokens != 320 {
		t.Errorf("MaxTokens = %v, want 320", full.MaxTokens)
	}
	if len(full.Stop) != 1 {
		t.Errorf("Stop = %v, want one sequence", full.Stop)
	}
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model      string
		wantWindow int
		wantMaxOut int
	}{
		{"gpt-4o", 128_000, 16_384},
		{"gpt-4o-mini", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"o1-mini", 128_000, 65_536},
		{"o1-preview", 200_000, 100_000},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"claude-3-5-sonnet-latest", 200_000, 8_192},
		{"gemini-1.5-pro", 2_097_152, 8_192},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"llama3.2", 128_000, 4_096}, // unknown model falls back to defaults
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			caps := modelCapabilities(tc.model)
			if caps.ContextWindow != tc.wantWindow {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tc.wantWindow)
			}
			if caps.MaxOutputTokens != tc.wantMaxOut {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tc.wantMaxOut)
			}
			if !caps.SupportsStreaming {
				t.Error("SupportsStreaming = false, want true")
			}
		})
	}
}

func TestCountTokens_ApproximationScalesWithText(t *testing.T) {
	p := &Provider{name: "openai", model: "gpt-4o"}

	short, err := p.CountTokens([]types.Message{{Role: types.RoleUser, Content: "Hola"}})
	if err != nil {
		t.Fatalf("CountTokens(short) error: %v", err)
	}
	// "Hola" is 4 bytes: one content token plus the per-message overhead.
	if want := 1 + perMessageOverhead; short != want {
		t.Errorf("short = %d, want %d", short, want)
	}

	long, err := p.CountTokens([]types.Message{
		{Role: types.RoleUser, Content: "Hola, busco mejorar mi productividad y quiero saber más."},
		{Role: types.RoleAssistant, Content: "Claro, cuéntame un poco más sobre tu rutina."},
	})
	if err != nil {
		t.Fatalf("CountTokens(long) error: %v", err)
	}
	if long <= short {
		t.Errorf("long = %d, want > short (%d)", long, short)
	}
}
