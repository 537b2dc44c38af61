// Package types holds the small set of data structures shared between the
// provider packages and the conversation core.
//
// Keeping them here rather than in pkg/provider/llm or pkg/provider/voice
// breaks what would otherwise be an import cycle: the resilience chains wrap
// providers, the engine consumes the chains, and all three need the same
// message and capability shapes.
package types

// Conversation roles accepted by the LLM adapters. Anything else is rejected
// at request-build time.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of an LLM conversation history.
type Message struct {
	// Role is RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the turn's text.
	Content string

	// Name optionally identifies the speaker when several participants share
	// a role.
	Name string
}

// ModelCapabilities is the static metadata an LLM backend reports about its
// model.
type ModelCapabilities struct {
	// ContextWindow is the combined input and output token limit.
	ContextWindow int

	// MaxOutputTokens bounds a single completion.
	MaxOutputTokens int

	// SupportsStreaming says whether the backend can stream partial replies.
	SupportsStreaming bool
}

// VoiceProfile selects a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable label shown in logs and config.
	Name string

	// Provider names the voice backend the profile belongs to.
	Provider string

	// Metadata carries provider-specific attributes such as gender, age or
	// accent.
	Metadata map[string]string
}
