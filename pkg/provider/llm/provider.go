// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a chat-completion API (Groq, OpenAI, a local Ollama,
// ...) and exposes one blocking Complete call so the dialogue service can stay
// independent of any specific SDK.
//
// Implementations must be safe for concurrent use and must return promptly
// when the supplied context is cancelled.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry of the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is sent as a leading system-role message when non-empty.
	SystemPrompt string

	// Messages is the ordered conversation; the last entry is the user turn
	// that drives the reply.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero leaves the
	// provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the provider
	// default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	// Content is the full text of the assistant reply. Providers return it as
	// received; callers decide whether empty content is acceptable.
	Content string

	// FinishReason reports why generation stopped ("stop", "length", ...).
	FinishReason string

	// Usage contains token accounting for the request.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply. Returns an
	// error if the request fails, the backend returns no choices, or ctx is
	// cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
