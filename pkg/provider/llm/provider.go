// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o, an
// Anthropic model behind any-llm, or a local Ollama instance) and exposes a
// uniform request/response interface so the segmentation chain and the batch
// judge never couple to a specific SDK.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly: every in-flight request belongs to exactly one
// segmentation generation, and a superseded generation cancels its context.
package llm

import "context"

// Message is a single conversation turn sent to the model.
type Message struct {
	// Role is the speaker role, typically "user" or "assistant".
	Role string

	// Content is the plain-text message body.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
// Counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return it
	// directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected before the
	// conversation history. Providers without a dedicated system field should
	// prepend it as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. For segmentation and judgment
	// calls this is a single "user" message carrying the transcript payload.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. The
	// chain always requests low temperatures; segmentation must be
	// deterministic enough to cache.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// CompletionResponse is the full, non-streamed model reply.
type CompletionResponse struct {
	// Content is the text of the assistant's reply. The chain expects a bare
	// JSON object here (possibly wrapped in markdown fences).
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Complete must return as soon as ctx is cancelled, wrapping ctx.Err().
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns a short provider identifier (e.g., "openai:gpt-4o-mini")
	// used in telemetry attributes and log lines.
	Name() string
}
