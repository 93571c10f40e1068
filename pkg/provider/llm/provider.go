// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic,
// Gemini, a local Ollama instance, ...) and exposes a uniform completion call
// so the summarizer never couples to a specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a completion request.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction sent before
	// Messages. Providers without a dedicated system field prepend it as a
	// system-role message.
	SystemPrompt string

	// Messages is the ordered conversation.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default.
	MaxTokens int

	// JSONMode asks the model to reply with a single JSON object. Providers
	// with a native response-format switch use it; others rely on the prompt.
	JSONMode bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Truncated reports that generation stopped at the token limit, so
	// Content may be cut mid-sentence or be incomplete JSON.
	Truncated bool

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// ErrEmptyRequest is returned by [Validate] for a request without messages.
var ErrEmptyRequest = errors.New("llm: request has no messages")

// Validate checks that req has at least one message, that every role is
// known and that Temperature is within [0, 2].
func Validate(req CompletionRequest) error {
	if len(req.Messages) == 0 {
		return ErrEmptyRequest
	}
	for i, m := range req.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("llm: message %d: unknown role %q", i, m.Role)
		}
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return fmt.Errorf("llm: temperature %v outside [0, 2]", req.Temperature)
	}
	return nil
}

// ModelCapabilities describes limits of the underlying model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion.
	MaxOutputTokens int

	// SupportsJSONMode reports a native JSON response format.
	SupportsJSONMode bool
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the model.
	Capabilities() ModelCapabilities
}
