// Package llm defines the Provider interface for request/response language
// model backends.
//
// Request/response providers complement the realtime voice session: the
// orchestrator uses them to route a finished user utterance to text agents and
// to decide whether the live session's instructions should change. They are
// never on the audio path.
//
// Implementations must be safe for concurrent use and must return promptly when
// the supplied context is cancelled.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the turn.
	Content string
}

// Request carries everything a provider needs to produce a reply.
// At minimum Messages must be non-empty.
type Request struct {
	// SystemPrompt is an optional instruction placed before Messages.
	SystemPrompt string

	// Messages is the ordered conversation history; the last entry drives the
	// reply.
	Messages []Message

	// Temperature controls randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a complete reply.
type Response struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any request/response LLM backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// UserPrompt builds a single-turn request.
func UserPrompt(system, text string) Request {
	return Request{
		SystemPrompt: system,
		Messages:     []Message{{Role: RoleUser, Content: text}},
	}
}
