package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/voicelink/pkg/provider/llm"
)

var _ Responder = (*LLMAgent)(nil)

// defaultHistoryTurns bounds the conversation kept per agent.
const defaultHistoryTurns = 12

// LLMConfig holds the dependencies of an [LLMAgent].
type LLMConfig struct {
	// Name must not be empty.
	Name string

	// Description is shown to deciders.
	Description string

	// Persona is the system prompt of the agent.
	Persona string

	// Provider answers the requests. Must not be nil.
	Provider llm.Provider

	// Temperature and MaxTokens are forwarded to the provider when non-zero.
	Temperature float64
	MaxTokens   int

	// HistoryTurns caps the number of messages kept in the agent's own
	// conversation. Default 12.
	HistoryTurns int
}

// LLMAgent is a [Responder] backed by a request/response [llm.Provider].
//
// It keeps a short conversation of its own exchanges so that follow-up
// questions addressed to it stay coherent. Concurrent calls to Respond are
// serialised.
type LLMAgent struct {
	cfg LLMConfig

	mu      sync.Mutex
	history []llm.Message
}

// NewLLMAgent validates cfg and returns the agent.
func NewLLMAgent(cfg LLMConfig) (*LLMAgent, error) {
	if cfg.Name == "" {
		return nil, errors.New("agent: name must not be empty")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent %q: provider must not be nil", cfg.Name)
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	return &LLMAgent{cfg: cfg}, nil
}

func (a *LLMAgent) Name() string           { return a.cfg.Name }
func (a *LLMAgent) Description() string    { return a.cfg.Description }
func (a *LLMAgent) Capability() Capability { return RequestResponse }

// Respond sends the persona, the agent's own recent exchanges and the new
// user turn to the provider, then records the exchange.
func (a *LLMAgent) Respond(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("agent %q: %w", a.cfg.Name, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	user := llm.Message{Role: llm.RoleUser, Content: req.Text}
	msgs := make([]llm.Message, len(a.history), len(a.history)+1)
	copy(msgs, a.history)
	msgs = append(msgs, user)

	resp, err := a.cfg.Provider.Complete(ctx, llm.Request{
		SystemPrompt: a.systemPrompt(req),
		Messages:     msgs,
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("agent %q: complete: %w", a.cfg.Name, err)
	}
	if resp == nil {
		return "", fmt.Errorf("agent %q: provider returned no response", a.cfg.Name)
	}

	reply := strings.TrimSpace(resp.Content)
	a.history = append(a.history, user)
	if reply != "" {
		a.history = append(a.history, llm.Message{Role: llm.RoleAssistant, Content: reply})
	}
	if over := len(a.history) - a.cfg.HistoryTurns; over > 0 {
		a.history = append(a.history[:0:0], a.history[over:]...)
	}
	return reply, nil
}

// systemPrompt appends the shared session context to the persona.
func (a *LLMAgent) systemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(a.cfg.Persona)
	if len(req.History) > 0 {
		b.WriteString("\n\nRecent conversation:\n")
		for _, e := range req.History {
			speaker := e.Role
			if e.Agent != "" {
				speaker = e.Agent
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, e.Text)
		}
	}
	return b.String()
}
