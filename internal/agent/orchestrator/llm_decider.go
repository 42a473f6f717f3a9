package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voicelink/internal/agent"
	"github.com/MrWong99/voicelink/pkg/provider/llm"
)

// ErrNoDecision is returned when a model reply contains no JSON object.
var ErrNoDecision = errors.New("orchestrator: reply contains no decision object")

const deciderPrompt = `You route a user's spoken request to backend agents.

Available agents:
%s
Reply with a single JSON object and nothing else:
{"agents": ["<agent name>", ...], "instruction_update": "<new voice assistant instructions or empty>"}

Select only agents whose description fits the request. Use an empty list when none applies.
Set instruction_update only when the user asks to change how the assistant speaks or behaves.`

// LLMDecider asks a request/response model to pick agents. The reply is
// parsed leniently: surrounding prose and code fences are ignored.
type LLMDecider struct {
	provider llm.Provider
}

// NewLLMDecider returns a decider backed by p.
func NewLLMDecider(p llm.Provider) *LLMDecider {
	return &LLMDecider{provider: p}
}

// Decide implements [Decider].
func (d *LLMDecider) Decide(ctx context.Context, in Input, agents []agent.Agent) (Decision, error) {
	var list strings.Builder
	for _, a := range agents {
		fmt.Fprintf(&list, "- %s (%s): %s\n", a.Name(), a.Capability(), a.Description())
	}

	resp, err := d.provider.Complete(ctx, llm.Request{
		SystemPrompt: fmt.Sprintf(deciderPrompt, list.String()),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: in.Text}},
		Temperature:  0,
		MaxTokens:    256,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("orchestrator: llm decider: %w", err)
	}
	if resp == nil {
		return Decision{}, ErrNoDecision
	}
	return parseDecision(resp.Content)
}

type decisionJSON struct {
	Agents            []string `json:"agents"`
	InstructionUpdate string   `json:"instruction_update"`
}

// parseDecision extracts the outermost JSON object from content.
func parseDecision(content string) (Decision, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return Decision{}, ErrNoDecision
	}

	var raw decisionJSON
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Decision{}, fmt.Errorf("orchestrator: parse decision: %w", err)
	}

	dec := Decision{InstructionUpdate: strings.TrimSpace(raw.InstructionUpdate)}
	for _, name := range raw.Agents {
		if name = strings.TrimSpace(name); name != "" {
			dec.Agents = append(dec.Agents, name)
		}
	}
	return dec, nil
}
