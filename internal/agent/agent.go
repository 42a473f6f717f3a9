// Package agent defines the backend agents an orchestrator can route a user
// turn to, along with the registry that holds them for a session.
//
// Agents come in two capabilities:
//
//   - [Realtime] agents shape the live speech session itself. Selecting one
//     yields an instruction update that is applied to the running stream.
//   - [RequestResponse] agents answer a single text request, typically by
//     calling an LLM provider. Their replies become routed output.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/voicelink/pkg/memory"
)

// Capability tells the orchestrator how to use an agent.
type Capability int

const (
	// Realtime agents contribute instructions to the live session.
	Realtime Capability = iota

	// RequestResponse agents answer a text request with a text reply.
	RequestResponse
)

func (c Capability) String() string {
	switch c {
	case Realtime:
		return "realtime"
	case RequestResponse:
		return "request_response"
	default:
		return fmt.Sprintf("Capability(%d)", int(c))
	}
}

// ParseCapability maps a configuration string onto a [Capability].
func ParseCapability(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "realtime":
		return Realtime, nil
	case "request_response", "request-response", "requestresponse":
		return RequestResponse, nil
	default:
		return 0, fmt.Errorf("agent: unknown capability %q", s)
	}
}

// Request is one user turn handed to an agent.
type Request struct {
	// SessionID identifies the voice session the turn belongs to.
	SessionID string

	// Text is the final user utterance.
	Text string

	// History holds recent finalized entries of the session, oldest first.
	History []memory.TranscriptEntry
}

// Agent is the common surface of every registered agent.
//
// Implementations must be safe for concurrent use.
type Agent interface {
	// Name is the unique name of the agent within a registry. Assistant
	// transcript entries produced by the agent are tagged with it.
	Name() string

	// Description is a one-line summary used by deciders to pick agents.
	Description() string

	// Capability reports how the orchestrator should use the agent.
	Capability() Capability
}

// Responder is an [Agent] with the [RequestResponse] capability.
type Responder interface {
	Agent

	// Respond answers req. An empty reply with a nil error means the agent
	// chose not to answer.
	Respond(ctx context.Context, req Request) (string, error)
}

// Instructor is an [Agent] with the [Realtime] capability.
type Instructor interface {
	Agent

	// Instructions returns the session instructions the agent wants applied
	// when it is selected.
	Instructions() string
}
