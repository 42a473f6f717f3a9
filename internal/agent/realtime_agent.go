package agent

import "errors"

var _ Instructor = (*RealtimeAgent)(nil)

// RealtimeAgent is an [Instructor] with fixed instructions. Selecting it
// retunes the live session, for example to a different persona or style.
type RealtimeAgent struct {
	name         string
	description  string
	instructions string
}

// NewRealtimeAgent returns a realtime agent. name and instructions are
// required.
func NewRealtimeAgent(name, description, instructions string) (*RealtimeAgent, error) {
	if name == "" {
		return nil, errors.New("agent: name must not be empty")
	}
	if instructions == "" {
		return nil, errors.New("agent: realtime agent " + name + " has no instructions")
	}
	return &RealtimeAgent{name: name, description: description, instructions: instructions}, nil
}

func (a *RealtimeAgent) Name() string           { return a.name }
func (a *RealtimeAgent) Description() string    { return a.description }
func (a *RealtimeAgent) Capability() Capability { return Realtime }
func (a *RealtimeAgent) Instructions() string   { return a.instructions }
