package agent

import (
	"fmt"
	"slices"
	"sync"
)

// Registry holds the agents available to an orchestrator, in registration
// order. Muted agents stay registered but are skipped by [Registry.Active].
//
// All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	agents map[string]*entry
}

type entry struct {
	agent Agent
	muted bool
}

// NewRegistry registers agents in order. Duplicate names are rejected.
func NewRegistry(agents ...Agent) (*Registry, error) {
	r := &Registry{agents: make(map[string]*entry, len(agents))}
	for _, a := range agents {
		if err := r.Add(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a. Returns an error if an agent with the same name exists.
func (r *Registry) Add(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, ok := r.agents[name]; ok {
		return fmt.Errorf("agent: %q already registered", name)
	}
	if r.agents == nil {
		r.agents = make(map[string]*entry)
	}
	r.agents[name] = &entry{agent: a}
	r.order = append(r.order, name)
	return nil
}

// Remove unregisters the named agent.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[name]; !ok {
		return fmt.Errorf("agent: %q not found", name)
	}
	delete(r.agents, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	return nil
}

// Get returns the named agent, muted or not.
func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[name]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// Mute stops the named agent from being selected.
func (r *Registry) Mute(name string) error { return r.setMuted(name, true) }

// Unmute re-enables the named agent. Unmuting an unmuted agent is a no-op.
func (r *Registry) Unmute(name string) error { return r.setMuted(name, false) }

func (r *Registry) setMuted(name string, muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[name]
	if !ok {
		return fmt.Errorf("agent: %q not found", name)
	}
	e.muted = muted
	return nil
}

// Active returns the unmuted agents in registration order.
func (r *Registry) Active() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, name := range r.order {
		if e := r.agents[name]; !e.muted {
			out = append(out, e.agent)
		}
	}
	return out
}

// Len returns the number of registered agents, including muted ones.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
