package agent

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voicelink/pkg/provider/llm"
)

// Definition is the declarative form of an agent, as read from configuration.
type Definition struct {
	Name         string
	Description  string
	Capability   string
	Instructions string

	// Provider names an entry of the provider set passed to [Loader.Load].
	// Only used by request/response agents; empty selects the default.
	Provider    string
	Temperature float64
	MaxTokens   int
}

// Loader builds agents from definitions, resolving request/response agents
// against a shared set of named LLM providers.
//
// Loader is safe for concurrent use after construction; its fields are
// immutable.
type Loader struct {
	providers       map[string]llm.Provider
	defaultProvider string
}

// LoaderOption is a functional option for [NewLoader].
type LoaderOption func(*Loader)

// WithDefaultProvider names the provider used by definitions that leave
// Provider empty.
func WithDefaultProvider(name string) LoaderOption {
	return func(l *Loader) { l.defaultProvider = name }
}

// NewLoader creates a Loader over the given named providers. With exactly
// one provider, it is also the default.
func NewLoader(providers map[string]llm.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{providers: providers}
	if len(providers) == 1 {
		for name := range providers {
			l.defaultProvider = name
		}
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load builds one agent per definition and registers them in order. All
// definition errors are reported together.
func (l *Loader) Load(defs []Definition) (*Registry, error) {
	reg := &Registry{}
	var errs []error
	for i, d := range defs {
		a, err := l.build(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("agents[%d]: %w", i, err))
			continue
		}
		if err := reg.Add(a); err != nil {
			errs = append(errs, fmt.Errorf("agents[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return reg, nil
}

func (l *Loader) build(d Definition) (Agent, error) {
	capability, err := ParseCapability(d.Capability)
	if err != nil {
		return nil, err
	}
	if capability == Realtime {
		return NewRealtimeAgent(d.Name, d.Description, d.Instructions)
	}

	name := d.Provider
	if name == "" {
		name = l.defaultProvider
	}
	p, ok := l.providers[name]
	if !ok {
		return nil, fmt.Errorf("agent %q: unknown provider %q", d.Name, name)
	}
	return NewLLMAgent(LLMConfig{
		Name:        d.Name,
		Description: d.Description,
		Persona:     d.Instructions,
		Provider:    p,
		Temperature: d.Temperature,
		MaxTokens:   d.MaxTokens,
	})
}
