package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voicelink/pkg/provider/llm"
	"github.com/MrWong99/voicelink/pkg/provider/realtime"
)

// ErrProviderNotRegistered is wrapped by the Create methods when the
// requested provider name has no factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factoryTable holds the constructors of one provider kind by name.
type factoryTable[C, P any] struct {
	kind   string
	byName map[string]func(C) (P, error)
}

func newFactoryTable[C, P any](kind string) factoryTable[C, P] {
	return factoryTable[C, P]{kind: kind, byName: map[string]func(C) (P, error){}}
}

func (t factoryTable[C, P]) create(name string, cfg C) (P, error) {
	f, ok := t.byName[name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%s %q: %w", t.kind, name, ErrProviderNotRegistered)
	}
	return f(cfg)
}

// Registry resolves provider names from the config to constructors. The
// app registers the built-in providers; tests register doubles. Safe for
// concurrent use. A later registration replaces an earlier one of the same
// name.
type Registry struct {
	mu       sync.RWMutex
	realtime factoryTable[UpstreamConfig, realtime.Provider]
	llm      factoryTable[ProviderEntry, llm.Provider]
}

// NewRegistry returns a registry with no factories.
func NewRegistry() *Registry {
	return &Registry{
		realtime: newFactoryTable[UpstreamConfig, realtime.Provider]("realtime"),
		llm:      newFactoryTable[ProviderEntry, llm.Provider]("llm"),
	}
}

// RegisterRealtime adds the upstream provider factory called name.
func (r *Registry) RegisterRealtime(name string, factory func(UpstreamConfig) (realtime.Provider, error)) {
	r.mu.Lock()
	r.realtime.byName[name] = factory
	r.mu.Unlock()
}

// RegisterLLM adds the request/response LLM factory called name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	r.llm.byName[name] = factory
	r.mu.Unlock()
}

// CreateRealtime builds the upstream provider named by cfg.Provider.
func (r *Registry) CreateRealtime(cfg UpstreamConfig) (realtime.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.realtime.create(cfg.Provider, cfg)
}

// CreateLLM builds the LLM named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry.Name, entry)
}

// LLMNames lists the registered LLM names in sorted order.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.llm.byName))
}
