package resilience

import (
	"context"

	"github.com/MrWong99/voicelink/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several
// backends, each behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. Fallbacks are tried in the order given.
func NewLLMFallback(cfg CircuitBreakerConfig, primary llm.Provider, fallbacks ...llm.Provider) *LLMFallback {
	g := NewFallbackGroup(primary.Name(), primary, cfg)
	for _, f := range fallbacks {
		g.Add(f.Name(), f)
	}
	return &LLMFallback{group: g}
}

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return Do(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.Response, error) {
		return p.Complete(ctx, req)
	})
}

// Name returns the primary backend's name.
func (f *LLMFallback) Name() string { return f.group.members[0].name }

// Breakers exposes the per-backend breakers for health reporting.
func (f *LLMFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }
