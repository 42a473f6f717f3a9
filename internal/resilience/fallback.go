package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error once every entry of a [FallbackGroup]
// failed or was skipped.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable backends, each behind
// its own breaker. Build it fully before sharing it between goroutines.
type FallbackGroup[T any] struct {
	template CircuitBreakerConfig
	members  []member[T]
}

// NewFallbackGroup starts a group with primary. Every member's breaker is
// built from tmpl with Name set to the member name.
func NewFallbackGroup[T any](primaryName string, primary T, tmpl CircuitBreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{template: tmpl}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback behind the existing members.
func (g *FallbackGroup[T]) Add(name string, value T) {
	cfg := g.template
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// Len reports the member count.
func (g *FallbackGroup[T]) Len() int { return len(g.members) }

// Breakers lists the member breakers in try order.
func (g *FallbackGroup[T]) Breakers() []*CircuitBreaker {
	out := make([]*CircuitBreaker, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, m.breaker)
	}
	return out
}

// Do runs fn on each member in turn and returns the first success. Members
// with an open breaker are passed over. A done ctx ends the walk with ctx's
// error.
func Do[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		last error
	)
	for _, m := range g.members {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		res, err := Call(ctx, m.breaker, func(ctx context.Context) (R, error) { return fn(ctx, m.value) })
		if err == nil {
			return res, nil
		}
		last = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("fallback: circuit open, skipping", "provider", m.name)
			continue
		}
		slog.Warn("fallback: provider failed", "provider", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, last)
}
