// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the requests the orchestrator sends and
// to feed controlled replies without a live LLM backend.
//
// Example:
//
//	p := &mock.Provider{Response: &llm.Response{Content: "Hello!"}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicelink/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Response is returned by Complete. May be nil (returns nil, Err).
	Response *llm.Response

	// Reply, if set, computes the reply per request and takes precedence over
	// Response.
	Reply func(req llm.Request) (*llm.Response, error)

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	// Block, if non-nil, makes Complete wait until it is closed or ctx ends.
	Block chan struct{}

	// Requests records every request passed to Complete in order.
	Requests []llm.Request
}

// Complete records the call and returns the configured reply.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	block, reply, resp, err := p.Block, p.Reply, p.Response, p.Err
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reply != nil {
		return reply(req)
	}
	return resp, err
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Calls returns a copy of the recorded requests. Thread-safe.
func (p *Provider) Calls() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.Requests...)
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
