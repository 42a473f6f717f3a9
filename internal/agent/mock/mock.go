// Package mock provides in-memory implementations of [agent.Responder] and
// [agent.Instructor] for use in unit tests.
//
// All mocks are safe for concurrent use, record calls, and expose exported
// fields for configuring results.
//
// Example:
//
//	weather := &mock.Responder{NameResult: "weather", Reply: "Sunny."}
//	reg, _ := agent.NewRegistry(weather)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicelink/internal/agent"
)

// ─── Responder ────────────────────────────────────────────────────────────────

// Responder is a mock [agent.Responder].
type Responder struct {
	mu sync.Mutex

	// NameResult is returned by Name.
	NameResult string

	// DescriptionResult is returned by Description.
	DescriptionResult string

	// Reply is returned by Respond when Err is nil.
	Reply string

	// Err is returned by Respond when non-nil.
	Err error

	// Block, if non-nil, makes Respond wait until it is closed or ctx ends.
	Block chan struct{}

	requests []agent.Request
}

var _ agent.Responder = (*Responder)(nil)

func (r *Responder) Name() string                 { return r.NameResult }
func (r *Responder) Description() string          { return r.DescriptionResult }
func (r *Responder) Capability() agent.Capability { return agent.RequestResponse }

// Respond implements [agent.Responder].
func (r *Responder) Respond(ctx context.Context, req agent.Request) (string, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	block := r.Block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	return r.Reply, nil
}

// Requests returns a copy of every request passed to Respond.
func (r *Responder) Requests() []agent.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agent.Request, len(r.requests))
	copy(out, r.requests)
	return out
}

// SetErr replaces Err under the mock's lock.
func (r *Responder) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Err = err
}

// ─── Instructor ───────────────────────────────────────────────────────────────

// Instructor is a mock [agent.Instructor].
type Instructor struct {
	NameResult         string
	DescriptionResult  string
	InstructionsResult string
}

var _ agent.Instructor = (*Instructor)(nil)

func (i *Instructor) Name() string                 { return i.NameResult }
func (i *Instructor) Description() string          { return i.DescriptionResult }
func (i *Instructor) Capability() agent.Capability { return agent.Realtime }
func (i *Instructor) Instructions() string         { return i.InstructionsResult }
