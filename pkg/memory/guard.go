package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ErrSearchUnsupported is returned by [Guard.Search] when the wrapped store
// does not implement [Searcher].
var ErrSearchUnsupported = errors.New("memory: store does not support search")

// ErrDegraded is reported by [Guard.Check] after a store operation failed.
var ErrDegraded = errors.New("memory: store degraded")

// Pinger is implemented by stores with a reachability probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Guard wraps a [TranscriptStore] and makes saves non-fatal: a failed save is
// logged, marks the store degraded and reports success, so that a session
// never fails because its transcript could not be archived. Reads propagate
// errors but also update the degraded flag.
//
// Guard implements [TranscriptStore] and [Searcher]. All methods are safe for
// concurrent use.
type Guard struct {
	store    TranscriptStore
	degraded atomic.Bool
	lost     atomic.Int64
}

var (
	_ TranscriptStore = (*Guard)(nil)
	_ Searcher        = (*Guard)(nil)
)

// NewGuard returns a Guard around store.
func NewGuard(store TranscriptStore) *Guard {
	return &Guard{store: store}
}

// SaveTranscript implements [TranscriptStore]. Store failures are swallowed.
func (g *Guard) SaveTranscript(ctx context.Context, sessionID string, entries []TranscriptEntry) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if err := g.store.SaveTranscript(ctx, sessionID, entries); err != nil {
		g.degraded.Store(true)
		g.lost.Add(int64(len(entries)))
		slog.Warn("memory guard: transcript not saved",
			"session_id", sessionID,
			"entries", len(entries),
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Transcript implements [TranscriptStore].
func (g *Guard) Transcript(ctx context.Context, sessionID string) ([]TranscriptEntry, error) {
	entries, err := g.store.Transcript(ctx, sessionID)
	g.track(err)
	return entries, err
}

// Search implements [Searcher] when the wrapped store does.
func (g *Guard) Search(ctx context.Context, query string, opts SearchOpts) ([]TranscriptEntry, error) {
	s, ok := g.store.(Searcher)
	if !ok {
		return nil, ErrSearchUnsupported
	}
	entries, err := s.Search(ctx, query, opts)
	g.track(err)
	return entries, err
}

// CanSearch reports whether the wrapped store implements [Searcher].
func (g *Guard) CanSearch() bool {
	_, ok := g.store.(Searcher)
	return ok
}

// IsDegraded reports whether the most recent store operation failed.
func (g *Guard) IsDegraded() bool { return g.degraded.Load() }

// Lost returns the number of entries dropped by failed saves.
func (g *Guard) Lost() int64 { return g.lost.Load() }

// Check is a readiness probe: it pings the wrapped store when it supports it
// and otherwise reports the degraded flag.
func (g *Guard) Check(ctx context.Context) error {
	if p, ok := g.store.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("memory: ping: %w", err)
		}
		return nil
	}
	if g.IsDegraded() {
		return ErrDegraded
	}
	return nil
}

func (g *Guard) track(err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		g.degraded.Store(true)
		return
	}
	if err == nil {
		g.degraded.Store(false)
	}
}
