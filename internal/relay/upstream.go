package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/resilience"
	"github.com/MrWong99/voicelink/pkg/protocol"
	"github.com/MrWong99/voicelink/pkg/provider/realtime"
)

// Reconfigure modes recorded in metrics.
const (
	modeLive    = "live"
	modeRebuild = "rebuild"
)

// errUpstreamClosed is returned by upstream operations after close.
var errUpstreamClosed = errors.New("relay: upstream closed")

// upstream owns the provider session behind one client connection. The
// session object may be replaced by a rebuild; callers never see the swap.
type upstream struct {
	provider realtime.Provider
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
	log      *slog.Logger

	// ctx bounds background rebuilds.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// rebuildFailed is signalled with the error of a failed rebuild so the
	// client can be told.
	rebuildFailed chan error

	mu         sync.Mutex
	cur        realtime.Session
	cfg        protocol.SessionConfig
	rebuilding bool
	dirty      bool // cfg changed while a rebuild was in flight
	backlog    []string
	closed     bool
}

// dialUpstream opens the first provider session for a client connection.
func dialUpstream(ctx context.Context, p realtime.Provider, cb *resilience.CircuitBreaker, m *observe.Metrics, cfg protocol.SessionConfig) (*upstream, error) {
	u := &upstream{
		provider:      p,
		breaker:       cb,
		metrics:       m,
		log:           observe.Logger(ctx),
		cfg:           cfg,
		rebuildFailed: make(chan error, 1),
	}
	sess, err := u.dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	u.cur = sess
	u.ctx, u.cancel = context.WithCancel(context.WithoutCancel(ctx))
	return u, nil
}

func (u *upstream) dial(ctx context.Context, cfg protocol.SessionConfig) (realtime.Session, error) {
	start := time.Now()
	sess, err := resilience.Call(ctx, u.breaker, func(ctx context.Context) (realtime.Session, error) {
		return u.provider.Connect(ctx, cfg)
	})
	u.metrics.RecordUpstreamConnect(ctx, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("relay: dial upstream: %w", err)
	}
	return sess, nil
}

// current returns the active provider session.
func (u *upstream) current() realtime.Session {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cur
}

// Config returns the merged session configuration.
func (u *upstream) Config() protocol.SessionConfig {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cfg
}

// Append forwards one audio frame, or buffers it while a rebuild is running.
func (u *upstream) Append(ctx context.Context, payload string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return errUpstreamClosed
	}
	if u.rebuilding {
		u.backlog = append(u.backlog, payload)
		return nil
	}
	return u.cur.AppendAudio(ctx, payload)
}

// Commit ends the user turn and requests a response.
func (u *upstream) Commit(ctx context.Context) error {
	return u.current().Commit(ctx)
}

// Cancel stops the response in progress.
func (u *upstream) Cancel(ctx context.Context) error {
	return u.current().Cancel(ctx)
}

// Reconfigure merges update into the session configuration and applies it.
// A live update is tried first; otherwise the provider session is rebuilt in
// the background while audio is buffered. It returns the mode used.
func (u *upstream) Reconfigure(ctx context.Context, update protocol.SessionConfig) (string, error) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return "", errUpstreamClosed
	}
	u.cfg = u.cfg.Merge(update)
	cfg := u.cfg
	if u.rebuilding {
		u.dirty = true
		u.mu.Unlock()
		return modeRebuild, nil
	}

	if u.provider.Capabilities().LiveUpdate {
		err := u.cur.Update(ctx, cfg)
		if err == nil {
			u.mu.Unlock()
			u.metrics.RecordReconfigure(ctx, modeLive, nil)
			u.log.Debug("relay: session updated live")
			return modeLive, nil
		}
		u.log.Warn("relay: live update failed, rebuilding upstream session", "err", err)
	}

	u.rebuilding = true
	u.wg.Add(1)
	u.mu.Unlock()

	go u.rebuild()
	return modeRebuild, nil
}

// rebuild replaces the provider session with one dialed on the latest config,
// then replays buffered audio. It repeats while the config keeps changing.
func (u *upstream) rebuild() {
	defer u.wg.Done()
	for {
		cfg := u.Config()
		start := time.Now()
		next, err := u.dial(u.ctx, cfg)
		u.metrics.RecordReconfigure(u.ctx, modeRebuild, err)

		u.mu.Lock()
		if u.closed {
			u.mu.Unlock()
			if next != nil {
				next.Close()
			}
			return
		}
		if err != nil {
			// Keep the old session and hand it the buffered audio.
			u.replayLocked()
			u.rebuilding, u.dirty = false, false
			u.mu.Unlock()
			u.log.Error("relay: upstream rebuild failed", "err", err)
			select {
			case u.rebuildFailed <- err:
			default:
			}
			return
		}

		old := u.cur
		u.cur = next
		u.replayLocked()
		again := u.dirty
		u.dirty = false
		if !again {
			u.rebuilding = false
		}
		u.mu.Unlock()

		old.Close()
		u.log.Info("relay: upstream session rebuilt", "took", time.Since(start).Round(time.Millisecond))
		if !again {
			return
		}
	}
}

// replayLocked sends buffered audio to the current session in arrival order.
// u.mu must be held.
func (u *upstream) replayLocked() {
	if len(u.backlog) == 0 {
		return
	}
	for i, payload := range u.backlog {
		if err := u.cur.AppendAudio(u.ctx, payload); err != nil {
			u.log.Warn("relay: replay of buffered audio failed", "frame", i, "pending", len(u.backlog), "err", err)
			break
		}
	}
	u.log.Debug("relay: replayed buffered audio", "frames", len(u.backlog))
	u.backlog = nil
}

// Close stops any rebuild and closes the provider session.
func (u *upstream) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.backlog = nil
	u.mu.Unlock()

	u.cancel()
	u.wg.Wait()
	return u.current().Close()
}
