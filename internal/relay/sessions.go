package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicelink/internal/observe"
)

// Session manager defaults.
const (
	DefaultMaxSessions     = 100
	DefaultSessionTimeout  = 30 * time.Minute
	DefaultCleanupInterval = 60 * time.Second
)

var (
	// ErrSessionLimit is returned by [SessionManager.Create] when the
	// concurrent session limit is reached.
	ErrSessionLimit = errors.New("relay: session limit reached")

	// ErrSessionExpired is the cancellation cause of a session removed for
	// inactivity.
	ErrSessionExpired = errors.New("relay: session timed out")

	// ErrShuttingDown is the cancellation cause of sessions ended by
	// [SessionManager.Shutdown].
	ErrShuttingDown = errors.New("relay: server shutting down")
)

// Session is one client connection known to the relay.
type Session struct {
	// ID is the identifier sent to the client in connection.established.
	ID string

	// Remote is the client's network address.
	Remote string

	// CreatedAt is when the client connected.
	CreatedAt time.Time

	lastActivity atomic.Int64
	cancel       context.CancelCauseFunc
}

// LastActivity returns the time of the most recent client message.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Stats is a point-in-time summary of the session manager.
type Stats struct {
	Active      int           `json:"active_sessions"`
	Peak        int           `json:"peak_sessions"`
	Created     uint64        `json:"created_total"`
	Rejected    uint64        `json:"rejected_total"`
	Expired     uint64        `json:"expired_total"`
	MaxSessions int           `json:"max_sessions"`
	Timeout     time.Duration `json:"session_timeout_ns"`
}

// SessionManagerConfig configures a [SessionManager].
type SessionManagerConfig struct {
	// MaxSessions caps concurrent sessions. Defaults to 100 if zero.
	MaxSessions int

	// Timeout is the inactivity period after which a session is ended.
	// Defaults to 30m if zero.
	Timeout time.Duration

	// CleanupInterval is the period of the expiry sweep run by
	// [SessionManager.Run]. Defaults to 60s if zero.
	CleanupInterval time.Duration

	// Metrics records session gauges. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// SessionManager tracks live relay sessions, enforces the concurrency limit
// and ends sessions that stay idle past the timeout. All methods are safe for
// concurrent use.
type SessionManager struct {
	interval time.Duration
	metrics  *observe.Metrics
	now      func() time.Time

	mu       sync.Mutex
	max      int
	timeout  time.Duration
	sessions map[string]*Session
	peak     int
	created  uint64
	rejected uint64
	expired  uint64
}

// NewSessionManager returns an empty manager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := &SessionManager{
		max:      cfg.MaxSessions,
		timeout:  cfg.Timeout,
		interval: cfg.CleanupInterval,
		metrics:  cfg.Metrics,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	if m.max <= 0 {
		m.max = DefaultMaxSessions
	}
	if m.timeout <= 0 {
		m.timeout = DefaultSessionTimeout
	}
	if m.interval <= 0 {
		m.interval = DefaultCleanupInterval
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Create registers a new session. cancel is invoked with a cause when the
// manager ends the session (expiry or shutdown). It returns [ErrSessionLimit]
// when the manager is full.
func (m *SessionManager) Create(remote string, cancel context.CancelCauseFunc) (*Session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.max {
		m.rejected++
		m.mu.Unlock()
		m.metrics.RecordSessionRejected(context.Background(), "limit")
		slog.Warn("relay: session rejected", "remote", remote, "reason", "limit", "max_sessions", m.max)
		return nil, ErrSessionLimit
	}
	now := m.now()
	s := &Session{ID: uuid.NewString(), Remote: remote, CreatedAt: now, cancel: cancel}
	s.lastActivity.Store(now.UnixNano())
	m.sessions[s.ID] = s
	m.created++
	m.peak = max(m.peak, len(m.sessions))
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("relay: session created", "session_id", s.ID, "remote", remote, "active", active)
	return s, nil
}

// Get returns the session with the given id.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Touch records client activity. It reports false for unknown sessions.
func (m *SessionManager) Touch(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.lastActivity.Store(m.now().UnixNano())
	return true
}

// Remove forgets the session. It reports false if it was already gone.
func (m *SessionManager) Remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("relay: session removed", "session_id", id, "duration", m.now().Sub(s.CreatedAt).Round(time.Second))
	return true
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Capacity returns the live session count and the limit.
func (m *SessionManager) Capacity() (active, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), m.max
}

// SetLimits changes the concurrency limit and idle timeout of a running
// manager. Non-positive values leave the current setting. Lowering the limit
// never ends live sessions; it only rejects new ones until enough close.
func (m *SessionManager) SetLimits(maxSessions int, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxSessions > 0 {
		m.max = maxSessions
	}
	if timeout > 0 {
		m.timeout = timeout
	}
}

// Stats returns counters since the manager was created.
func (m *SessionManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Active:      len(m.sessions),
		Peak:        m.peak,
		Created:     m.created,
		Rejected:    m.rejected,
		Expired:     m.expired,
		MaxSessions: m.max,
		Timeout:     m.timeout,
	}
}

// Cleanup ends every session idle for longer than the timeout and returns
// how many were ended.
func (m *SessionManager) Cleanup() int {
	m.mu.Lock()
	cutoff := m.now().Add(-m.timeout)
	var stale []*Session
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.expired += uint64(len(stale))
	m.mu.Unlock()

	for _, s := range stale {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
		slog.Warn("relay: session timed out", "session_id", s.ID, "idle", m.now().Sub(s.LastActivity()).Round(time.Second))
		if s.cancel != nil {
			s.cancel(ErrSessionExpired)
		}
	}
	if len(stale) > 0 {
		slog.Info("relay: cleaned up inactive sessions", "count", len(stale))
	}
	return len(stale)
}

// Run sweeps for idle sessions every cleanup interval until ctx is done.
func (m *SessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// Shutdown ends every live session.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		if s.cancel != nil {
			s.cancel(ErrShuttingDown)
		}
	}
	slog.Info("relay: session manager shut down", "sessions", len(all))
}
