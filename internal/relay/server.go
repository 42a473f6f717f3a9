// Package relay implements the realtime voice relay: a websocket endpoint
// that speaks the client wire protocol and bridges each connection to one
// upstream realtime provider session.
//
// Each accepted connection gets a session id, a provider session dialed
// through a circuit breaker, and two pumps (client to upstream and upstream
// to client) joined by an errgroup. Session configuration changes are applied
// in place: live when the provider supports it, otherwise by rebuilding only
// the provider session while the client connection stays untouched.
package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicelink/internal/health"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/resilience"
	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/protocol"
	"github.com/MrWong99/voicelink/pkg/provider/realtime"
)

// Server defaults.
const (
	DefaultPingInterval = 20 * time.Second
	DefaultPingTimeout  = 20 * time.Second
	DefaultReadLimit    = 1 << 20
)

// Config configures a [Server].
type Config struct {
	// Provider opens upstream sessions. Required.
	Provider realtime.Provider

	// Sessions tracks client connections. Defaults to a manager with
	// default limits.
	Sessions *SessionManager

	// Breaker guards upstream dials. Defaults to a breaker named
	// "upstream".
	Breaker *resilience.CircuitBreaker

	// Session is the configuration every upstream session starts from
	// before client updates are merged. Defaults to
	// [protocol.DefaultSessionConfig].
	Session *protocol.SessionConfig

	// AllowedOrigins are the websocket origin patterns accepted besides
	// same-origin requests. "*" accepts any origin.
	AllowedOrigins []string

	PingInterval time.Duration
	PingTimeout  time.Duration

	// ReadLimit caps the size of one client message in bytes.
	ReadLimit int64

	// Metrics records relay metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// Store archives each session's final transcripts when it ends and
	// backs the /transcripts routes. Optional.
	Store memory.TranscriptStore

	// Version is reported by the banner route.
	Version string
}

// Server is the relay HTTP server. Create one with [NewServer].
type Server struct {
	provider realtime.Provider
	sessions *SessionManager
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
	base     atomic.Pointer[protocol.SessionConfig]
	accept   websocket.AcceptOptions

	pingInterval time.Duration
	pingTimeout  time.Duration
	readLimit    int64

	store          memory.TranscriptStore
	health         *health.Handler
	metricsHandler http.Handler
	version        string
}

// NewServer returns a Server for cfg. It panics if cfg.Provider is nil.
func NewServer(cfg Config) *Server {
	if cfg.Provider == nil {
		panic("relay: NewServer requires a provider")
	}
	s := &Server{
		provider:       cfg.Provider,
		sessions:       cfg.Sessions,
		breaker:        cfg.Breaker,
		metrics:        cfg.Metrics,
		pingInterval:   cfg.PingInterval,
		pingTimeout:    cfg.PingTimeout,
		readLimit:      cfg.ReadLimit,
		store:          cfg.Store,
		health:         cfg.Health,
		metricsHandler: cfg.MetricsHandler,
		version:        cfg.Version,
	}
	base := protocol.DefaultSessionConfig()
	if cfg.Session != nil {
		base = *cfg.Session
	}
	s.base.Store(&base)
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.sessions == nil {
		s.sessions = NewSessionManager(SessionManagerConfig{Metrics: s.metrics})
	}
	if s.breaker == nil {
		s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "upstream"})
	}
	if s.pingInterval <= 0 {
		s.pingInterval = DefaultPingInterval
	}
	if s.pingTimeout <= 0 {
		s.pingTimeout = DefaultPingTimeout
	}
	if s.readLimit <= 0 {
		s.readLimit = DefaultReadLimit
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			s.accept.InsecureSkipVerify = true
			continue
		}
		s.accept.OriginPatterns = append(s.accept.OriginPatterns, o)
	}
	return s
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager { return s.sessions }

// Breaker returns the upstream circuit breaker.
func (s *Server) Breaker() *resilience.CircuitBreaker { return s.breaker }

// Handler returns the HTTP handler serving every relay route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/realtime", s.handleRealtime)
	mux.HandleFunc("GET /{$}", s.handleBanner)
	mux.HandleFunc("GET /stats", s.handleStats)
	if s.store != nil {
		mux.HandleFunc("GET /transcripts", s.handleSearch)
		mux.HandleFunc("GET /transcripts/{id}", s.handleTranscript)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

// SetBaseSession replaces the configuration new upstream sessions start
// from. Sessions already running keep theirs.
func (s *Server) SetBaseSession(cfg protocol.SessionConfig) {
	s.base.Store(&cfg)
}

type banner struct {
	Message string `json:"message"`
	Version string `json:"version,omitempty"`
}

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, banner{Message: "voicelink realtime relay is running", Version: s.version})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("relay: write response", "err", err)
	}
}
