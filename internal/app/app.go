// Package app wires the voicelink subsystems into running programs.
//
// [App] is the relay server: New builds telemetry, the transcript store, the
// upstream provider, its circuit breaker, the session manager, the health
// probes and the relay HTTP handler; Run serves until the context ends; and
// Shutdown tears everything down in order. [NewClient] assembles the
// terminal client around a [voice.Controller].
//
// For testing, inject doubles via functional options (WithRealtimeProvider,
// WithStore, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/health"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/relay"
	"github.com/MrWong99/voicelink/internal/resilience"
	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/provider/realtime"
)

// readHeaderTimeout bounds the HTTP request header read.
const readHeaderTimeout = 10 * time.Second

// App owns the relay server and every subsystem it depends on.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	level   *slog.LevelVar
	version string

	promReg   *prometheus.Registry
	telemetry *observe.Provider
	provider  realtime.Provider
	store     memory.TranscriptStore
	guard     *memory.Guard
	breaker   *resilience.CircuitBreaker
	sessions  *relay.SessionManager
	relay     *relay.Server
	http      *http.Server

	// closers run in order during Shutdown, after the HTTP server stops.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry resolves providers through reg instead of the built-ins.
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.reg = reg }
}

// WithRealtimeProvider injects the upstream provider instead of creating one
// from config.
func WithRealtimeProvider(p realtime.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithStore injects a transcript store instead of opening one from config.
func WithStore(s memory.TranscriptStore) Option {
	return func(a *App) { a.store = s }
}

// WithLevelVar lets [App.ApplyConfig] change the log level at runtime.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithVersion sets the version reported in the banner and telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithPrometheusRegistry registers the collectors on reg instead of a fresh
// registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.promReg = reg }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. On error, whatever
// was already opened is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.reg == nil {
		a.reg = NewRegistry()
	}
	defer func() {
		if err != nil {
			a.runClosers()
		}
	}()

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	a.telemetry, err = observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observe.ServiceName,
		ServiceVersion: a.version,
		Registry:       a.promReg,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.telemetry.Shutdown(sctx)
	})

	// ── 2. Transcript store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, err
	}

	// ── 3. Upstream provider + breaker ───────────────────────────────────
	if a.provider == nil {
		a.provider, err = a.reg.CreateRealtime(cfg.Upstream)
		if err != nil {
			return nil, fmt.Errorf("app: create upstream provider: %w", err)
		}
		slog.Info("provider created", "kind", "realtime", "name", cfg.Upstream.Provider, "model", cfg.Upstream.Model)
	}
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "upstream",
		MaxFailures:  cfg.Upstream.Breaker.MaxFailures,
		ResetTimeout: cfg.Upstream.Breaker.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from, "to", to)
		},
	})

	// ── 4. Sessions ──────────────────────────────────────────────────────
	a.sessions = relay.NewSessionManager(relay.SessionManagerConfig{
		MaxSessions:     cfg.Server.MaxConcurrentSessions,
		Timeout:         cfg.Server.SessionTimeout,
		CleanupInterval: cfg.Server.CleanupInterval,
		Metrics:         a.telemetry.Metrics,
	})

	// ── 5. Health ────────────────────────────────────────────────────────
	checkers := []health.Checker{
		health.BreakerCheck("upstream", a.breaker),
		health.CapacityCheck("capacity", a.sessions.Capacity),
	}
	if a.guard != nil {
		checkers = append(checkers, health.Checker{Name: "store", Check: a.guard.Check, Optional: true})
	}

	// ── 6. Relay ─────────────────────────────────────────────────────────
	base := cfg.BaseSession()
	rcfg := relay.Config{
		Provider:       a.provider,
		Sessions:       a.sessions,
		Breaker:        a.breaker,
		Session:        &base,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PingInterval:   cfg.Server.PingInterval,
		PingTimeout:    cfg.Server.PingTimeout,
		ReadLimit:      cfg.Server.ReadLimit,
		Metrics:        a.telemetry.Metrics,
		Health:         health.New(checkers...),
		Version:        a.version,
	}
	if cfg.Observe.Metrics {
		rcfg.MetricsHandler = a.telemetry.Handler
	}
	if a.guard != nil {
		rcfg.Store = a.guard
	}
	a.relay = relay.NewServer(rcfg)

	a.http = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           a.relay.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

// initStore wraps the injected or configured store in a guard so transcript
// persistence failures never end a session.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		a.guard = memory.NewGuard(a.store)
		return nil
	}
	guard, closeFn, err := OpenStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	a.guard = guard
	a.closers = append(a.closers, func() error { closeFn(); return nil })
	slog.Info("transcript store ready", "kind", a.cfg.Store.Kind)
	return nil
}

// Handler returns the relay's HTTP handler.
func (a *App) Handler() http.Handler { return a.http.Handler }

// Relay returns the relay server.
func (a *App) Relay() *relay.Server { return a.relay }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.http.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.http.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln and sweeps idle sessions until ctx is cancelled, then
// returns ctx's error. A server failure is returned immediately.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	go a.sessions.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- a.http.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.http.Serve(ln)
	}()

	slog.Info("relay listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new.
// Changes that need a restart are logged and otherwise ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		a.relay.SetBaseSession(new.BaseSession())
		slog.Info("base session config updated; applies to new sessions")
	}
	if d.LimitsChanged {
		a.sessions.SetLimits(new.Server.MaxConcurrentSessions, new.Server.SessionTimeout)
		slog.Info("session limits updated",
			"max_sessions", new.Server.MaxConcurrentSessions,
			"session_timeout", new.Server.SessionTimeout,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	a.cfg = new
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends live sessions, stops the HTTP server and releases the store
// and telemetry. It respects the context deadline: if ctx expires before all
// steps finish, the remaining steps are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len())

		if err := a.relay.Shutdown(ctx); err != nil {
			slog.Warn("sessions did not end before the deadline", "err", err)
			errs = append(errs, err)
		}
		if err := a.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
		if ctx.Err() != nil {
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers))
			errs = append(errs, ctx.Err())
			return
		}
		a.runClosers()
		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

func (a *App) runClosers() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
