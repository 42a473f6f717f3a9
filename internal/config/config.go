// Package config provides the configuration schema, loader and provider
// registry shared by the voicelink relay and the terminal client.
package config

import (
	"net"
	"strconv"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool { return f == FormatText || f == FormatJSON }

// StoreKind selects the transcript store backend.
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StorePostgres StoreKind = "postgres"
	StoreNone     StoreKind = "none"
)

// IsValid reports whether k is a recognised store kind.
func (k StoreKind) IsValid() bool {
	switch k {
	case StoreMemory, StorePostgres, StoreNone:
		return true
	}
	return false
}

// AudioDriver selects the local audio backend.
type AudioDriver string

const (
	// AudioNative talks to the host sound system directly.
	AudioNative AudioDriver = "native"

	// AudioPipe streams raw PCM through recorder and player processes.
	AudioPipe AudioDriver = "pipe"
)

// IsValid reports whether d is a recognised audio driver.
func (d AudioDriver) IsValid() bool { return d == AudioNative || d == AudioPipe }

// DeciderKind selects how the orchestrator picks agents for a user turn.
type DeciderKind string

const (
	// DeciderRules matches keywords against configured rules.
	DeciderRules DeciderKind = "rules"

	// DeciderLLM asks a request/response model, falling back to the rules.
	DeciderLLM DeciderKind = "llm"
)

// IsValid reports whether d is a recognised decider kind.
func (d DeciderKind) IsValid() bool { return d == DeciderRules || d == DeciderLLM }

// Config is the root configuration. Load it with [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Client       ClientConfig       `yaml:"client"`
	Audio        AudioConfig        `yaml:"audio"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Store        StoreConfig        `yaml:"store"`
	Log          LogConfig          `yaml:"log"`
	Observe      ObserveConfig      `yaml:"observe"`
}

// ServerConfig holds the relay's listener and session limits.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedOrigins lists websocket origin patterns; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`

	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`

	// SessionTimeout ends sessions without client traffic for this long.
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	PingInterval time.Duration `yaml:"ping_interval"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`

	// ReadLimit caps one client message in bytes.
	ReadLimit int64 `yaml:"read_limit"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// UpstreamConfig selects and configures the realtime provider the relay
// bridges to.
type UpstreamConfig struct {
	// Provider names a realtime factory in the [Registry]. Default "openai".
	Provider string `yaml:"provider"`

	APIKey string `yaml:"api_key"`

	// URL is the provider's websocket endpoint; it must use wss://.
	URL   string `yaml:"url"`
	Model string `yaml:"model"`

	// Voice and Instructions seed every upstream session before client
	// updates are merged.
	Voice        string `yaml:"voice"`
	Instructions string `yaml:"instructions"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes a circuit breaker. Zero values use the breaker's
// defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ClientConfig configures the terminal client's session controller.
type ClientConfig struct {
	// URL is the relay endpoint, ws:// or wss://.
	URL string `yaml:"url"`

	// Instructions and Voice are sent in session.create.
	Instructions string `yaml:"instructions"`
	Voice        string `yaml:"voice"`

	// ConnectGrace is how long captured frames are queued while connecting.
	ConnectGrace time.Duration `yaml:"connect_grace"`

	// PendingFrames bounds that queue.
	PendingFrames int `yaml:"pending_frames"`
}

// AudioConfig describes the local capture and playback devices.
type AudioConfig struct {
	Driver AudioDriver `yaml:"driver"`

	// InputDevice and OutputDevice select backend-specific devices; empty
	// means the default device.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// DeviceSampleRate is the native rate of both devices. Audio is
	// resampled to and from 16 kHz.
	DeviceSampleRate int `yaml:"device_sample_rate"`

	// ChunkSamples is the number of 16 kHz samples per captured frame.
	ChunkSamples int `yaml:"chunk_samples"`

	// CaptureCommand and PlaybackCommand override the recorder and player
	// processes of the pipe driver. {rate} and {channels} are substituted.
	CaptureCommand  []string `yaml:"capture_command"`
	PlaybackCommand []string `yaml:"playback_command"`
}

// OrchestratorConfig declares the agents consulted on each final user turn.
type OrchestratorConfig struct {
	Enabled bool        `yaml:"enabled"`
	Decider DeciderKind `yaml:"decider"`

	// DeciderProvider names the entry of Providers used by the LLM decider.
	DeciderProvider string `yaml:"decider_provider"`

	// MatchThreshold is the phonetic similarity needed for a keyword match.
	MatchThreshold float64 `yaml:"match_threshold"`

	// DefaultAgents are consulted when no rule matches.
	DefaultAgents []string `yaml:"default_agents"`

	Rules  []RuleConfig  `yaml:"rules"`
	Agents []AgentConfig `yaml:"agents"`

	// Providers are the named request/response LLM backends agents refer to.
	Providers map[string]ProviderEntry `yaml:"providers"`

	// DefaultProvider is used by agents that do not name one.
	DefaultProvider string `yaml:"default_provider"`

	AgentTimeout time.Duration `yaml:"agent_timeout"`
	MaxParallel  int           `yaml:"max_parallel"`
	HistorySize  int           `yaml:"history_size"`
	HistoryAge   time.Duration `yaml:"history_age"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// RuleConfig routes turns containing any keyword to agents.
type RuleConfig struct {
	Keywords     []string `yaml:"keywords"`
	Agents       []string `yaml:"agents"`
	Instructions string   `yaml:"instructions"`
}

// AgentConfig declares one agent.
type AgentConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Capability is "realtime" or "request_response".
	Capability   string `yaml:"capability"`
	Instructions string `yaml:"instructions"`

	// Provider names an entry of OrchestratorConfig.Providers.
	Provider    string  `yaml:"provider"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ProviderEntry configures one request/response LLM backend. The Name field
// selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the backend implementation (e.g. "openai", "gemini",
	// "anthropic").
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	Timeout time.Duration `yaml:"timeout"`

	// Fallbacks names other entries tried in order when this one fails.
	Fallbacks []string `yaml:"fallbacks"`
}

// StoreConfig selects where completed transcripts go.
type StoreConfig struct {
	Kind StoreKind `yaml:"kind"`

	// DSN is the PostgreSQL connection string for the postgres kind.
	DSN string `yaml:"dsn"`

	// MaxConns caps the postgres pool. Zero keeps the pgx default.
	MaxConns int32 `yaml:"max_conns"`
}

// LogConfig configures the slog handler and optional file rotation.
type LogConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`

	// File, when set, receives logs through a rotating writer instead of
	// stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	// Metrics serves Prometheus metrics at /metrics.
	Metrics bool `yaml:"metrics"`

	ServiceName string `yaml:"service_name"`
}
