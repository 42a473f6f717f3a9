package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicelink/internal/agent"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/protocol"
)

// Default values applied by [Defaults].
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8000
	DefaultMaxSessions     = 100
	DefaultSessionTimeout  = 30 * time.Minute
	DefaultCleanupInterval = 60 * time.Second
	DefaultPingInterval    = 20 * time.Second
	DefaultReadLimit       = 1 << 20
	DefaultShutdownTimeout = 15 * time.Second
	DefaultUpstreamURL     = "wss://api.openai.com/v1/realtime"
	DefaultUpstreamModel   = "gpt-4o-realtime-preview-2024-10-01"
	DefaultClientURL       = "ws://localhost:8000/ws/realtime"
	DefaultConnectGrace    = 5 * time.Second
	DefaultPendingFrames   = 64
	DefaultServiceName     = "voicelink"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"realtime": {"openai"},
	"llm":      {"openai", "gemini", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Defaults returns a Config with every default filled in. [LoadFromReader]
// decodes on top of it, so omitted keys keep these values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                  DefaultHost,
			Port:                  DefaultPort,
			AllowedOrigins:        []string{"*"},
			MaxConcurrentSessions: DefaultMaxSessions,
			SessionTimeout:        DefaultSessionTimeout,
			CleanupInterval:       DefaultCleanupInterval,
			PingInterval:          DefaultPingInterval,
			PingTimeout:           DefaultPingInterval,
			ReadLimit:             DefaultReadLimit,
			ShutdownTimeout:       DefaultShutdownTimeout,
		},
		Upstream: UpstreamConfig{
			Provider: "openai",
			URL:      DefaultUpstreamURL,
			Model:    DefaultUpstreamModel,
			Voice:    protocol.DefaultVoice,
		},
		Client: ClientConfig{
			URL:           DefaultClientURL,
			ConnectGrace:  DefaultConnectGrace,
			PendingFrames: DefaultPendingFrames,
		},
		Audio: AudioConfig{
			Driver:           AudioNative,
			DeviceSampleRate: audio.SampleRate,
			ChunkSamples:     audio.ChunkSamples,
		},
		Orchestrator: OrchestratorConfig{
			Decider:      DeciderRules,
			AgentTimeout: 20 * time.Second,
			MaxParallel:  4,
			HistorySize:  20,
			HistoryAge:   5 * time.Minute,
		},
		Store: StoreConfig{Kind: StoreMemory},
		Log:   LogConfig{Level: LogInfo, Format: FormatText},
		Observe: ObserveConfig{
			Metrics:     true,
			ServiceName: DefaultServiceName,
		},
	}
}

// Load reads the YAML configuration file at path, applies environment
// overrides and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional is [Load] for deployments that configure everything through
// the environment: a missing file yields the defaults with environment
// overrides applied. found reports whether the file existed.
func LoadOptional(path string) (cfg *Config, found bool, err error) {
	cfg, err = Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg = Defaults()
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, false, err
	}
	if err := Validate(cfg); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// LoadFromReader decodes a YAML config from r on top of [Defaults] and
// validates the result. Environment overrides are not applied, which keeps
// tests hermetic.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Variables already set win. Missing files
// are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables looked up via lookup
// (normally [os.LookupEnv]). Malformed numbers are reported together.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, set func(int)) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: env %s=%q: not an integer", key, v))
			return
		}
		set(n)
	}

	str("HOST", &cfg.Server.Host)
	num("PORT", func(n int) { cfg.Server.Port = n })
	num("MAX_CONCURRENT_SESSIONS", func(n int) { cfg.Server.MaxConcurrentSessions = n })
	num("SESSION_TIMEOUT_MINUTES", func(n int) { cfg.Server.SessionTimeout = time.Duration(n) * time.Minute })
	num("CLEANUP_INTERVAL_SECONDS", func(n int) { cfg.Server.CleanupInterval = time.Duration(n) * time.Second })
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	str("OPENAI_API_KEY", &cfg.Upstream.APIKey)
	str("OPENAI_REALTIME_URL", &cfg.Upstream.URL)
	str("DATABASE_URL", &cfg.Store.DSN)

	// Provider entries without their own key pick up the vendor variable.
	if key, ok := lookup("GEMINI_API_KEY"); ok && key != "" {
		fillProviderKeys(cfg, "gemini", key)
	}
	if key, ok := lookup("OPENAI_API_KEY"); ok && key != "" {
		fillProviderKeys(cfg, "openai", key)
	}

	return errors.Join(errs...)
}

func fillProviderKeys(cfg *Config, name, key string) {
	for id, p := range cfg.Orchestrator.Providers {
		if p.Name == name && p.APIKey == "" {
			p.APIKey = key
			cfg.Orchestrator.Providers[id] = p
		}
	}
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.MaxConcurrentSessions < 1 {
		errs = append(errs, fmt.Errorf("server.max_concurrent_sessions must be positive, got %d", cfg.Server.MaxConcurrentSessions))
	}
	if cfg.Server.SessionTimeout <= 0 {
		errs = append(errs, errors.New("server.session_timeout must be positive"))
	}
	if cfg.Server.CleanupInterval <= 0 {
		errs = append(errs, errors.New("server.cleanup_interval must be positive"))
	}
	if cfg.Server.ReadLimit < 0 {
		errs = append(errs, errors.New("server.read_limit must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Upstream
	validateProviderName("realtime", cfg.Upstream.Provider)
	if err := requireScheme("upstream.url", cfg.Upstream.URL, "wss"); err != nil {
		errs = append(errs, err)
	}

	// Client
	if err := requireScheme("client.url", cfg.Client.URL, "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Client.PendingFrames < 1 {
		errs = append(errs, fmt.Errorf("client.pending_frames must be positive, got %d", cfg.Client.PendingFrames))
	}
	if cfg.Client.ConnectGrace < 0 {
		errs = append(errs, errors.New("client.connect_grace must not be negative"))
	}

	// Audio
	if !cfg.Audio.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("audio.driver %q is invalid; valid values: native, pipe", cfg.Audio.Driver))
	}
	if r := cfg.Audio.DeviceSampleRate; r < 8000 || r > 192000 {
		errs = append(errs, fmt.Errorf("audio.device_sample_rate %d is out of range [8000, 192000]", r))
	}
	if n := cfg.Audio.ChunkSamples; n < 160 || n > 16000 {
		errs = append(errs, fmt.Errorf("audio.chunk_samples %d is out of range [160, 16000]", n))
	}

	errs = append(errs, validateOrchestrator(&cfg.Orchestrator)...)

	// Store
	if !cfg.Store.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("store.kind %q is invalid; valid values: memory, postgres, none", cfg.Store.Kind))
	}
	if cfg.Store.Kind == StorePostgres && cfg.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required when store.kind is postgres"))
	}
	if cfg.Store.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("store.max_conns must not be negative, got %d", cfg.Store.MaxConns))
	}

	// Log
	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	return errors.Join(errs...)
}

// ValidateRelay runs [Validate] plus the checks only the relay needs.
func ValidateRelay(cfg *Config) error {
	err := Validate(cfg)
	if cfg.Upstream.APIKey == "" {
		err = errors.Join(err, errors.New("upstream.api_key is required (set OPENAI_API_KEY)"))
	}
	return err
}

func validateOrchestrator(o *OrchestratorConfig) []error {
	if !o.Enabled {
		return nil
	}
	var errs []error
	if !o.Decider.IsValid() {
		errs = append(errs, fmt.Errorf("orchestrator.decider %q is invalid; valid values: rules, llm", o.Decider))
	}
	if o.MatchThreshold < 0 || o.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("orchestrator.match_threshold %.2f is out of range [0, 1]", o.MatchThreshold))
	}
	if o.Decider == DeciderLLM {
		if _, ok := o.Providers[o.DeciderProvider]; !ok {
			errs = append(errs, fmt.Errorf("orchestrator.decider_provider %q is not a configured provider", o.DeciderProvider))
		}
	}

	for id, p := range o.Providers {
		prefix := fmt.Sprintf("orchestrator.providers[%s]", id)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateProviderName("llm", p.Name)
		for _, fb := range p.Fallbacks {
			if _, ok := o.Providers[fb]; !ok || fb == id {
				errs = append(errs, fmt.Errorf("%s.fallbacks: %q is not another configured provider", prefix, fb))
			}
		}
	}
	if o.DefaultProvider != "" {
		if _, ok := o.Providers[o.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("orchestrator.default_provider %q is not a configured provider", o.DefaultProvider))
		}
	}

	seen := make(map[string]int, len(o.Agents))
	for i, a := range o.Agents {
		prefix := fmt.Sprintf("orchestrator.agents[%d]", i)
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[a.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of agents[%d]", prefix, a.Name, prev))
			}
			seen[a.Name] = i
		}
		if _, err := agent.ParseCapability(a.Capability); a.Capability != "" && err != nil {
			errs = append(errs, fmt.Errorf("%s.capability: %w", prefix, err))
		}
		if a.Provider != "" {
			if _, ok := o.Providers[a.Provider]; !ok {
				errs = append(errs, fmt.Errorf("%s.provider %q is not a configured provider", prefix, a.Provider))
			}
		}
	}

	for i, r := range o.Rules {
		prefix := fmt.Sprintf("orchestrator.rules[%d]", i)
		if len(r.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("%s.keywords must not be empty", prefix))
		}
		for _, name := range r.Agents {
			if _, ok := seen[name]; !ok {
				errs = append(errs, fmt.Errorf("%s: unknown agent %q", prefix, name))
			}
		}
	}
	for _, name := range o.DefaultAgents {
		if _, ok := seen[name]; !ok {
			errs = append(errs, fmt.Errorf("orchestrator.default_agents: unknown agent %q", name))
		}
	}
	return errs
}

func requireScheme(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s %q is not a valid URL", field, raw)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("%s %q must use %s://", field, raw, strings.Join(schemes, ":// or "))
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if known := ValidProviderNames[kind]; !slices.Contains(known, name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"kind", kind,
			"name", name,
			"known", known,
		)
	}
}

// BaseSession returns the upstream session configuration every relay
// session starts from, before client updates are merged.
func (c *Config) BaseSession() protocol.SessionConfig {
	base := protocol.DefaultSessionConfig()
	if c.Upstream.Voice != "" {
		base.Voice = c.Upstream.Voice
	}
	if c.Upstream.Instructions != "" {
		base.Instructions = c.Upstream.Instructions
	}
	return base
}
