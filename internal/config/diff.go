package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else is summarised by RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is set when the upstream voice or instructions changed.
	// New relay sessions pick up the change; live ones keep their config.
	SessionChanged bool

	// LimitsChanged is set when the session limit or idle timeout changed.
	LimitsChanged bool

	// RestartRequired lists the sections that changed but are only read
	// at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && !d.LimitsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}

	if old.Upstream.Voice != new.Upstream.Voice || old.Upstream.Instructions != new.Upstream.Instructions {
		d.SessionChanged = true
	}

	if old.Server.MaxConcurrentSessions != new.Server.MaxConcurrentSessions ||
		old.Server.SessionTimeout != new.Server.SessionTimeout {
		d.LimitsChanged = true
	}

	if !sameListener(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Upstream.Provider != new.Upstream.Provider ||
		old.Upstream.URL != new.Upstream.URL ||
		old.Upstream.Model != new.Upstream.Model ||
		old.Upstream.APIKey != new.Upstream.APIKey ||
		old.Upstream.Breaker != new.Upstream.Breaker {
		d.RestartRequired = append(d.RestartRequired, "upstream")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Log.Format != new.Log.Format || old.Log.File != new.Log.File {
		d.RestartRequired = append(d.RestartRequired, "log")
	}
	if old.Observe != new.Observe {
		d.RestartRequired = append(d.RestartRequired, "observe")
	}

	return d
}

// sameListener compares the server fields that are bound at startup.
func sameListener(a, b ServerConfig) bool {
	if a.Host != b.Host || a.Port != b.Port ||
		a.PingInterval != b.PingInterval || a.PingTimeout != b.PingTimeout ||
		a.ReadLimit != b.ReadLimit || a.CleanupInterval != b.CleanupInterval ||
		!slices.Equal(a.AllowedOrigins, b.AllowedOrigins) {
		return false
	}
	switch {
	case a.TLS == nil && b.TLS == nil:
		return true
	case a.TLS == nil || b.TLS == nil:
		return false
	default:
		return *a.TLS == *b.TLS
	}
}
