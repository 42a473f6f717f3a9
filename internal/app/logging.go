package app

import (
	"io"
	"log/slog"
	"os"

	"github.com/natefinch/lumberjack"

	"github.com/MrWong99/voicelink/internal/config"
)

// Log rotation defaults used when the file is set but limits are not.
const (
	defaultLogMaxSizeMB  = 50
	defaultLogMaxBackups = 5
	defaultLogMaxAgeDays = 28
)

// Logger is a configured slog logger whose level can change at runtime.
type Logger struct {
	*slog.Logger

	// Level is shared by the handler; set it to change verbosity.
	Level *slog.LevelVar

	out io.Writer
}

// NewLogger builds a logger from cfg. Output goes to stderr, or through a
// rotating file writer when cfg.File is set.
func NewLogger(cfg config.LogConfig) *Logger {
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, defaultLogMaxSizeMB),
			MaxBackups: orDefault(cfg.MaxBackups, defaultLogMaxBackups),
			MaxAge:     orDefault(cfg.MaxAgeDays, defaultLogMaxAgeDays),
			Compress:   cfg.Compress,
		}
	}
	return newLogger(out, cfg)
}

func newLogger(out io.Writer, cfg config.LogConfig) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(SlogLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: lv}

	var h slog.Handler
	if cfg.Format == config.FormatJSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return &Logger{Logger: slog.New(h), Level: lv, out: out}
}

// Close releases the rotating file, if any.
func (l *Logger) Close() error {
	if lj, ok := l.out.(*lumberjack.Logger); ok {
		return lj.Close()
	}
	return nil
}

// SlogLevel maps a configured level onto slog. Unknown levels are info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
