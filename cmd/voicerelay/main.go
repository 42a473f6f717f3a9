// Command voicerelay is the realtime relay server: it accepts client
// WebSocket sessions and bridges each one to an upstream realtime session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/voicelink/internal/app"
	"github.com/MrWong99/voicelink/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file (optional)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the configuration")
	watch := flag.Bool("watch", false, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "voicerelay: %v\n", err)
		return 1
	}
	cfg, found, err := config.LoadOptional(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicerelay: %v\n", err)
		return 1
	}
	if err := config.ValidateRelay(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voicerelay: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := app.NewLogger(cfg.Log)
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	if !found {
		slog.Info("no config file, using defaults and environment", "config", *configPath)
	}
	slog.Info("voicerelay starting",
		"version", version,
		"addr", cfg.Server.Addr(),
		"log_level", cfg.Log.Level,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, app.WithLevelVar(logger.Level), app.WithVersion(version))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload (optional) ─────────────────────────────────────────────────
	if *watch && found {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig, config.WithEnv(os.LookupEnv))
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		defer w.Stop()
		slog.Info("watching config for changes", "config", *configPath)
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voicerelay startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.Addr())
	printRow("Upstream", cfg.Upstream.Provider+" / "+cfg.Upstream.Model)
	printRow("Voice", cfg.Upstream.Voice)
	printRow("Max sessions", fmt.Sprint(cfg.Server.MaxConcurrentSessions))
	printRow("Session timeout", cfg.Server.SessionTimeout.String())
	printRow("Transcripts", string(cfg.Store.Kind))
	if cfg.Observe.Metrics {
		printRow("Metrics", "/metrics")
	} else {
		printRow("Metrics", "(disabled)")
	}
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}
