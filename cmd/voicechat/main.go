// Command voicechat is the terminal voice client. It captures the microphone,
// streams it to a voicerelay server and plays the assistant's reply, while
// line commands on stdin control the conversation.
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
	"time"

	"github.com/MrWong99/voicelink/internal/app"
	"github.com/MrWong99/voicelink/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file (optional)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the configuration")
	url := flag.String("url", "", "relay WebSocket URL (overrides client.url)")
	instructions := flag.String("instructions", "", "initial assistant instructions (overrides client.instructions)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
		return 1
	}
	cfg, _, err := config.LoadOptional(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
		return 1
	}
	if *url != "" {
		cfg.Client.URL = *url
	}
	if *instructions != "" {
		cfg.Client.Instructions = *instructions
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := app.NewLogger(cfg.Log)
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := app.NewClient(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise client", "err", err)
		return 1
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Warn("client close error", "err", err)
		}
	}()

	go app.PrintNotices(ctx, client.Notices(), os.Stdout)

	fmt.Printf("connecting to %s\n", cfg.Client.URL)
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Client.ConnectGrace+10*time.Second)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		// The console stays usable so the user can retry with "r".
		slog.Error("connect failed", "err", err)
	}

	err = app.RunConsole(ctx, client, os.Stdin, os.Stdout)
	switch {
	case err == nil, errors.Is(err, app.ErrQuit), errors.Is(err, context.Canceled):
		return 0
	default:
		slog.Error("console error", "err", err)
		return 1
	}
}
