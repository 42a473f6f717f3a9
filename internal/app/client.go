package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/transport"
	"github.com/MrWong99/voicelink/internal/voice"
	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/native"
	"github.com/MrWong99/voicelink/pkg/audio/pipe"
	"github.com/MrWong99/voicelink/pkg/memory"
	"github.com/MrWong99/voicelink/pkg/protocol"
)

// Client is the assembled terminal client: devices, transport, orchestrator
// and store around one [voice.Controller].
type Client struct {
	*voice.Controller

	closers []func() error
}

type clientOptions struct {
	driver  audio.Driver
	store   memory.TranscriptStore
	reg     *config.Registry
	metrics *observe.Metrics
}

// ClientOption configures [NewClient].
type ClientOption func(*clientOptions)

// WithDriver uses d for capture and playback instead of the configured
// driver.
func WithDriver(d audio.Driver) ClientOption {
	return func(o *clientOptions) { o.driver = d }
}

// WithClientStore hands finished transcripts to s instead of the configured
// store.
func WithClientStore(s memory.TranscriptStore) ClientOption {
	return func(o *clientOptions) { o.store = s }
}

// WithClientRegistry resolves LLM providers through reg.
func WithClientRegistry(reg *config.Registry) ClientOption {
	return func(o *clientOptions) { o.reg = reg }
}

// WithClientMetrics records client metrics on m.
func WithClientMetrics(m *observe.Metrics) ClientOption {
	return func(o *clientOptions) { o.metrics = m }
}

// NewClient builds a disconnected client from cfg. Call Connect on the
// embedded controller to start talking and Close when done.
func NewClient(ctx context.Context, cfg *config.Config, opts ...ClientOption) (_ *Client, err error) {
	o := clientOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.reg == nil {
		o.reg = NewRegistry()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	c := &Client{}
	defer func() {
		if err != nil {
			c.runClosers()
		}
	}()
	if o.driver == nil {
		o.driver = c.configuredDriver(cfg.Audio)
	}

	in := audio.DefaultInputConfig()
	in.Device = cfg.Audio.InputDevice
	in.SampleRate = cfg.Audio.DeviceSampleRate
	out := audio.DefaultOutputConfig()
	out.Device = cfg.Audio.OutputDevice
	out.SampleRate = cfg.Audio.DeviceSampleRate

	capture := audio.NewCapture(o.driver, audio.WithInputConfig(in), audio.WithChunkSamples(cfg.Audio.ChunkSamples))
	playback := audio.NewPlayback(o.driver,
		audio.WithOutputConfig(out),
		audio.OnPreempt(func() { o.metrics.RecordPreemption(context.Background()) }),
	)

	sc := protocol.DefaultSessionConfig()
	if cfg.Client.Instructions != "" {
		sc.Instructions = cfg.Client.Instructions
	}
	if cfg.Client.Voice != "" {
		sc.Voice = cfg.Client.Voice
	}
	t := transport.New(cfg.Client.URL, transport.WithSessionConfig(sc))

	vopts := []voice.Option{
		voice.WithPendingFrames(cfg.Client.PendingFrames),
		voice.WithConnectGrace(cfg.Client.ConnectGrace),
		voice.WithMetrics(o.metrics),
	}

	orch, err := BuildOrchestrator(cfg.Orchestrator, o.reg, o.metrics)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	if orch != nil {
		vopts = append(vopts, voice.WithOrchestrator(orch))
	}

	store := o.store
	if store == nil {
		guard, closeFn, err := OpenStore(ctx, cfg.Store)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		c.closers = append(c.closers, func() error { closeFn(); return nil })
		if guard != nil {
			store = guard
		}
	}
	if store != nil {
		vopts = append(vopts, voice.WithStore(store))
	}

	c.Controller = voice.New(t, capture, playback, vopts...)
	slog.Info("client ready", "url", cfg.Client.URL, "orchestrator", orch != nil, "store", cfg.Store.Kind)
	return c, nil
}

// Close disconnects the controller, then releases the store.
func (c *Client) Close() error {
	var errs []error
	if c.Controller != nil {
		if err := c.Controller.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app: close controller: %w", err))
		}
	}
	c.runClosers()
	return errors.Join(errs...)
}

func (c *Client) runClosers() {
	for i, closer := range c.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	c.closers = nil
}

// configuredDriver returns the driver named by cfg, registering any cleanup
// it needs on c.
func (c *Client) configuredDriver(cfg config.AudioConfig) audio.Driver {
	if cfg.Driver == config.AudioPipe {
		return pipeDriver(cfg)
	}
	d := native.New()
	c.closers = append(c.closers, d.Close)
	return d
}

func pipeDriver(cfg config.AudioConfig) *pipe.Driver {
	d := pipe.New()
	if len(cfg.CaptureCommand) > 0 {
		d.CaptureCommand = cfg.CaptureCommand
	}
	if len(cfg.PlaybackCommand) > 0 {
		d.PlaybackCommand = cfg.PlaybackCommand
	}
	return d
}
