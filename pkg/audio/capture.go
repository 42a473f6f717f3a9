package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultCaptureQueue = 32

// ── Options ────────────────────────────────────────────────────────────────────

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithInputConfig overrides the device request.
func WithInputConfig(cfg DeviceConfig) CaptureOption {
	return func(c *Capture) { c.cfg = cfg }
}

// WithChunkSamples overrides the number of samples per frame.
func WithChunkSamples(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.chunk = n
		}
	}
}

// WithCaptureQueue sets the capacity of the hand-off queue between the device
// callback and frame delivery.
func WithCaptureQueue(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.queue = n
		}
	}
}

// ── Capture ────────────────────────────────────────────────────────────────────

// Capture frames a live input device into fixed-size encoded [Frame]s.
//
// The device callback only encodes and enqueues; a separate goroutine hands
// frames to the consumer in capture order. When the consumer falls behind, the
// oldest queued frame is dropped. At most one device handle is held at a time.
type Capture struct {
	driver Driver
	cfg    DeviceConfig
	chunk  int
	queue  int

	mu     sync.Mutex
	active *captureStream

	dropped atomic.Uint64
}

// NewCapture creates a Capture that acquires devices from driver.
func NewCapture(driver Driver, opts ...CaptureOption) *Capture {
	c := &Capture{
		driver: driver,
		cfg:    DefaultInputConfig(),
		chunk:  ChunkSamples,
		queue:  defaultCaptureQueue,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start acquires the input device and begins delivering frames to onFrame.
// A running capture is stopped first. Device failures are returned as
// *[DeviceError].
func (c *Capture) Start(ctx context.Context, onFrame func(Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.active.stop()
		c.active = nil
	}

	dev, err := c.driver.OpenInput(ctx, c.cfg)
	if err != nil {
		var devErr *DeviceError
		if !errors.As(err, &devErr) {
			err = &DeviceError{Op: "input", Device: c.cfg.Device, Err: err}
		}
		return err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &captureStream{
		dev:      dev,
		frames:   make(chan Frame, c.queue),
		ctx:      sctx,
		cancel:   cancel,
		chunk:    c.chunk,
		norm:     &Normalizer{SampleRate: c.cfg.SampleRate, Channels: c.cfg.Channels},
		dropped:  &c.dropped,
		buffered: make([]float32, 0, c.chunk*2),
	}
	go s.deliver(onFrame)

	if err := dev.Start(s.onChunk); err != nil {
		s.stop()
		return fmt.Errorf("audio: start capture: %w", err)
	}
	c.active = s
	slog.Debug("audio capture started", "device", c.cfg.Device, "chunk_samples", c.chunk)
	return nil
}

// Stop releases the device. It is idempotent and safe when not capturing.
// onFrame is not invoked for frames captured after Stop returns.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return
	}
	c.active.stop()
	c.active = nil
	slog.Debug("audio capture stopped")
}

// Active reports whether a device handle is held.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Dropped returns the number of frames discarded because the consumer fell
// behind.
func (c *Capture) Dropped() uint64 { return c.dropped.Load() }

// ── stream ─────────────────────────────────────────────────────────────────────

type captureStream struct {
	dev    InputDevice
	frames chan Frame
	ctx    context.Context
	cancel context.CancelFunc
	chunk  int
	norm   *Normalizer

	// Touched only from the device callback.
	buffered []float32
	seq      uint64

	dropped  *atomic.Uint64
	stopOnce sync.Once
}

// onChunk runs in the device's real-time context.
func (s *captureStream) onChunk(samples []float32) {
	if s.ctx.Err() != nil {
		return
	}
	s.buffered = append(s.buffered, s.norm.Normalize(samples)...)
	for len(s.buffered) >= s.chunk {
		out := make([]float32, s.chunk)
		copy(out, s.buffered[:s.chunk])
		s.buffered = append(s.buffered[:0], s.buffered[s.chunk:]...)
		s.seq++
		s.enqueue(NewFrame(s.seq, out))
	}
}

func (s *captureStream) enqueue(f Frame) {
	for {
		select {
		case s.frames <- f:
			return
		default:
		}
		select {
		case <-s.frames:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *captureStream) deliver(onFrame func(Frame)) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.frames:
			if s.ctx.Err() != nil {
				return
			}
			onFrame(f)
		}
	}
}

func (s *captureStream) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if err := s.dev.Close(); err != nil {
			slog.Warn("audio: close input device", "err", err)
		}
	})
}
