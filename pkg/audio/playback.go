package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultSlice = 20 * time.Millisecond

// ── Options ────────────────────────────────────────────────────────────────────

// PlaybackOption configures a [Playback].
type PlaybackOption func(*Playback)

// WithOutputConfig overrides the device request.
func WithOutputConfig(cfg DeviceConfig) PlaybackOption {
	return func(p *Playback) { p.cfg = cfg }
}

// OnPlaybackEnd registers fn to run when a unit finishes naturally. It is not
// called for units that are preempted or stopped.
func OnPlaybackEnd(fn func()) PlaybackOption {
	return func(p *Playback) { p.onEnd = fn }
}

// OnPreempt registers fn to run when a new frame cuts off a playing unit.
func OnPreempt(fn func()) PlaybackOption {
	return func(p *Playback) { p.onPreempt = fn }
}

// WithSlice sets the pacing granularity. Smaller slices cut faster at the cost
// of more device writes.
func WithSlice(d time.Duration) PlaybackOption {
	return func(p *Playback) {
		if d > 0 {
			p.slice = d
		}
	}
}

// ── Playback ───────────────────────────────────────────────────────────────────

// Playback plays decoded frames on a lazily acquired output device. Newer
// audio always preempts older audio: a Play while a unit is sounding hard-cuts
// the old unit before the new one starts.
type Playback struct {
	driver    Driver
	cfg       DeviceConfig
	slice     time.Duration
	onEnd     func()
	onPreempt func()

	// opMu serialises Play, Stop and Close.
	opMu sync.Mutex

	mu  sync.Mutex
	dev OutputDevice
	cur *playUnit
}

type playUnit struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayback creates a Playback that acquires its device from driver on the
// first call to Play.
func NewPlayback(driver Driver, opts ...PlaybackOption) *Playback {
	p := &Playback{
		driver: driver,
		cfg:    DefaultOutputConfig(),
		slice:  defaultSlice,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play decodes f and schedules it for output, preempting any unit that is
// still playing. It returns an error wrapping [ErrOddLength] or a base64 error
// for malformed payloads, or a *[DeviceError] if the device cannot be opened.
func (p *Playback) Play(ctx context.Context, f Frame) error {
	samples := f.Samples
	if samples == nil {
		if err := ValidatePayload(f.Payload); err != nil {
			return fmt.Errorf("audio: play: %w", err)
		}
		samples = DecodeFrame(f.Payload)
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	dev, err := p.device(ctx)
	if err != nil {
		return err
	}

	if p.cutCurrent(dev) && p.onPreempt != nil {
		p.onPreempt()
	}
	if len(samples) == 0 {
		return nil
	}

	uctx, cancel := context.WithCancel(context.Background())
	u := &playUnit{cancel: cancel, done: make(chan struct{})}
	p.mu.Lock()
	p.cur = u
	p.mu.Unlock()

	go p.run(uctx, u, dev, samples)
	return nil
}

// Stop halts the playing unit immediately. It is a no-op when idle.
func (p *Playback) Stop() {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	dev := p.dev
	p.mu.Unlock()
	if dev == nil {
		return
	}
	p.cutCurrent(dev)
}

// Playing reports whether a unit is currently sounding.
func (p *Playback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil
}

// Close stops playback and releases the device. A later Play re-acquires it.
func (p *Playback) Close() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	dev := p.dev
	p.mu.Unlock()
	if dev == nil {
		return nil
	}
	p.cutCurrent(dev)

	p.mu.Lock()
	p.dev = nil
	p.mu.Unlock()
	return dev.Close()
}

// device returns the output handle, acquiring it on first use. opMu is held.
func (p *Playback) device(ctx context.Context) (OutputDevice, error) {
	p.mu.Lock()
	dev := p.dev
	p.mu.Unlock()
	if dev != nil {
		return dev, nil
	}

	dev, err := p.driver.OpenOutput(ctx, p.cfg)
	if err != nil {
		if _, ok := err.(*DeviceError); !ok {
			err = &DeviceError{Op: "output", Device: p.cfg.Device, Err: err}
		}
		return nil, err
	}
	p.mu.Lock()
	p.dev = dev
	p.mu.Unlock()
	slog.Debug("audio playback device acquired", "device", p.cfg.Device)
	return dev, nil
}

// cutCurrent cancels the playing unit, waits for its goroutine and clears the
// device buffer. It reports whether a unit was cut. opMu is held.
func (p *Playback) cutCurrent(dev OutputDevice) bool {
	p.mu.Lock()
	u := p.cur
	p.cur = nil
	p.mu.Unlock()
	if u == nil {
		return false
	}
	u.cancel()
	<-u.done
	if err := dev.Clear(); err != nil {
		slog.Warn("audio: clear output device", "err", err)
	}
	return true
}

// paceResult is how a unit's write loop ended.
type paceResult int

const (
	paceCut    paceResult = iota // cancelled by a cut
	paceDone                     // played to completion
	paceFailed                   // device write failed
)

// run writes samples in paced slices, keeping one slice queued ahead of the
// device. A unit that ends on its own releases the current slot; onEnd fires
// only when it played to completion.
func (p *Playback) run(ctx context.Context, u *playUnit, dev OutputDevice, samples []float32) {
	res := p.pace(ctx, dev, samples)
	close(u.done)
	if res == paceCut {
		return
	}

	p.mu.Lock()
	owned := p.cur == u
	if owned {
		p.cur = nil
	}
	p.mu.Unlock()

	if !owned {
		return
	}
	u.cancel()
	if res == paceDone && p.onEnd != nil {
		p.onEnd()
	}
}

func (p *Playback) pace(ctx context.Context, dev OutputDevice, samples []float32) paceResult {
	per := int(int64(SampleRate) * int64(p.slice) / int64(time.Second))
	if per <= 0 {
		per = len(samples)
	}
	start := time.Now()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for off := 0; off < len(samples); off += per {
		end := min(off+per, len(samples))
		// Write slice n at the time slice n-1 starts sounding.
		due := start.Add(sampleDuration(off) - p.slice)
		if !sleepUntil(ctx, timer, due) {
			return paceCut
		}
		if err := dev.Write(samples[off:end]); err != nil {
			slog.Warn("audio: write output device", "err", err)
			return paceFailed
		}
	}
	if !sleepUntil(ctx, timer, start.Add(sampleDuration(len(samples)))) {
		return paceCut
	}
	return paceDone
}

func sleepUntil(ctx context.Context, timer *time.Timer, t time.Time) bool {
	if ctx.Err() != nil {
		return false
	}
	d := time.Until(t)
	if d <= 0 {
		return true
	}
	timer.Reset(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}

func sampleDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}
