// Package native implements [audio.Driver] on the host sound system: capture
// runs through miniaudio (malgo) and playback through oto.
package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// periodMillis is the capture callback period.
const periodMillis = 20

// Driver acquires devices from the host sound system. The zero value is not
// usable; call [New].
type Driver struct {
	// PlaybackBuffer is the oto output buffer. Default 100ms.
	PlaybackBuffer time.Duration

	mu   sync.Mutex
	mctx *malgo.AllocatedContext

	// oto allows a single context per process; its format is fixed by the
	// first OpenOutput.
	otoOnce     sync.Once
	otoCtx      *oto.Context
	otoRate     int
	otoChannels int
	otoErr      error
}

// New returns a Driver with default settings.
func New() *Driver {
	return &Driver{PlaybackBuffer: 100 * time.Millisecond}
}

var _ audio.Driver = (*Driver)(nil)

// ── input ──────────────────────────────────────────────────────────────────────

// OpenInput implements [audio.Driver].
func (d *Driver) OpenInput(_ context.Context, cfg audio.DeviceConfig) (audio.InputDevice, error) {
	mctx, err := d.malgoContext()
	if err != nil {
		return nil, &audio.DeviceError{Op: "input", Device: cfg.Device, Err: classify(err)}
	}

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = uint32(max(cfg.Channels, 1))
	dc.SampleRate = uint32(rateOf(cfg))
	dc.PeriodSizeInMilliseconds = periodMillis
	if cfg.Device != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			return nil, &audio.DeviceError{Op: "input", Device: cfg.Device, Err: classify(err)}
		}
		i := findDevice(deviceNames(infos), cfg.Device)
		if i < 0 {
			return nil, &audio.DeviceError{Op: "input", Device: cfg.Device, Err: audio.ErrDeviceUnavailable}
		}
		dc.Capture.DeviceID = infos[i].ID.Pointer()
	}

	in := &input{}
	dev, err := malgo.InitDevice(mctx.Context, dc, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) { in.deliver(pInput) },
	})
	if err != nil {
		return nil, &audio.DeviceError{Op: "input", Device: cfg.Device, Err: classify(err)}
	}
	in.dev = dev
	return in, nil
}

func (d *Driver) malgoContext() (*malgo.AllocatedContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mctx != nil {
		return d.mctx, nil
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("native: init context: %w", err)
	}
	d.mctx = mctx
	return mctx, nil
}

// Close releases the capture context. Devices opened from d must be closed
// first.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mctx == nil {
		return nil
	}
	err := d.mctx.Uninit()
	d.mctx.Free()
	d.mctx = nil
	return err
}

type input struct {
	dev interface {
		Start() error
		Uninit()
	}

	mu      sync.Mutex
	onChunk func([]float32)
	closed  bool
	once    sync.Once
}

func (in *input) Start(onChunk func([]float32)) error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return errors.New("native: input closed")
	}
	in.onChunk = onChunk
	in.mu.Unlock()
	return in.dev.Start()
}

// deliver runs on the audio thread.
func (in *input) deliver(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	samples := audio.PCM16ToFloat(pcm)
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed || in.onChunk == nil {
		return
	}
	in.onChunk(samples)
}

func (in *input) Close() error {
	in.once.Do(func() {
		in.mu.Lock()
		in.closed = true
		in.mu.Unlock()
		in.dev.Uninit()
	})
	return nil
}

// ── output ─────────────────────────────────────────────────────────────────────

// OpenOutput implements [audio.Driver].
func (d *Driver) OpenOutput(_ context.Context, cfg audio.DeviceConfig) (audio.OutputDevice, error) {
	rate, channels := rateOf(cfg), max(cfg.Channels, 1)
	octx, err := d.otoContext(rate, channels)
	if err != nil {
		return nil, &audio.DeviceError{Op: "output", Device: cfg.Device, Err: err}
	}
	return &output{
		newPlayer: func(r io.Reader) player { return octx.NewPlayer(r) },
		norm:      &audio.Normalizer{SampleRate: rate, Channels: channels},
		channels:  channels,
	}, nil
}

func (d *Driver) otoContext(rate, channels int) (*oto.Context, error) {
	d.otoOnce.Do(func() {
		octx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   d.PlaybackBuffer,
		})
		if err != nil {
			d.otoErr = classify(fmt.Errorf("native: init playback: %w", err))
			return
		}
		<-ready
		d.otoCtx, d.otoRate, d.otoChannels = octx, rate, channels
	})
	if d.otoErr != nil {
		return nil, d.otoErr
	}
	if d.otoRate != rate || d.otoChannels != channels {
		return nil, fmt.Errorf("%w: playback already opened at %d Hz x%d", audio.ErrDeviceUnavailable, d.otoRate, d.otoChannels)
	}
	return d.otoCtx, nil
}

// player is the subset of *oto.Player the output drives.
type player interface {
	Play()
	Pause()
}

type output struct {
	newPlayer func(io.Reader) player
	norm      *audio.Normalizer
	channels  int

	mu     sync.Mutex
	stream *stream
	player player
	closed bool
}

// Write queues samples and starts a player if none is running.
func (o *output) Write(samples []float32) error {
	pcm := audio.InterleavePCM16(audio.FloatToPCM16(o.norm.Denormalize(samples)), o.channels)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("native: output closed")
	}
	if o.stream == nil {
		o.stream = newStream()
		o.player = o.newPlayer(o.stream)
		o.player.Play()
	}
	o.stream.push(pcm)
	return nil
}

// Clear drops queued audio and retires the player; the next Write starts a
// fresh one.
func (o *output) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retire()
	return nil
}

func (o *output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retire()
	o.closed = true
	return nil
}

// retire stops the current player. mu must be held.
func (o *output) retire() {
	if o.stream == nil {
		return
	}
	o.player.Pause()
	o.stream.end()
	if c, ok := o.player.(io.Closer); ok {
		_ = c.Close()
	}
	o.stream, o.player = nil, nil
}

// stream is the reader a player pulls PCM from. Read blocks until data is
// pushed or the stream ends.
type stream struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  []byte
	done bool
}

func newStream() *stream {
	s := &stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *stream) push(pcm []byte) {
	s.mu.Lock()
	s.buf = append(s.buf, pcm...)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *stream) end() {
	s.mu.Lock()
	s.done = true
	s.buf = nil
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.done {
		s.cond.Wait()
	}
	if s.done {
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// ── helpers ────────────────────────────────────────────────────────────────────

func rateOf(cfg audio.DeviceConfig) int {
	if cfg.SampleRate > 0 {
		return cfg.SampleRate
	}
	return audio.SampleRate
}

func deviceNames(infos []malgo.DeviceInfo) []string {
	names := make([]string, len(infos))
	for i := range infos {
		names[i] = infos[i].Name()
	}
	return names
}

// findDevice returns the index of the first name equal to want, or else the
// first containing it case-insensitively, or -1.
func findDevice(names []string, want string) int {
	for i, n := range names {
		if n == want {
			return i
		}
	}
	lw := strings.ToLower(want)
	for i, n := range names {
		if strings.Contains(strings.ToLower(n), lw) {
			return i
		}
	}
	return -1
}

// classify maps backend failures onto the device error taxonomy. Neither
// backend exposes typed errors, so the message is inspected.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "denied"), strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
}
