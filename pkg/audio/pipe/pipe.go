// Package pipe implements [audio.Driver] over raw PCM16 little-endian byte
// streams: either external recorder/player processes (arecord and aplay by
// default) or caller-supplied readers and writers.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// Default commands. {rate} and {channels} are substituted from the device
// config.
var (
	DefaultCaptureCommand  = []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}
	DefaultPlaybackCommand = []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}
)

// Driver acquires pipe-backed devices.
type Driver struct {
	// CaptureCommand is run for every input acquisition unless Input is set.
	CaptureCommand []string

	// PlaybackCommand is run for every output acquisition unless Output is set.
	PlaybackCommand []string

	// Input, if set, is read instead of running CaptureCommand.
	Input io.Reader

	// Output, if set, is written instead of running PlaybackCommand.
	Output io.Writer

	// ReadSamples is the number of samples per device read. Default 512.
	ReadSamples int
}

// New returns a Driver using the default recorder and player commands.
func New() *Driver {
	return &Driver{
		CaptureCommand:  DefaultCaptureCommand,
		PlaybackCommand: DefaultPlaybackCommand,
	}
}

var _ audio.Driver = (*Driver)(nil)

// OpenInput implements [audio.Driver].
func (d *Driver) OpenInput(_ context.Context, cfg audio.DeviceConfig) (audio.InputDevice, error) {
	channels := max(cfg.Channels, 1)
	samples := d.ReadSamples
	if samples <= 0 {
		samples = 512
	}
	in := &input{
		readBytes: samples * 2 * channels,
		channels:  channels,
		done:      make(chan struct{}),
	}
	if d.Input != nil {
		in.r = d.Input
		return in, nil
	}

	cmd := exec.Command(d.CaptureCommand[0], expand(d.CaptureCommand[1:], cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &audio.DeviceError{Op: "input", Device: cfg.Device, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &audio.DeviceError{Op: "input", Device: cfg.Device, Err: classify(err)}
	}
	in.r = stdout
	in.cmd = cmd
	return in, nil
}

// OpenOutput implements [audio.Driver].
func (d *Driver) OpenOutput(_ context.Context, cfg audio.DeviceConfig) (audio.OutputDevice, error) {
	out := &output{
		norm: &audio.Normalizer{SampleRate: cfg.SampleRate, Channels: 1},
		cfg:  cfg,
	}
	if d.Output != nil {
		out.w = d.Output
		return out, nil
	}
	out.command = d.PlaybackCommand
	if err := out.spawn(); err != nil {
		return nil, &audio.DeviceError{Op: "output", Device: cfg.Device, Err: classify(err)}
	}
	return out, nil
}

// classify maps process start failures onto the device error taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	default:
		return err
	}
}

func expand(args []string, cfg audio.DeviceConfig) []string {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = audio.SampleRate
	}
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(rate),
		"{channels}", strconv.Itoa(max(cfg.Channels, 1)),
		"{device}", cfg.Device,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// ── input ──────────────────────────────────────────────────────────────────────

type input struct {
	r         io.Reader
	cmd       *exec.Cmd
	readBytes int
	channels  int

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

func (in *input) Start(onChunk func([]float32)) error {
	go in.readLoop(onChunk)
	return nil
}

func (in *input) readLoop(onChunk func([]float32)) {
	defer close(in.done)
	buf := make([]byte, in.readBytes)
	for {
		n, err := io.ReadFull(in.r, buf)
		if n >= 2 {
			samples := audio.PCM16ToFloat(buf[:n-n%2])
			in.mu.Lock()
			if in.closed {
				in.mu.Unlock()
				return
			}
			onChunk(samples)
			in.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !in.isClosed() {
				slog.Warn("pipe: capture read failed", "err", err)
			}
			return
		}
	}
}

func (in *input) isClosed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

func (in *input) Close() error {
	in.once.Do(func() {
		in.mu.Lock()
		in.closed = true
		in.mu.Unlock()
		if in.cmd != nil && in.cmd.Process != nil {
			_ = in.cmd.Process.Kill()
			_ = in.cmd.Wait()
		} else if c, ok := in.r.(io.Closer); ok {
			_ = c.Close()
		}
	})
	return nil
}

// ── output ─────────────────────────────────────────────────────────────────────

type output struct {
	cfg     audio.DeviceConfig
	norm    *audio.Normalizer
	command []string

	mu    sync.Mutex
	w     io.Writer
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// spawn starts the player process. mu must be held or o unshared.
func (o *output) spawn() error {
	cmd := exec.Command(o.command[0], expand(o.command[1:], o.cfg)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	o.cmd, o.stdin, o.w = cmd, stdin, stdin
	return nil
}

func (o *output) reap() {
	if o.cmd == nil {
		return
	}
	_ = o.stdin.Close()
	if o.cmd.Process != nil {
		_ = o.cmd.Process.Kill()
	}
	_ = o.cmd.Wait()
	o.cmd, o.stdin, o.w = nil, nil, nil
}

func (o *output) Write(samples []float32) error {
	pcm := audio.FloatToPCM16(o.norm.Denormalize(samples))
	if ch := max(o.cfg.Channels, 1); ch > 1 {
		pcm = audio.InterleavePCM16(pcm, ch)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.w == nil {
		return fmt.Errorf("pipe: output closed")
	}
	_, err := o.w.Write(pcm)
	return err
}

// Clear restarts the player so that audio buffered inside it is dropped.
func (o *output) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.command == nil || o.cmd == nil {
		return nil
	}
	o.reap()
	return o.spawn()
}

func (o *output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.command == nil {
		o.w = nil
		return nil
	}
	o.reap()
	return nil
}
