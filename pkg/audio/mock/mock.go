// Package mock provides in-memory implementations of [audio.Driver],
// [audio.InputDevice] and [audio.OutputDevice] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on what the pipeline did, and expose exported fields that control
// return values.
//
// Typical usage:
//
//	drv := &mock.Driver{}
//	capture := audio.NewCapture(drv)
//	_ = capture.Start(ctx, onFrame)
//	drv.LastInput().Push(mock.Sine(440, 0.5, 1024))
package mock

import (
	"context"
	"math"
	"sync"

	"github.com/MrWong99/voicelink/pkg/audio"
)

// ─── Driver ───────────────────────────────────────────────────────────────────

// Driver is a mock implementation of [audio.Driver].
type Driver struct {
	mu sync.Mutex

	// InputErr, if non-nil, is returned by OpenInput.
	InputErr error

	// OutputErr, if non-nil, is returned by OpenOutput.
	OutputErr error

	// StartErr, if non-nil, is returned by Input.Start.
	StartErr error

	// WriteErr, if non-nil, is returned by Output.Write.
	WriteErr error

	// Inputs records every input device handed out, in order.
	Inputs []*Input

	// Outputs records every output device handed out, in order.
	Outputs []*Output

	// InputConfigs records the configs passed to OpenInput.
	InputConfigs []audio.DeviceConfig
}

// OpenInput implements [audio.Driver].
func (d *Driver) OpenInput(_ context.Context, cfg audio.DeviceConfig) (audio.InputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InputConfigs = append(d.InputConfigs, cfg)
	if d.InputErr != nil {
		return nil, d.InputErr
	}
	in := &Input{startErr: d.StartErr}
	d.Inputs = append(d.Inputs, in)
	return in, nil
}

// OpenOutput implements [audio.Driver].
func (d *Driver) OpenOutput(_ context.Context, _ audio.DeviceConfig) (audio.OutputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OutputErr != nil {
		return nil, d.OutputErr
	}
	out := &Output{writeErr: d.WriteErr}
	d.Outputs = append(d.Outputs, out)
	return out, nil
}

// LastInput returns the most recently opened input device, or nil.
func (d *Driver) LastInput() *Input {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Inputs) == 0 {
		return nil
	}
	return d.Inputs[len(d.Inputs)-1]
}

// LastOutput returns the most recently opened output device, or nil.
func (d *Driver) LastOutput() *Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Outputs) == 0 {
		return nil
	}
	return d.Outputs[len(d.Outputs)-1]
}

// SetInputErr replaces InputErr under the driver lock.
func (d *Driver) SetInputErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InputErr = err
}

var _ audio.Driver = (*Driver)(nil)

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock [audio.InputDevice]. Tests drive it with Push, which invokes
// the registered callback synchronously like a device interrupt would.
type Input struct {
	mu       sync.Mutex
	startErr error
	onChunk  func([]float32)
	started  bool
	closed   bool

	// cbMu is held while the callback runs so Close can wait it out.
	cbMu sync.Mutex
}

// Start implements [audio.InputDevice].
func (in *Input) Start(onChunk func([]float32)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.startErr != nil {
		return in.startErr
	}
	in.onChunk = onChunk
	in.started = true
	return nil
}

// Close implements [audio.InputDevice].
func (in *Input) Close() error {
	in.cbMu.Lock()
	defer in.cbMu.Unlock()
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	return nil
}

// Push delivers samples to the callback. It reports false if the device is
// not started or already closed.
func (in *Input) Push(samples []float32) bool {
	in.cbMu.Lock()
	defer in.cbMu.Unlock()
	in.mu.Lock()
	cb := in.onChunk
	ok := in.started && !in.closed && cb != nil
	in.mu.Unlock()
	if !ok {
		return false
	}
	cb(samples)
	return true
}

// Closed reports whether Close was called.
func (in *Input) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

var _ audio.InputDevice = (*Input)(nil)

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a mock [audio.OutputDevice] that records written samples.
type Output struct {
	mu       sync.Mutex
	writeErr error
	writes   [][]float32
	clears   int
	closed   bool
}

// Write implements [audio.OutputDevice].
func (o *Output) Write(samples []float32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writeErr != nil {
		return o.writeErr
	}
	cp := make([]float32, len(samples))
	copy(cp, samples)
	o.writes = append(o.writes, cp)
	return nil
}

// Clear implements [audio.OutputDevice].
func (o *Output) Clear() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clears++
	return nil
}

// Close implements [audio.OutputDevice].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// Samples returns every written sample in write order.
func (o *Output) Samples() []float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []float32
	for _, w := range o.writes {
		out = append(out, w...)
	}
	return out
}

// Writes returns the number of Write calls.
func (o *Output) Writes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.writes)
}

// Clears returns the number of Clear calls.
func (o *Output) Clears() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clears
}

// Closed reports whether Close was called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

var _ audio.OutputDevice = (*Output)(nil)

// ─── Signals ──────────────────────────────────────────────────────────────────

// Sine returns n samples of a sine wave at freq Hz sampled at 16 kHz.
func Sine(freq, amplitude float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/audio.SampleRate))
	}
	return out
}

// Ramp returns n samples stepping linearly from start by step, useful for
// asserting sample order.
func Ramp(start, step float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + step*float32(i)
	}
	return out
}
