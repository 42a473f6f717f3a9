package audio

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable indicates that no usable device exists.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrPermissionDenied indicates that access to the device was refused.
	ErrPermissionDenied = errors.New("audio device permission denied")
)

// DeviceError describes a failed device acquisition. Err is one of
// [ErrDeviceUnavailable], [ErrPermissionDenied] or a backend-specific cause.
type DeviceError struct {
	// Op is "input" or "output".
	Op string

	// Device is the backend-specific device name, empty for the default device.
	Device string

	Err error
}

func (e *DeviceError) Error() string {
	name := e.Device
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("audio: open %s device %q: %v", e.Op, name, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// DeviceConfig describes the requested device format and processing.
type DeviceConfig struct {
	// Device selects a backend-specific device; empty means the default.
	Device string

	// SampleRate is the device's native rate. Zero means [SampleRate].
	SampleRate int

	// Channels is the device's native channel count. Zero means [Channels].
	Channels int

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultInputConfig returns the capture request used by [Capture]: 16 kHz
// mono with echo cancellation, noise suppression and automatic gain enabled.
func DefaultInputConfig() DeviceConfig {
	return DeviceConfig{
		SampleRate:       SampleRate,
		Channels:         Channels,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// DefaultOutputConfig returns the playback request used by [Playback].
func DefaultOutputConfig() DeviceConfig {
	return DeviceConfig{SampleRate: SampleRate, Channels: Channels}
}

// InputDevice is an acquired capture handle.
type InputDevice interface {
	// Start begins delivering samples in the device's native format. onChunk
	// is called from the device's real-time context and must not block.
	// onChunk is never called after Close returns.
	Start(onChunk func(samples []float32)) error

	// Close releases the device. It is idempotent.
	Close() error
}

// OutputDevice is an acquired playback handle.
type OutputDevice interface {
	// Write enqueues samples (pipeline format) for output.
	Write(samples []float32) error

	// Clear discards audio that was written but not yet played.
	Clear() error

	// Close releases the device. It is idempotent.
	Close() error
}

// Driver acquires capability-gated device handles. Implementations return a
// *[DeviceError] wrapping [ErrDeviceUnavailable] or [ErrPermissionDenied]
// when acquisition fails.
type Driver interface {
	OpenInput(ctx context.Context, cfg DeviceConfig) (InputDevice, error)
	OpenOutput(ctx context.Context, cfg DeviceConfig) (OutputDevice, error)
}
