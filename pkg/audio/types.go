// Package audio implements the client-side audio pipeline: the PCM16 transport
// codec, capture from an input device and preemptive playback on an output
// device.
//
// All audio crossing a package boundary is 16 kHz mono. Device backends that
// run at a different native rate resample at their edge with [Resample].
package audio

import "time"

const (
	// SampleRate is the fixed pipeline sample rate in Hz, for both directions.
	SampleRate = 16000

	// Channels is the fixed pipeline channel count.
	Channels = 1

	// ChunkSamples is the number of samples per captured chunk (≈64 ms at 16 kHz).
	ChunkSamples = 1024
)

// Frame is one immutable chunk of audio. Exactly one of Samples or Payload is
// populated: captured frames carry both after encoding, frames received from
// the wire carry only Payload until they are decoded.
//
// Frames are never mutated after creation; consumers must copy before editing.
type Frame struct {
	// Samples holds normalized float samples in [-1, 1].
	Samples []float32

	// Payload is the base64 PCM16 transport text.
	Payload string

	// SampleCount is the number of samples the frame represents.
	SampleCount int

	// SampleRate in Hz. Always [SampleRate] inside the pipeline.
	SampleRate int

	// Channels is always [Channels] inside the pipeline.
	Channels int

	// Seq is the capture sequence number; zero for inbound frames.
	Seq uint64
}

// NewFrame encodes samples into a transport-ready frame.
func NewFrame(seq uint64, samples []float32) Frame {
	return Frame{
		Samples:     samples,
		Payload:     EncodeFrame(samples),
		SampleCount: len(samples),
		SampleRate:  SampleRate,
		Channels:    Channels,
		Seq:         seq,
	}
}

// FrameFromPayload wraps a base64 PCM16 payload received from the wire.
// SampleCount is derived from the payload length without decoding it.
func FrameFromPayload(payload string) Frame {
	return Frame{
		Payload:     payload,
		SampleCount: payloadSamples(payload),
		SampleRate:  SampleRate,
		Channels:    Channels,
	}
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	rate := f.SampleRate
	if rate <= 0 {
		rate = SampleRate
	}
	return time.Duration(f.SampleCount) * time.Second / time.Duration(rate)
}
