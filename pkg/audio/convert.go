package audio

import (
	"log/slog"
	"sync"
)

// Resample converts mono float samples from srcRate to dstRate using linear
// interpolation. It returns samples unchanged when the rates match.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 || srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	outLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if outLen == 0 {
		return nil
	}
	out := make([]float32, outLen)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}

// DownmixInterleaved averages interleaved multi-channel samples to mono.
func DownmixInterleaved(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Normalizer adapts a device's native format to the 16 kHz mono pipeline
// format. It logs once on the first mismatch. Create one per stream.
type Normalizer struct {
	SampleRate int
	Channels   int

	warnOnce sync.Once
}

// Normalize downmixes and resamples samples captured in n's native format.
func (n *Normalizer) Normalize(samples []float32) []float32 {
	if (n.SampleRate == 0 || n.SampleRate == SampleRate) && n.Channels <= 1 {
		return samples
	}
	n.warnOnce.Do(func() {
		slog.Warn("audio: device format differs from pipeline format, converting",
			"device_rate", n.SampleRate,
			"device_channels", n.Channels,
			"pipeline_rate", SampleRate,
		)
	})
	mono := DownmixInterleaved(samples, n.Channels)
	rate := n.SampleRate
	if rate == 0 {
		rate = SampleRate
	}
	return Resample(mono, rate, SampleRate)
}

// Denormalize converts pipeline samples to n's native rate. Channel expansion
// is left to the backend.
func (n *Normalizer) Denormalize(samples []float32) []float32 {
	if n.SampleRate == 0 || n.SampleRate == SampleRate {
		return samples
	}
	return Resample(samples, SampleRate, n.SampleRate)
}
