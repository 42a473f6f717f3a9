package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrOddLength is returned by [ValidatePayload] when the decoded PCM16 data is
// not a whole number of samples.
var ErrOddLength = errors.New("audio: pcm16 payload has odd byte length")

// EncodeFrame converts normalized float samples to base64 PCM16 text.
// Each sample is clamped to [-1, 1], scaled by 32767 and rounded.
func EncodeFrame(samples []float32) string {
	return base64.StdEncoding.EncodeToString(FloatToPCM16(samples))
}

// DecodeFrame converts base64 PCM16 text to normalized float samples.
// It never fails: invalid base64 yields nil and a trailing odd byte is
// ignored. Callers that need to reject such input use [ValidatePayload] first.
func DecodeFrame(payload string) []float32 {
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil
	}
	return PCM16ToFloat(pcm)
}

// ValidatePayload reports whether payload is valid base64 holding an even
// number of bytes.
func ValidatePayload(payload string) error {
	n, err := decodedLen(payload)
	if err != nil {
		return fmt.Errorf("audio: invalid base64 payload: %w", err)
	}
	if n%2 != 0 {
		return ErrOddLength
	}
	return nil
}

// FloatToPCM16 packs normalized float samples as little-endian int16.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// PCM16ToFloat unpacks little-endian int16 samples into [-1, 1].
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// InterleavePCM16 duplicates mono PCM16 samples across channels.
func InterleavePCM16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	out := make([]byte, 0, len(pcm)*channels)
	for i := 0; i+1 < len(pcm); i += 2 {
		for range channels {
			out = append(out, pcm[i], pcm[i+1])
		}
	}
	return out
}

func floatToInt16(s float32) int16 {
	x := float64(s)
	switch {
	case math.IsNaN(x):
		return 0
	case x > 1:
		x = 1
	case x < -1:
		x = -1
	}
	return int16(math.Round(x * 32767))
}

// decodedLen validates payload and returns its decoded byte length.
func decodedLen(payload string) (int, error) {
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return 0, err
	}
	return len(pcm), nil
}

// payloadSamples estimates the sample count of a base64 payload from its
// length alone.
func payloadSamples(payload string) int {
	n := base64.StdEncoding.DecodedLen(len(payload))
	for i := len(payload) - 1; i >= 0 && payload[i] == '='; i-- {
		n--
	}
	if n < 0 {
		return 0
	}
	return n / 2
}
