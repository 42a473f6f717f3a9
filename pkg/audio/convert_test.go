package audio_test

import (
	"testing"

	"github.com/MrWong99/voicelink/pkg/audio"
)

func TestResample_SameRateIsIdentity(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	got := audio.Resample(in, 16000, 16000)
	if &got[0] != &in[0] {
		t.Error("expected the input slice to be returned unchanged")
	}
}

func TestResample_Lengths(t *testing.T) {
	tests := []struct {
		src, dst, n, want int
	}{
		{48000, 16000, 960, 320},
		{8000, 16000, 160, 320},
		{44100, 16000, 441, 160},
	}
	for _, tt := range tests {
		got := audio.Resample(make([]float32, tt.n), tt.src, tt.dst)
		if len(got) != tt.want {
			t.Errorf("%d→%d: got %d samples, want %d", tt.src, tt.dst, len(got), tt.want)
		}
	}
}

func TestResample_Interpolates(t *testing.T) {
	got := audio.Resample([]float32{0, 1}, 8000, 16000)
	want := []float32{0, 0.5, 1, 1}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownmixInterleaved(t *testing.T) {
	got := audio.DownmixInterleaved([]float32{0.2, 0.4, -1, 1}, 2)
	want := []float32{0.3, 0}
	for i := range want {
		if d := got[i] - want[i]; d > 1e-6 || d < -1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNormalizer_PassThroughForPipelineFormat(t *testing.T) {
	n := &audio.Normalizer{SampleRate: audio.SampleRate, Channels: 1}
	in := []float32{1, 2, 3}
	if got := n.Normalize(in); len(got) != 3 {
		t.Errorf("got %d samples, want 3", len(got))
	}
}

func TestNormalizer_StereoFortyEightK(t *testing.T) {
	n := &audio.Normalizer{SampleRate: 48000, Channels: 2}
	got := n.Normalize(make([]float32, 960*2))
	if len(got) != 320 {
		t.Errorf("got %d samples, want 320", len(got))
	}
	if back := n.Denormalize(got); len(back) != 960 {
		t.Errorf("denormalized to %d samples, want 960", len(back))
	}
}
