package audio_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voicelink/pkg/audio"
	"github.com/MrWong99/voicelink/pkg/audio/mock"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 3s")
}

func TestPlayback_LazyDeviceAcquisition(t *testing.T) {
	t.Parallel()

	drv := &mock.Driver{}
	ended := make(chan struct{}, 4)
	p := audio.NewPlayback(drv, audio.OnPlaybackEnd(func() { ended <- struct{}{} }))
	if len(drv.Outputs) != 0 {
		t.Fatal("device acquired before first Play")
	}
	for range 2 {
		frame := audio.FrameFromPayload(audio.EncodeFrame(mock.Sine(440, 0.3, 320)))
		if err := p.Play(context.Background(), frame); err != nil {
			t.Fatalf("Play: %v", err)
		}
		select {
		case <-ended:
		case <-time.After(3 * time.Second):
			t.Fatal("OnPlaybackEnd not fired")
		}
	}
	if len(drv.Outputs) != 1 {
		t.Errorf("opened %d outputs, want 1 (device must persist across utterances)", len(drv.Outputs))
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !drv.LastOutput().Closed() {
		t.Error("Close did not release the device")
	}
}

func TestPlayback_NewFramePreemptsPlayingUnit(t *testing.T) {
	t.Parallel()

	drv := &mock.Driver{}
	var ends, preempts atomic.Int32
	p := audio.NewPlayback(drv,
		audio.OnPlaybackEnd(func() { ends.Add(1) }),
		audio.OnPreempt(func() { preempts.Add(1) }),
	)
	defer p.Close()

	p1 := mock.Ramp(0.9, 0, audio.SampleRate) // one second of 0.9
	p2 := mock.Ramp(-0.4, 0, 1600)            // 100ms of -0.4

	if err := p.Play(context.Background(), audio.FrameFromPayload(audio.EncodeFrame(p1))); err != nil {
		t.Fatalf("Play P1: %v", err)
	}
	waitFor(t, func() bool { return drv.LastOutput() != nil && drv.LastOutput().Writes() > 0 })

	if err := p.Play(context.Background(), audio.FrameFromPayload(audio.EncodeFrame(p2))); err != nil {
		t.Fatalf("Play P2: %v", err)
	}
	waitFor(t, func() bool { return ends.Load() == 1 })

	out := drv.LastOutput()
	if out.Clears() < 1 {
		t.Error("device buffer was not cleared on preemption")
	}
	if preempts.Load() != 1 {
		t.Errorf("preempts = %d, want 1", preempts.Load())
	}

	samples := out.Samples()
	var p1Count, p2Count int
	seenP2 := false
	for _, s := range samples {
		switch {
		case s > 0.8:
			if seenP2 {
				t.Fatal("P1 audio written after P2 started")
			}
			p1Count++
		case s < -0.3:
			seenP2 = true
			p2Count++
		}
	}
	if p1Count == 0 || p1Count >= len(p1) {
		t.Errorf("P1 wrote %d of %d samples; expected a partial write", p1Count, len(p1))
	}
	if p2Count != len(p2) {
		t.Errorf("P2 wrote %d samples, want %d", p2Count, len(p2))
	}
	time.Sleep(50 * time.Millisecond)
	if ends.Load() != 1 {
		t.Errorf("OnPlaybackEnd fired %d times, want 1 (only for P2)", ends.Load())
	}
}

func TestPlayback_FramesPlayInReceiveOrder(t *testing.T) {
	t.Parallel()

	drv := &mock.Driver{}
	ended := make(chan struct{}, 8)
	p := audio.NewPlayback(drv, audio.OnPlaybackEnd(func() { ended <- struct{}{} }))
	defer p.Close()

	const n = 5
	for i := range n {
		level := float32(i+1) / 10
		if err := p.Play(context.Background(), audio.FrameFromPayload(audio.EncodeFrame(mock.Ramp(level, 0, 160)))); err != nil {
			t.Fatalf("Play %d: %v", i, err)
		}
		select {
		case <-ended:
		case <-time.After(3 * time.Second):
			t.Fatalf("frame %d did not finish", i)
		}
	}

	samples := drv.LastOutput().Samples()
	if len(samples) != n*160 {
		t.Fatalf("wrote %d samples, want %d", len(samples), n*160)
	}
	for i := range n {
		want := float32(i+1) / 10
		got := samples[i*160]
		if d := got - want; d > 1e-3 || d < -1e-3 {
			t.Errorf("frame %d: first sample %v, want ≈%v", i, got, want)
		}
	}
}

func TestPlayback_StopWhenIdleIsNoop(t *testing.T) {
	t.Parallel()

	drv := &mock.Driver{}
	p := audio.NewPlayback(drv)
	p.Stop()
	p.Stop()
	if p.Playing() {
		t.Error("idle playback reports playing")
	}
	if len(drv.Outputs) != 0 {
		t.Error("Stop must not acquire a device")
	}
}

func TestPlayback_StopHaltsImmediately(t *testing.T) {
	t.Parallel()

	drv := &mock.Driver{}
	var ends atomic.Int32
	p := audio.NewPlayback(drv, audio.OnPlaybackEnd(func() { ends.Add(1) }))
	defer p.Close()

	if err := p.Play(context.Background(), audio.FrameFromPayload(audio.EncodeFrame(make([]float32, audio.SampleRate)))); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !p.Playing() {
		t.Fatal("expected playing after Play")
	}
	p.Stop()
	if p.Playing() {
		t.Error("still playing after Stop returned")
	}
	writes := drv.LastOutput().Writes()
	time.Sleep(60 * time.Millisecond)
	if got := drv.LastOutput().Writes(); got != writes {
		t.Errorf("writes continued after Stop: %d → %d", writes, got)
	}
	if ends.Load() != 0 {
		t.Error("OnPlaybackEnd fired for a stopped unit")
	}
}

func TestPlayback_RejectsOddPayload(t *testing.T) {
	t.Parallel()

	drv := &mock.Driver{}
	p := audio.NewPlayback(drv)
	err := p.Play(context.Background(), audio.Frame{Payload: "AAAA"}) // 3 bytes
	if !errors.Is(err, audio.ErrOddLength) {
		t.Fatalf("err = %v, want ErrOddLength", err)
	}
}

func TestPlayback_DeviceUnavailable(t *testing.T) {
	t.Parallel()

	drv := &mock.Driver{OutputErr: audio.ErrDeviceUnavailable}
	p := audio.NewPlayback(drv)
	err := p.Play(context.Background(), audio.NewFrame(0, []float32{0.1, 0.2}))
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
}

func TestPlayback_WriteFailureReleasesUnit(t *testing.T) {
	t.Parallel()

	drv := &mock.Driver{WriteErr: errors.New("device unplugged")}
	var ends atomic.Int32
	p := audio.NewPlayback(drv, audio.OnPlaybackEnd(func() { ends.Add(1) }))
	defer p.Close()

	if err := p.Play(context.Background(), audio.NewFrame(0, mock.Sine(440, 0.3, 3200))); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, func() bool { return !p.Playing() })
	if ends.Load() != 0 {
		t.Errorf("OnPlaybackEnd fired %d times for a failed unit, want 0", ends.Load())
	}

	// The next frame must not count as a preemption of the dead unit.
	var preempts atomic.Int32
	q := audio.NewPlayback(drv, audio.OnPreempt(func() { preempts.Add(1) }))
	defer q.Close()
	_ = q.Play(context.Background(), audio.NewFrame(1, []float32{0.1}))
	waitFor(t, func() bool { return !q.Playing() })
	_ = q.Play(context.Background(), audio.NewFrame(2, []float32{0.1}))
	if preempts.Load() != 0 {
		t.Errorf("preempts = %d, want 0 after a failed unit", preempts.Load())
	}
}
