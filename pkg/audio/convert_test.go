package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/rtbridge/pkg/audio"
)

func approxEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func TestDownmix(t *testing.T) {
	t.Parallel()
	// Two stereo frames: L=0.2,R=0.4 and L=-0.2,R=-0.4
	got := audio.Downmix([]float32{0.2, 0.4, -0.2, -0.4}, 2)
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approxEqual(got[i], want[i]) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestUpmix(t *testing.T) {
	t.Parallel()
	got := audio.Upmix([]float32{0.1, 0.2}, 2)
	want := []float32{0.1, 0.1, 0.2, 0.2}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestResample_SameRate(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 1, 48000, 48000)
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()
	// 48 kHz -> 24 kHz halves the sample count.
	in := make([]float32, 480)
	for i := range in {
		in[i] = float32(i) / 480
	}
	out := audio.Resample(in, 1, 48000, 24000)
	if len(out) != 240 {
		t.Fatalf("length = %d, want 240", len(out))
	}
	if !approxEqual(out[10], in[20]) {
		t.Errorf("out[10] = %v, want %v", out[10], in[20])
	}
}

func TestResample_UpsampleInterpolates(t *testing.T) {
	t.Parallel()
	out := audio.Resample([]float32{0, 1}, 1, 1, 2)
	want := []float32{0, 0.5, 1, 1}
	if len(out) != len(want) {
		t.Fatalf("length = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if !approxEqual(out[i], want[i]) {
			t.Errorf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_ZeroRate(t *testing.T) {
	t.Parallel()
	in := []float32{0.1, 0.2}
	if out := audio.Resample(in, 1, 0, 24000); len(out) != len(in) {
		t.Errorf("zero srcRate should return input unchanged")
	}
}

func TestConverter_NoOp(t *testing.T) {
	t.Parallel()
	conv := audio.Converter{Target: audio.WireFormat}
	in := audio.Block{Samples: []float32{0.1, 0.2}, Format: audio.WireFormat}
	out := conv.Convert(in)
	if &out.Samples[0] != &in.Samples[0] {
		t.Error("matching format should return the block unchanged")
	}
}

func TestConverter_StereoToWire(t *testing.T) {
	t.Parallel()
	conv := audio.Converter{Target: audio.WireFormat}
	// 10 ms of 48 kHz stereo.
	in := audio.Block{
		Samples: make([]float32, 960),
		Format:  audio.Format{SampleRate: 48000, Channels: 2},
	}
	for i := range in.Samples {
		in.Samples[i] = 0.5
	}
	out := conv.Convert(in)
	if out.Format != audio.WireFormat {
		t.Fatalf("format = %v, want %v", out.Format, audio.WireFormat)
	}
	if len(out.Samples) != 240 {
		t.Errorf("samples = %d, want 240", len(out.Samples))
	}
	if !approxEqual(out.Peak, 0.5) {
		t.Errorf("peak = %v, want 0.5", out.Peak)
	}
}

func TestConverter_RaggedBlockDropped(t *testing.T) {
	t.Parallel()
	conv := audio.Converter{Target: audio.WireFormat}
	out := conv.Convert(audio.Block{
		Samples: []float32{0.1, 0.2, 0.3},
		Format:  audio.Format{SampleRate: 48000, Channels: 2},
	})
	if len(out.Samples) != 0 {
		t.Errorf("ragged block produced %d samples, want 0", len(out.Samples))
	}
}

func TestPeak(t *testing.T) {
	t.Parallel()
	if got := audio.Peak([]float32{0.1, -0.8, 0.5}); !approxEqual(got, 0.8) {
		t.Errorf("Peak = %v, want 0.8", got)
	}
}

func TestFormat_Duration(t *testing.T) {
	t.Parallel()
	if got := audio.WireFormat.Duration(24000); got != time.Second {
		t.Errorf("Duration(24000) = %v, want 1s", got)
	}
	stereo := audio.Format{SampleRate: 48000, Channels: 2}
	if got := stereo.Duration(960); got != 10*time.Millisecond {
		t.Errorf("Duration(960) = %v, want 10ms", got)
	}
	if got := (audio.Format{}).Duration(100); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}
