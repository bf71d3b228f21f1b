package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/rtbridge/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestEncodePCM16(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.EncodePCM16([]float32{0.5, -0.5, 1.0, -1.0}))
	want := []int16{16383, -16383, 32767, -32767}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEncodePCM16_Clamps(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.EncodePCM16([]float32{2.5, -7, float32(math.NaN())}))
	want := []int16{32767, -32767, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDecodePCM16(t *testing.T) {
	t.Parallel()
	got := audio.DecodePCM16(samplesToBytes([]int16{16384, -32768, 0, 32767}))
	want := []float32{0.5, -1, 0, 32767.0 / 32768.0}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodePCM16_OddTrailingByteIgnored(t *testing.T) {
	t.Parallel()
	data := append(samplesToBytes([]int16{100, 200}), 0x7f)
	if got := audio.DecodePCM16(data); len(got) != 2 {
		t.Errorf("decoded %d samples, want 2", len(got))
	}
}

func TestDecodePCM16Into_ShortDestination(t *testing.T) {
	t.Parallel()
	dst := make([]float32, 1)
	if n := audio.DecodePCM16Into(dst, samplesToBytes([]int16{1, 2, 3})); n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
}

// Truncation with asymmetric 32767/32768 scales bounds the round-trip error
// by (|f|+1)/32768, i.e. strictly under two quantization steps.
func TestPCM16_RoundTripError(t *testing.T) {
	t.Parallel()
	const step = 1.0 / 32768.0
	for i := -1000; i <= 1000; i++ {
		f := float32(i) / 1000
		got := audio.DecodePCM16(audio.EncodePCM16([]float32{f}))[0]
		diff := math.Abs(float64(got) - float64(f))
		bound := (math.Abs(float64(f)) + 1) * step
		if diff > bound+1e-9 {
			t.Fatalf("round trip of %v = %v, error %g exceeds %g", f, got, diff, bound)
		}
	}
}

// Near full scale the round trip is off by more than one quantization step.
func TestPCM16_RoundTripExceedsOneStepNearFullScale(t *testing.T) {
	t.Parallel()
	const step = 1.0 / 32768.0
	f := float32(-0.9977)
	got := audio.DecodePCM16(audio.EncodePCM16([]float32{f}))[0]
	if diff := math.Abs(float64(got) - float64(f)); diff <= 1.5*step {
		t.Errorf("round trip of %v = %v, error %g steps, want above 1.5", f, got, diff/step)
	}
}

func TestPCM16_Examples(t *testing.T) {
	t.Parallel()
	in := []float32{0.5, -0.5, 1.0, -1.0}
	enc := audio.EncodePCM16(in)
	if len(enc) != 8 {
		t.Fatalf("encoded length = %d, want 8", len(enc))
	}
	dec := audio.DecodePCM16(enc)
	for i, f := range in {
		if d := math.Abs(float64(dec[i] - f)); d > 1e-4 {
			t.Errorf("sample %d: got %v, want ~%v", i, dec[i], f)
		}
	}
}
