package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// WireFormat is the realtime protocol's audio format: 24 kHz mono.
var WireFormat = Format{SampleRate: 24000, Channels: 1}

// Duration returns how long n interleaved samples last in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := int64(n / f.Channels)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Converter converts captured [Block]s to a target format. It logs a warning
// on the first format mismatch.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedRagged   sync.Once
}

// Convert converts a block to the target format. If the source format already
// matches the target, the block is returned unchanged (zero allocation).
// Conversion order: channel convert first, then resample, so multichannel
// input is only resampled once.
func (c *Converter) Convert(b Block) Block {
	if b.Format.Channels > 1 && len(b.Samples)%b.Format.Channels != 0 {
		c.warnedRagged.Do(func() {
			slog.Warn("audio converter: sample count not a multiple of channel count, dropping block",
				"samples", len(b.Samples),
				"format", b.Format.String(),
			)
		})
		return Block{Format: c.Target, Timestamp: b.Timestamp}
	}

	if b.Format == c.Target {
		return b
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", b.Format.String(),
			"to", c.Target.String(),
		)
	})

	samples := b.Samples
	channels := b.Format.Channels

	if channels != c.Target.Channels {
		switch {
		case c.Target.Channels == 1:
			samples = Downmix(samples, channels)
		case channels == 1:
			samples = Upmix(samples, c.Target.Channels)
		default:
			samples = Upmix(Downmix(samples, channels), c.Target.Channels)
		}
		channels = c.Target.Channels
	}

	if b.Format.SampleRate != c.Target.SampleRate {
		samples = Resample(samples, channels, b.Format.SampleRate, c.Target.SampleRate)
	}

	return Block{
		Samples:   samples,
		Format:    c.Target,
		Peak:      Peak(samples),
		Timestamp: b.Timestamp,
	}
}

// Downmix averages each interleaved frame of channels samples into one mono
// sample.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Upmix duplicates each mono sample into channels interleaved copies.
func Upmix(mono []float32, channels int) []float32 {
	if channels <= 1 {
		return mono
	}
	out := make([]float32, len(mono)*channels)
	for i, s := range mono {
		for ch := range channels {
			out[i*channels+ch] = s
		}
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate using linear
// interpolation per channel. If the rates match or are invalid the input is
// returned unchanged.
func Resample(samples []float32, channels, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < channels {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for ch := range channels {
			s0 := samples[srcIdx*channels+ch]
			s1 := samples[next*channels+ch]
			out[i*channels+ch] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
