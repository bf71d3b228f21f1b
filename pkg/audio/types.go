package audio

import "time"

// Block is one buffer of captured audio as delivered by an [Input].
type Block struct {
	// Samples holds interleaved float samples in [-1, 1]. The slice may be
	// reused by the device after the callback returns; copy it to retain it.
	Samples []float32

	// Format of Samples.
	Format Format

	// Peak is the largest absolute sample value, for level meters.
	Peak float32

	// Timestamp marks when this block was captured, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the block.
func (b Block) Duration() time.Duration {
	return b.Format.Duration(len(b.Samples))
}
