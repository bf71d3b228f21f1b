// Package audio holds the audio side of the realtime bridge: the PCM16 wire
// codec, the [StreamingBuffer] that decouples network delivery from device
// playback, format conversion for capture devices, and the narrow device
// interfaces implemented by the backend packages (audio/miniaudio,
// audio/portaudio, audio/mock).
//
// Samples are 32-bit floats in [-1, 1] everywhere inside the process. They
// only become little-endian int16 PCM at the wire boundary.
//
// Device callbacks run on a real-time thread owned by the audio backend. Code
// reachable from [Source.Produce] must not block, lock or allocate.
package audio

// Source is pulled by an output device once per period.
type Source interface {
	// Produce fills dst completely and returns how many of the samples were
	// real audio; the remainder is silence.
	Produce(dst []float32) int
}

// Output is a playback device pulling from a [Source].
type Output interface {
	// Start begins pulling. Calling Start on a running output is a no-op.
	Start() error

	// Stop halts pulling. Calling Stop on a stopped output is a no-op.
	Stop() error
}

// Input is a capture device delivering blocks of samples.
type Input interface {
	// StartCapture begins delivering captured blocks to fn on the device
	// thread. fn must return quickly.
	StartCapture(fn func(Block)) error

	// StopCapture stops delivery. Safe to call when not capturing.
	StopCapture() error
}

// Device is a full-duplex audio backend.
type Device interface {
	Output
	Input

	// Close releases the device. Close implies Stop and StopCapture.
	Close() error
}
