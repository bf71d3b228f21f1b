// Package mock provides an in-memory implementation of [audio.Device] for
// unit tests.
//
// The device never touches hardware. Tests drive it explicitly: [Device.Pull]
// runs one playback period against the attached [audio.Source], and
// [Device.Capture] delivers a block to the registered capture callback.
//
// Typical usage:
//
//	dev := mock.NewDevice(buf, 480)
//	buf.AttachOutput(dev)
//	buf.PushFloat(samples)   // starts the device
//	out := dev.Pull()        // one period of audio
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/rtbridge/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// ErrClosed is returned by Start and StartCapture after Close.
var ErrClosed = errors.New("mock: device closed")

// Device is a mock implementation of [audio.Device].
// Set the exported error fields before use; inspect the call counters after.
type Device struct {
	mu sync.Mutex

	src    audio.Source
	period int

	running   bool
	capturing bool
	closed    bool
	onBlock   func(audio.Block)

	// StartError is returned by Start.
	StartError error

	// StartCaptureError is returned by StartCapture.
	StartCaptureError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountStartCapture records how many times StartCapture was called.
	CallCountStartCapture int

	// CallCountStopCapture records how many times StopCapture was called.
	CallCountStopCapture int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewDevice returns a device pulling period samples from src per [Device.Pull].
func NewDevice(src audio.Source, period int) *Device {
	return &Device{src: src, period: period}
}

// Start implements [audio.Output].
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.closed {
		return ErrClosed
	}
	if d.StartError != nil {
		return d.StartError
	}
	d.running = true
	return nil
}

// Stop implements [audio.Output].
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	d.running = false
	return nil
}

// Running reports whether Start succeeded and Stop has not been called since.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Pull simulates one device period. It returns nil when the device is not
// running, like real hardware that is not pulling.
func (d *Device) Pull() []float32 {
	d.mu.Lock()
	running, src, period := d.running, d.src, d.period
	d.mu.Unlock()
	if !running || src == nil {
		return nil
	}
	out := make([]float32, period)
	src.Produce(out)
	return out
}

// StartCapture implements [audio.Input].
func (d *Device) StartCapture(fn func(audio.Block)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStartCapture++
	if d.closed {
		return ErrClosed
	}
	if d.StartCaptureError != nil {
		return d.StartCaptureError
	}
	d.onBlock = fn
	d.capturing = true
	return nil
}

// StopCapture implements [audio.Input].
func (d *Device) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStopCapture++
	d.capturing = false
	d.onBlock = nil
	return nil
}

// Capturing reports whether capture is active.
func (d *Device) Capturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capturing
}

// Capture delivers b to the capture callback. It reports whether a callback
// was registered.
func (d *Device) Capture(b audio.Block) bool {
	d.mu.Lock()
	fn := d.onBlock
	d.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(b)
	return true
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.closed = true
	d.running = false
	d.capturing = false
	d.onBlock = nil
	return nil
}
