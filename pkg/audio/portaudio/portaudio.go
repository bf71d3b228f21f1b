// Package portaudio implements [audio.Device] on PortAudio via
// github.com/gordonklaus/portaudio.
//
// Streams use the callback API with float32 buffers: playback calls
// Source.Produce directly on the PortAudio thread, capture hands each input
// buffer to the registered callback.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/rtbridge/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("portaudio: device closed")

// Device is a full-duplex PortAudio device on the default host devices.
type Device struct {
	format audio.Format
	frames int
	src    audio.Source
	log    *slog.Logger

	mu       sync.Mutex
	playback *portaudio.Stream
	capture  *portaudio.Stream
	playing  bool
	closed   bool

	onBlock  atomic.Pointer[func(audio.Block)]
	captured atomic.Uint64
}

// New initialises PortAudio. framesPerBuffer of 0 lets PortAudio choose.
// Streams are opened on first Start or StartCapture.
func New(src audio.Source, format audio.Format, framesPerBuffer int, log *slog.Logger) (*Device, error) {
	if log == nil {
		log = slog.Default()
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		format = audio.WireFormat
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Device{
		format: format,
		frames: framesPerBuffer,
		src:    src,
		log:    log,
	}, nil
}

// Start implements [audio.Output].
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.playback == nil {
		s, err := portaudio.OpenDefaultStream(0, d.format.Channels, float64(d.format.SampleRate), d.frames, d.onPlayback)
		if err != nil {
			return fmt.Errorf("portaudio: open playback: %w", err)
		}
		d.playback = s
	}
	if d.playing {
		return nil
	}
	if err := d.playback.Start(); err != nil {
		return fmt.Errorf("portaudio: start playback: %w", err)
	}
	d.playing = true
	return nil
}

// Stop implements [audio.Output].
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playback == nil || !d.playing {
		return nil
	}
	d.playing = false
	if err := d.playback.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop playback: %w", err)
	}
	return nil
}

func (d *Device) onPlayback(out []float32) {
	if d.src == nil {
		clear(out)
		return
	}
	d.src.Produce(out)
}

// StartCapture implements [audio.Input].
func (d *Device) StartCapture(fn func(audio.Block)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.capture == nil {
		s, err := portaudio.OpenDefaultStream(d.format.Channels, 0, float64(d.format.SampleRate), d.frames, d.onCapture)
		if err != nil {
			return fmt.Errorf("portaudio: open capture: %w", err)
		}
		d.capture = s
	}
	if d.onBlock.Load() != nil {
		d.onBlock.Store(&fn)
		return nil
	}
	d.onBlock.Store(&fn)
	d.captured.Store(0)
	if err := d.capture.Start(); err != nil {
		d.onBlock.Store(nil)
		return fmt.Errorf("portaudio: start capture: %w", err)
	}
	return nil
}

// StopCapture implements [audio.Input].
func (d *Device) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.onBlock.Swap(nil) == nil || d.capture == nil {
		return nil
	}
	if err := d.capture.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop capture: %w", err)
	}
	return nil
}

func (d *Device) onCapture(in []float32) {
	fn := d.onBlock.Load()
	if fn == nil || len(in) == 0 {
		return
	}
	start := d.captured.Add(uint64(len(in))) - uint64(len(in))
	(*fn)(audio.Block{
		Samples:   in,
		Format:    d.format,
		Peak:      audio.Peak(in),
		Timestamp: d.format.Duration(int(start)),
	})
}

// Close implements [audio.Device]. It closes both streams and terminates
// PortAudio.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.onBlock.Store(nil)

	var errs []error
	for _, s := range []*portaudio.Stream{d.capture, d.playback} {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	d.capture, d.playback = nil, nil
	errs = append(errs, portaudio.Terminate())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("portaudio: close: %w", err)
	}
	return nil
}
