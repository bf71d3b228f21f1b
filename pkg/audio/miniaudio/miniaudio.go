// Package miniaudio implements [audio.Device] on miniaudio via
// github.com/gen2brain/malgo.
//
// Both directions run in 32-bit float format so device callbacks exchange
// samples with [audio.StreamingBuffer] without integer conversion. Scratch
// buffers are sized for one period up front; callbacks do not allocate in
// steady state.
package miniaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/rtbridge/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("miniaudio: device closed")

// Config selects the device format and period.
type Config struct {
	// Format of both playback and capture. Defaults to audio.WireFormat.
	Format audio.Format

	// PeriodFrames is the callback size in frames. Defaults to 10 ms.
	PeriodFrames int

	// Periods is the number of periods in the device buffer. Defaults to 3.
	Periods int
}

func (c Config) withDefaults() Config {
	if c.Format.SampleRate <= 0 {
		c.Format.SampleRate = audio.WireFormat.SampleRate
	}
	if c.Format.Channels <= 0 {
		c.Format.Channels = audio.WireFormat.Channels
	}
	if c.PeriodFrames <= 0 {
		c.PeriodFrames = c.Format.SampleRate / 100
	}
	if c.Periods <= 0 {
		c.Periods = 3
	}
	return c
}

// Device is a full-duplex miniaudio device. Playback pulls from the
// [audio.Source] given to New.
type Device struct {
	cfg Config
	src audio.Source
	log *slog.Logger
	ctx *malgo.AllocatedContext

	mu       sync.Mutex
	playback *malgo.Device
	capture  *malgo.Device
	closed   bool

	onBlock  atomic.Pointer[func(audio.Block)]
	captured atomic.Uint64

	playScratch []float32
	capScratch  []float32
}

// New initialises a miniaudio context. Devices are opened on first Start or
// StartCapture.
func New(src audio.Source, cfg Config, log *slog.Logger) (*Device, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug("miniaudio: backend", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	period := cfg.PeriodFrames * cfg.Format.Channels
	return &Device{
		cfg:         cfg,
		src:         src,
		log:         log,
		ctx:         ctx,
		playScratch: make([]float32, period),
		capScratch:  make([]float32, period),
	}, nil
}

func (d *Device) deviceConfig(typ malgo.DeviceType) malgo.DeviceConfig {
	c := malgo.DefaultDeviceConfig(typ)
	c.SampleRate = uint32(d.cfg.Format.SampleRate)
	c.PeriodSizeInFrames = uint32(d.cfg.PeriodFrames)
	c.Periods = uint32(d.cfg.Periods)
	c.PerformanceProfile = malgo.LowLatency
	c.Alsa.NoMMap = 1
	switch typ {
	case malgo.Playback:
		c.Playback.Format = malgo.FormatF32
		c.Playback.Channels = uint32(d.cfg.Format.Channels)
	case malgo.Capture:
		c.Capture.Format = malgo.FormatF32
		c.Capture.Channels = uint32(d.cfg.Format.Channels)
	}
	return c
}

// Start implements [audio.Output].
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.playback == nil {
		dev, err := malgo.InitDevice(d.ctx.Context, d.deviceConfig(malgo.Playback), malgo.DeviceCallbacks{
			Data: d.onPlayback,
		})
		if err != nil {
			return fmt.Errorf("miniaudio: init playback: %w", err)
		}
		d.playback = dev
	}
	if d.playback.IsStarted() {
		return nil
	}
	if err := d.playback.Start(); err != nil {
		return fmt.Errorf("miniaudio: start playback: %w", err)
	}
	d.log.Debug("miniaudio: playback started", "format", d.cfg.Format.String())
	return nil
}

// Stop implements [audio.Output].
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playback == nil || !d.playback.IsStarted() {
		return nil
	}
	if err := d.playback.Stop(); err != nil {
		return fmt.Errorf("miniaudio: stop playback: %w", err)
	}
	return nil
}

func (d *Device) onPlayback(out, _ []byte, frames uint32) {
	n := int(frames) * d.cfg.Format.Channels
	if cap(d.playScratch) < n {
		d.playScratch = make([]float32, n)
	}
	buf := d.playScratch[:n]
	if d.src != nil {
		d.src.Produce(buf)
	} else {
		clear(buf)
	}
	for i, s := range buf {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
}

// StartCapture implements [audio.Input].
func (d *Device) StartCapture(fn func(audio.Block)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.capture == nil {
		dev, err := malgo.InitDevice(d.ctx.Context, d.deviceConfig(malgo.Capture), malgo.DeviceCallbacks{
			Data: d.onCapture,
		})
		if err != nil {
			return fmt.Errorf("miniaudio: init capture: %w", err)
		}
		d.capture = dev
	}
	d.onBlock.Store(&fn)
	d.captured.Store(0)
	if d.capture.IsStarted() {
		return nil
	}
	if err := d.capture.Start(); err != nil {
		d.onBlock.Store(nil)
		return fmt.Errorf("miniaudio: start capture: %w", err)
	}
	return nil
}

// StopCapture implements [audio.Input].
func (d *Device) StopCapture() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onBlock.Store(nil)
	if d.capture == nil || !d.capture.IsStarted() {
		return nil
	}
	if err := d.capture.Stop(); err != nil {
		return fmt.Errorf("miniaudio: stop capture: %w", err)
	}
	return nil
}

func (d *Device) onCapture(_, in []byte, frames uint32) {
	fn := d.onBlock.Load()
	if fn == nil {
		return
	}
	n := int(frames) * d.cfg.Format.Channels
	if len(in) < n*4 || n == 0 {
		return
	}
	if cap(d.capScratch) < n {
		d.capScratch = make([]float32, n)
	}
	buf := d.capScratch[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(in[i*4:]))
	}
	start := d.captured.Add(uint64(n)) - uint64(n)
	(*fn)(audio.Block{
		Samples:   buf,
		Format:    d.cfg.Format,
		Peak:      audio.Peak(buf),
		Timestamp: d.cfg.Format.Duration(int(start)),
	})
}

// Close implements [audio.Device]. It stops and releases both devices and
// the context.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.onBlock.Store(nil)
	if d.capture != nil {
		d.capture.Uninit()
		d.capture = nil
	}
	if d.playback != nil {
		d.playback.Uninit()
		d.playback = nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	if err != nil {
		return fmt.Errorf("miniaudio: uninit context: %w", err)
	}
	return nil
}
