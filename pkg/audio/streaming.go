package audio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/rtbridge/pkg/ringbuffer"
)

const meterName = "github.com/MrWong99/rtbridge/pkg/audio"

// Defaults for [NewStreamingBuffer].
const (
	DefaultBufferSeconds = 30
)

// StreamingBuffer decouples bursty network delivery of assistant audio from
// the fixed-rate pull of an output device. It owns a float ring buffer sized
// for Format.SampleRate × Format.Channels × seconds samples and one marker
// consumed by [StreamingBuffer.Produce].
//
// PushFloat and PushPCM16 must be called from a single producer goroutine
// (the session read loop). Produce is called from the device thread; it
// never blocks and never allocates.
type StreamingBuffer struct {
	format Format
	ring   *ringbuffer.RingBuffer[float32]
	marker *ringbuffer.Marker[float32]

	playing   atomic.Bool
	streaming atomic.Bool
	clearAt   atomic.Uint64
	played   atomic.Uint64
	underrun atomic.Int64
	overrun  atomic.Int64
	oddBytes atomic.Int64

	outMu sync.Mutex
	out   Output

	scratch []float32
	warnOdd sync.Once
	log     *slog.Logger
}

// StreamingOption configures a [StreamingBuffer].
type StreamingOption func(*streamingConfig)

type streamingConfig struct {
	mp  metric.MeterProvider
	log *slog.Logger
}

// WithMeterProvider sets the meter provider used for the buffer's
// observable counters. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) StreamingOption {
	return func(c *streamingConfig) {
		c.mp = mp
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) StreamingOption {
	return func(c *streamingConfig) {
		c.log = l
	}
}

// NewStreamingBuffer creates a buffer holding seconds of audio in format.
// Non-positive values fall back to [WireFormat] and [DefaultBufferSeconds].
func NewStreamingBuffer(format Format, seconds int, opts ...StreamingOption) *StreamingBuffer {
	if format.SampleRate <= 0 {
		format.SampleRate = WireFormat.SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = WireFormat.Channels
	}
	if seconds <= 0 {
		seconds = DefaultBufferSeconds
	}
	cfg := streamingConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.mp == nil {
		cfg.mp = otel.GetMeterProvider()
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}

	b := &StreamingBuffer{
		format: format,
		log:    cfg.log,
	}
	b.ring = ringbuffer.New(format.SampleRate*format.Channels*seconds,
		ringbuffer.WithOverrunHook[float32](func(lost int) {
			b.overrun.Add(int64(lost))
		}),
	)
	b.marker = b.ring.NewMarker()
	b.registerMetrics(cfg.mp.Meter(meterName))
	return b
}

func (b *StreamingBuffer) registerMetrics(m metric.Meter) {
	observe := func(name, desc string, v *atomic.Int64) {
		_, err := m.Int64ObservableCounter(name,
			metric.WithDescription(desc),
			metric.WithUnit("{sample}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(v.Load())
				return nil
			}),
		)
		if err != nil {
			b.log.Warn("audio: register metric", "name", name, "err", err)
		}
	}
	observe("rtbridge.audio.playback.underrun", "Silence samples produced because the buffer ran dry mid-stream.", &b.underrun)
	observe("rtbridge.audio.playback.overrun", "Samples overwritten before the device could play them.", &b.overrun)
}

// Format returns the buffer's audio format.
func (b *StreamingBuffer) Format() Format { return b.format }

// AttachOutput sets the device started by the first push after creation or
// after [StreamingBuffer.Stop].
func (b *StreamingBuffer) AttachOutput(out Output) {
	b.outMu.Lock()
	b.out = out
	b.outMu.Unlock()
}

// PushFloat appends samples. If playback is not running it is started.
func (b *StreamingBuffer) PushFloat(samples []float32) {
	if len(samples) == 0 {
		return
	}
	b.ring.Push(samples)
	b.streaming.Store(true)
	if b.playing.CompareAndSwap(false, true) {
		b.startOutput()
	}
}

func (b *StreamingBuffer) startOutput() {
	b.outMu.Lock()
	out := b.out
	b.outMu.Unlock()
	if out == nil {
		return
	}
	if err := out.Start(); err != nil {
		b.playing.Store(false)
		b.log.Error("audio: start playback", "err", err)
	}
}

// PushPCM16 decodes little-endian int16 PCM and appends it. A trailing odd
// byte is dropped and reported once.
func (b *StreamingBuffer) PushPCM16(data []byte) {
	if len(data)%2 != 0 {
		b.oddBytes.Add(1)
		b.warnOdd.Do(func() {
			b.log.Warn("audio: odd PCM16 byte count, dropping trailing byte", "bytes", len(data))
		})
	}
	n := len(data) / 2
	if cap(b.scratch) < n {
		b.scratch = make([]float32, n)
	}
	buf := b.scratch[:n]
	DecodePCM16Into(buf, data)
	b.PushFloat(buf)
}

// Produce fills dst with the next buffered samples and pads the tail with
// silence. It returns the number of real samples written. Safe to call from
// a device callback.
func (b *StreamingBuffer) Produce(dst []float32) int {
	if t := b.clearAt.Load(); t > b.marker.Position() {
		b.marker.SkipTo(t)
	}
	n := b.marker.Read(dst)
	clear(dst[n:])
	b.played.Add(uint64(n))
	if gap := len(dst) - n; gap > 0 && b.streaming.Load() {
		b.underrun.Add(int64(gap))
	}
	return n
}

// Clear discards all audio pushed so far and not yet produced. Audio pushed
// after Clear returns is kept. The discard takes effect on the next Produce
// call; Buffered and Position reflect it immediately.
func (b *StreamingBuffer) Clear() {
	w := b.ring.Written()
	for {
		t := b.clearAt.Load()
		if t >= w || b.clearAt.CompareAndSwap(t, w) {
			break
		}
	}
	b.streaming.Store(false)
}

// EndStream marks the current stream as fully delivered. Silence produced
// after the remaining audio drains is not counted as underrun until the next
// push.
func (b *StreamingBuffer) EndStream() { b.streaming.Store(false) }

// Buffered returns the number of samples waiting to be played.
func (b *StreamingBuffer) Buffered() int {
	pos := b.Position()
	lag := b.ring.Written() - pos
	if c := uint64(b.ring.Cap()); lag > c {
		return int(c)
	}
	return int(lag)
}

// Written returns the total number of samples ever pushed.
func (b *StreamingBuffer) Written() uint64 { return b.ring.Written() }

// Position returns the absolute index of the next sample Produce will emit.
// Comparing it with Written at the time a stream began gives how much of that
// stream has been played.
func (b *StreamingBuffer) Position() uint64 {
	return max(b.marker.Position(), b.clearAt.Load())
}

// Played returns the total number of real (non-silence) samples produced.
func (b *StreamingBuffer) Played() uint64 { return b.played.Load() }

// Playing reports whether playback has been started.
func (b *StreamingBuffer) Playing() bool { return b.playing.Load() }

// Overrun returns the number of samples lost because the device fell more
// than one buffer length behind.
func (b *StreamingBuffer) Overrun() int64 { return b.overrun.Load() }

// Underrun returns the number of silence samples produced while a stream was
// still being delivered, that is between a push and the matching
// [StreamingBuffer.EndStream] or [StreamingBuffer.Clear].
func (b *StreamingBuffer) Underrun() int64 { return b.underrun.Load() }

// OddFrames returns how many PCM16 pushes carried an odd byte count.
func (b *StreamingBuffer) OddFrames() int64 { return b.oddBytes.Load() }

// Stop stops the attached output. The next push restarts it.
func (b *StreamingBuffer) Stop() error {
	if !b.playing.CompareAndSwap(true, false) {
		return nil
	}
	b.outMu.Lock()
	out := b.out
	b.outMu.Unlock()
	if out == nil {
		return nil
	}
	return out.Stop()
}
