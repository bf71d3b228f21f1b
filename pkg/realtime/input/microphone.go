package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/rtbridge/pkg/audio"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// DefaultQueueBlocks is the number of captured blocks that may wait for the
// network before new ones are dropped.
const DefaultQueueBlocks = 64

// ErrAlreadyStarted is returned by Start while the microphone is streaming.
var ErrAlreadyStarted = errors.New("input: microphone already started")

// MicOption configures a [Microphone].
type MicOption func(*Microphone)

// WithLevel sets a callback receiving the peak level of every captured block.
// It runs on the capture thread and must not block.
func WithLevel(fn func(peak float32)) MicOption {
	return func(m *Microphone) { m.onLevel = fn }
}

// WithQueueBlocks sets the capture queue length. Defaults to
// DefaultQueueBlocks.
func WithQueueBlocks(n int) MicOption {
	return func(m *Microphone) {
		if n > 0 {
			m.queueLen = n
		}
	}
}

// WithMicLogger sets the logger. Defaults to slog.Default().
func WithMicLogger(l *slog.Logger) MicOption {
	return func(m *Microphone) { m.log = l }
}

// Microphone streams a capture device to the server. Start sends
// input_audio_buffer.clear and begins capture; every captured block becomes
// one input_audio_buffer.append in capture order; Stop ends capture and sends
// input_audio_buffer.commit.
//
// The capture callback only converts and encodes; network writes happen on a
// separate goroutine fed by a bounded queue. Blocks arriving while the queue
// is full are dropped and counted.
type Microphone struct {
	sender   Sender
	dev      audio.Input
	log      *slog.Logger
	onLevel  func(float32)
	queueLen int

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewMicrophone creates a microphone streaming dev through s.
func NewMicrophone(s Sender, dev audio.Input, opts ...MicOption) *Microphone {
	m := &Microphone{sender: s, dev: dev, queueLen: DefaultQueueBlocks}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// Start clears the server's input buffer and starts capture.
func (m *Microphone) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyStarted
	}

	if err := m.sender.Send(ctx, &events.InputAudioBufferClear{}); err != nil {
		return fmt.Errorf("input: clear input buffer: %w", err)
	}

	queue := make(chan []byte, m.queueLen)
	stop := make(chan struct{})
	done := make(chan struct{})
	conv := &audio.Converter{Target: audio.WireFormat}
	capture := func(b audio.Block) {
		if b.Format.SampleRate == 0 {
			b.Format = audio.WireFormat
		}
		if m.onLevel != nil {
			m.onLevel(b.Peak)
		}
		b = conv.Convert(b)
		if len(b.Samples) == 0 {
			return
		}
		select {
		case queue <- audio.EncodePCM16(b.Samples):
		default:
			m.dropped.Add(1)
		}
	}
	if err := m.dev.StartCapture(capture); err != nil {
		return fmt.Errorf("input: start capture: %w", err)
	}

	m.stop, m.done, m.running = stop, done, true
	go m.pump(queue, stop, done)
	m.log.Debug("input: microphone started")
	return nil
}

// pump sends queued blocks in order. After stop is closed it drains what is
// already queued and returns. The queue is never closed, so a capture
// callback racing with Stop cannot panic.
func (m *Microphone) pump(queue <-chan []byte, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case pcm := <-queue:
			m.append(pcm)
		case <-stop:
			for {
				select {
				case pcm := <-queue:
					m.append(pcm)
				default:
					return
				}
			}
		}
	}
}

func (m *Microphone) append(pcm []byte) {
	if err := m.sender.Send(context.Background(), events.NewAudioAppendPCM16(pcm)); err != nil {
		m.log.Warn("input: send audio", "err", err)
		return
	}
	m.sent.Add(1)
}

// Stop stops capture, flushes queued audio and commits the input buffer.
// It is a no-op when the microphone is not running.
func (m *Microphone) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false

	stopErr := m.dev.StopCapture()
	close(m.stop)
	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := m.sender.Send(ctx, &events.InputAudioBufferCommit{}); err != nil {
		return errors.Join(stopErr, fmt.Errorf("input: commit input buffer: %w", err))
	}
	if stopErr != nil {
		return fmt.Errorf("input: stop capture: %w", stopErr)
	}
	m.log.Debug("input: microphone stopped", "sent", m.sent.Load(), "dropped", m.dropped.Load())
	return nil
}

// Running reports whether capture is active.
func (m *Microphone) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Sent returns the number of append events sent.
func (m *Microphone) Sent() int64 { return m.sent.Load() }

// Dropped returns the number of captured blocks dropped on a full queue.
func (m *Microphone) Dropped() int64 { return m.dropped.Load() }
