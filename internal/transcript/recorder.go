package transcript

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/rtbridge/internal/observe"
	"github.com/MrWong99/rtbridge/internal/resilience"
)

const (
	// DefaultQueueSize bounds entries waiting to be written.
	DefaultQueueSize = 256

	writeTimeout = 5 * time.Second
	drainTimeout = 5 * time.Second
)

// Recorder writes entries to a [Store] on a background goroutine. Record
// never blocks: when the queue is full the entry is dropped and counted.
type Recorder struct {
	store   Store
	queue   chan Entry
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time

	dropped atomic.Int64
	written atomic.Int64
	skipped atomic.Int64
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Entry, n)
		}
	}
}

// WithMetrics records every write in m.
func WithMetrics(m *observe.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// WithBreaker routes every write through cb. Entries arriving while the
// breaker is open are skipped without touching the store.
func WithBreaker(cb *resilience.CircuitBreaker) RecorderOption {
	return func(r *Recorder) { r.breaker = cb }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.log = l }
}

// WithClock sets the time source used for empty timestamps.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder writing to store. Call [Recorder.Run] to
// start the writer.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store: store,
		queue: make(chan Entry, DefaultQueueSize),
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record queues e. It reports false if the queue was full.
func (r *Recorder) Record(e Entry) bool {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}
	select {
	case r.queue <- e:
		return true
	default:
		if r.dropped.Add(1) == 1 {
			r.log.Warn("transcript: queue full, dropping entries", "capacity", cap(r.queue))
		}
		return false
	}
}

// Run writes queued entries until ctx is cancelled, then drains what is
// left with a bounded timeout. It always returns nil; write errors are
// logged and counted.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	ctx, span := observe.StartSpan(ctx, "transcript.write",
		trace.WithAttributes(attribute.String("speaker", string(e.Speaker))))
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	var err error
	if r.breaker != nil {
		err = r.breaker.Execute(wctx, func(ctx context.Context) error { return r.store.Write(ctx, e) })
	} else {
		err = r.store.Write(wctx, e)
	}
	cancel()
	observe.EndSpan(span, err)
	if r.metrics != nil {
		r.metrics.RecordTranscript(context.Background(), string(e.Speaker), err)
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		r.skipped.Add(1)
		return
	}
	if err != nil {
		observe.WithTrace(ctx, r.log).Error("transcript: write", "item_id", e.ItemID, "speaker", e.Speaker, "err", err)
		return
	}
	r.written.Add(1)
}

// Dropped returns how many entries were dropped because the queue was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Skipped returns how many entries were not written because the breaker
// was open.
func (r *Recorder) Skipped() int64 { return r.skipped.Load() }

// Written returns how many entries were stored successfully.
func (r *Recorder) Written() int64 { return r.written.Load() }
