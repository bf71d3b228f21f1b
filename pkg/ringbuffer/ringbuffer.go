// Package ringbuffer provides a fixed-capacity, single-writer circular buffer
// with independent read cursors ("markers").
//
// A [RingBuffer] never blocks: [RingBuffer.Push] overwrites the oldest data
// when the buffer is full and a [Marker] read returns whatever has been
// written since the marker's last read. The buffer is meant to sit between a
// bursty producer (network delivery) and a fixed-rate consumer (an audio
// device callback), so neither side ever waits on the other.
//
// Concurrency model: exactly one goroutine may call Push. Each Marker is owned
// by exactly one reader goroutine. The write position is published atomically
// after each copy, so readers only ever observe fully written data. Push and
// Read take no locks.
package ringbuffer

import (
	"sync"
	"sync/atomic"
)

// RingBuffer is a fixed-capacity circular buffer of T with a monotonically
// increasing logical write position. The physical index of a logical
// position p is p mod Cap().
type RingBuffer[T any] struct {
	data  []T
	write atomic.Uint64

	mu      sync.Mutex
	markers map[*Marker[T]]struct{}

	onOverrun func(lost int)
}

// Option configures a [RingBuffer].
type Option[T any] func(*RingBuffer[T])

// WithOverrunHook registers fn to be called from the reader goroutine whenever
// a marker discovers it has fallen more than Cap() items behind the writer.
// lost is the number of items the marker skipped.
func WithOverrunHook[T any](fn func(lost int)) Option[T] {
	return func(r *RingBuffer[T]) {
		r.onOverrun = fn
	}
}

// New creates a ring buffer holding up to capacity items. It panics if
// capacity is not positive.
func New[T any](capacity int, opts ...Option[T]) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ringbuffer: capacity must be positive")
	}
	r := &RingBuffer[T]{
		data:    make([]T, capacity),
		markers: make(map[*Marker[T]]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Cap returns the fixed capacity.
func (r *RingBuffer[T]) Cap() int { return len(r.data) }

// Written returns the logical write position, i.e. the total number of items
// ever pushed.
func (r *RingBuffer[T]) Written() uint64 { return r.write.Load() }

// Len returns the number of valid items currently held, at most Cap().
func (r *RingBuffer[T]) Len() int {
	w := r.write.Load()
	if w > uint64(len(r.data)) {
		return len(r.data)
	}
	return int(w)
}

// Push appends items at the write position, overwriting the oldest data when
// the buffer wraps. If len(items) exceeds Cap(), only the trailing Cap() items
// are stored but the write position still advances by len(items).
//
// Push must only be called from a single goroutine.
func (r *RingBuffer[T]) Push(items []T) {
	n := len(items)
	if n == 0 {
		return
	}
	c := len(r.data)
	w := r.write.Load()

	src := items
	start := w
	if n > c {
		src = items[n-c:]
		start = w + uint64(n-c)
	}

	idx := int(start % uint64(c))
	first := copy(r.data[idx:], src)
	if first < len(src) {
		copy(r.data, src[first:])
	}

	r.write.Store(w + uint64(n))
}

// NewMarker creates a read cursor positioned at the current write position.
// The marker observes only items pushed after its creation.
func (r *RingBuffer[T]) NewMarker() *Marker[T] {
	m := &Marker[T]{rb: r}
	m.pos.Store(r.write.Load())

	r.mu.Lock()
	r.markers[m] = struct{}{}
	r.mu.Unlock()
	return m
}

// Markers returns the number of live markers.
func (r *RingBuffer[T]) Markers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.markers)
}

// Marker is an independent read cursor on a [RingBuffer].
// Read, Skip and SkipTo must only be called from one goroutine at a time; Available,
// Position and Dropped may be called from anywhere.
type Marker[T any] struct {
	rb      *RingBuffer[T]
	pos     atomic.Uint64
	dropped atomic.Uint64
}

// Available returns how many items can currently be read, capped at Cap().
func (m *Marker[T]) Available() int {
	lag := m.rb.write.Load() - m.pos.Load()
	if c := uint64(len(m.rb.data)); lag > c {
		return int(c)
	}
	return int(lag)
}

// Read copies up to len(dst) unread items into dst in write order and advances
// the marker. It returns the number of items copied and never blocks.
//
// If the writer has lapped the marker, the marker first jumps forward to the
// oldest item still held so the result is the most recent Cap() items in
// write order. The skipped count is added to Dropped and reported to the
// overrun hook.
func (m *Marker[T]) Read(dst []T) int {
	if len(dst) == 0 {
		return 0
	}
	w := m.rb.write.Load()
	c := uint64(len(m.rb.data))
	pos := m.pos.Load()

	if lag := w - pos; lag > c {
		lost := lag - c
		pos = w - c
		m.dropped.Add(lost)
		if m.rb.onOverrun != nil {
			m.rb.onOverrun(int(lost))
		}
	}

	n := int(min(uint64(len(dst)), w-pos))
	if n == 0 {
		m.pos.Store(pos)
		return 0
	}

	idx := int(pos % c)
	first := copy(dst[:n], m.rb.data[idx:])
	if first < n {
		copy(dst[first:n], m.rb.data)
	}
	m.pos.Store(pos + uint64(n))
	return n
}

// Skip discards every unread item by moving the marker to the write position.
// It returns the number of items skipped.
func (m *Marker[T]) Skip() int {
	w := m.rb.write.Load()
	n := w - m.pos.Swap(w)
	if c := uint64(len(m.rb.data)); n > c {
		return int(c)
	}
	return int(n)
}

// SkipTo moves the marker forward to the logical position pos, clamped to
// the write position. The marker never moves backwards. It returns the number
// of items skipped, capped at Cap().
func (m *Marker[T]) SkipTo(pos uint64) int {
	pos = min(pos, m.rb.write.Load())
	cur := m.pos.Load()
	if pos <= cur {
		return 0
	}
	m.pos.Store(pos)
	if n, c := pos-cur, uint64(len(m.rb.data)); n < c {
		return int(n)
	}
	return len(m.rb.data)
}

// Position returns the marker's logical read position.
func (m *Marker[T]) Position() uint64 { return m.pos.Load() }

// Dropped returns the total number of items this marker lost to overruns.
func (m *Marker[T]) Dropped() uint64 { return m.dropped.Load() }

// Close unregisters the marker from its buffer. Reading from a closed marker
// still works; it just no longer counts towards [RingBuffer.Markers].
func (m *Marker[T]) Close() {
	m.rb.mu.Lock()
	delete(m.rb.markers, m)
	m.rb.mu.Unlock()
}
