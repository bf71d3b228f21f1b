package processor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/rtbridge/pkg/audio"
	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// Stream describes one assistant audio content part as it was written to the
// playback buffer.
type Stream struct {
	events.ContentRef

	// Start is the buffer's write position when the first delta arrived.
	Start uint64

	// Samples is the number of samples written so far.
	Samples uint64

	// Done is set once response.audio.done arrived.
	Done bool
}

// Audio plays assistant audio: every response.audio.delta is decoded and
// pushed into a [audio.StreamingBuffer].
type Audio struct {
	base
	buf    *audio.StreamingBuffer
	onDone func(Stream)
	log    *slog.Logger

	mu     sync.Mutex
	cur    Stream
	active bool
}

// NewAudio creates an audio processor feeding buf. onDone, if non-nil, runs
// on response.audio.done.
func NewAudio(buf *audio.StreamingBuffer, onDone func(Stream), opts ...Option) *Audio {
	o := buildOptions(opts)
	a := &Audio{
		base:   newBase("audio"),
		buf:    buf,
		onDone: onDone,
		log:    o.log,
	}
	dispatch.MustRegister(a.d, a.handleDelta)
	dispatch.MustRegister(a.d, a.handleDone)
	return a
}

func (a *Audio) handleDelta(ev *events.ResponseAudioDelta) {
	pcm, err := ev.PCM16()
	if err != nil {
		a.log.Warn("processor: bad audio delta", "item_id", ev.ItemID, "err", err)
		return
	}

	a.mu.Lock()
	if !a.active || a.cur.ItemID != ev.ItemID || a.cur.ContentIndex != ev.ContentIndex {
		a.cur = Stream{ContentRef: ev.ContentRef, Start: a.buf.Written()}
		a.active = true
	}
	a.mu.Unlock()

	before := a.buf.Written()
	a.buf.PushPCM16(pcm)
	pushed := a.buf.Written() - before

	a.mu.Lock()
	a.cur.Samples += pushed
	a.mu.Unlock()
}

func (a *Audio) handleDone(ev *events.ResponseAudioDone) {
	a.mu.Lock()
	if a.active && a.cur.ItemID == ev.ItemID {
		a.cur.Done = true
	}
	st := a.cur
	a.mu.Unlock()
	if st.ItemID == ev.ItemID {
		a.buf.EndStream()
	}

	if st.ItemID != ev.ItemID {
		st = Stream{ContentRef: ev.ContentRef, Done: true}
	}
	if a.onDone != nil {
		a.onDone(st)
	}
}

// Current returns the most recent stream and how much of it has been
// produced by the output device. ok is false before the first delta.
func (a *Audio) Current() (st Stream, played time.Duration, ok bool) {
	a.mu.Lock()
	st, ok = a.cur, a.active
	a.mu.Unlock()
	if !ok {
		return Stream{}, 0, false
	}

	pos := a.buf.Position()
	var n uint64
	if pos > st.Start {
		n = min(pos-st.Start, st.Samples)
	}
	return st, a.buf.Format().Duration(int(n)), true
}

// Buffer returns the playback buffer.
func (a *Audio) Buffer() *audio.StreamingBuffer { return a.buf }
