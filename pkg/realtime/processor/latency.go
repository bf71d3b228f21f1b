package processor

import (
	"sync"
	"time"

	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// Latency measures perceived latency: the time from the server detecting the
// end of user speech to the first assistant audio delta that follows.
type Latency struct {
	base
	fn  func(time.Duration)
	now func() time.Time

	mu        sync.Mutex
	stoppedAt time.Time
	last      time.Duration
}

// NewLatency creates a latency tracker calling fn once per measured turn.
func NewLatency(fn func(time.Duration), opts ...Option) *Latency {
	o := buildOptions(opts)
	l := &Latency{base: newBase("latency"), fn: fn, now: o.now}
	dispatch.MustRegister(l.d, func(*events.InputAudioBufferSpeechStopped) {
		l.mu.Lock()
		l.stoppedAt = l.now()
		l.mu.Unlock()
	})
	dispatch.MustRegister(l.d, func(*events.ResponseAudioDelta) {
		l.mu.Lock()
		if l.stoppedAt.IsZero() {
			l.mu.Unlock()
			return
		}
		d := l.now().Sub(l.stoppedAt)
		l.stoppedAt = time.Time{}
		l.last = d
		l.mu.Unlock()
		if l.fn != nil {
			l.fn(d)
		}
	})
	return l
}

// Last returns the most recent measurement, or zero if none was taken.
func (l *Latency) Last() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
