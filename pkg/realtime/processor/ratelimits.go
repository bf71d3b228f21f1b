package processor

import (
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// RateLimits keeps the latest rate_limits.updated snapshot.
type RateLimits struct {
	base
	fn func([]events.RateLimit)

	mu     sync.Mutex
	latest map[string]events.RateLimit
}

// NewRateLimits creates a rate limit tracker. fn, if non-nil, receives a copy
// of every update.
func NewRateLimits(fn func([]events.RateLimit)) *RateLimits {
	r := &RateLimits{
		base:   newBase("rate-limits"),
		fn:     fn,
		latest: make(map[string]events.RateLimit),
	}
	dispatch.MustRegister(r.d, func(ev *events.RateLimitsUpdated) {
		cp := slices.Clone(ev.RateLimits)
		r.mu.Lock()
		for _, l := range cp {
			r.latest[l.Name] = l
		}
		r.mu.Unlock()
		if r.fn != nil {
			r.fn(cp)
		}
	})
	return r
}

// Get returns the latest limit with the given name, e.g. "requests" or
// "tokens".
func (r *RateLimits) Get(name string) (events.RateLimit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.latest[name]
	return l, ok
}

// Snapshot returns all known limits sorted by name.
func (r *RateLimits) Snapshot() []events.RateLimit {
	r.mu.Lock()
	out := make([]events.RateLimit, 0, len(r.latest))
	for _, l := range r.latest {
		out = append(out, l)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b events.RateLimit) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
