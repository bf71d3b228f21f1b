package processor

import (
	"log/slog"

	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// Errors logs server error events and forwards them to a callback. Server
// errors never close the session.
type Errors struct {
	base
	fn  func(events.ErrorDetails)
	log *slog.Logger
}

// NewErrors creates an error processor. fn may be nil.
func NewErrors(fn func(events.ErrorDetails), opts ...Option) *Errors {
	o := buildOptions(opts)
	e := &Errors{base: newBase("errors"), fn: fn, log: o.log}
	dispatch.MustRegister(e.d, func(ev *events.ErrorEvent) {
		e.log.Error("processor: server error",
			"err", ev.Error,
			"type", ev.Error.Type,
			"event_id", ev.Error.EventID,
		)
		if e.fn != nil {
			e.fn(ev.Error)
		}
	})
	return e
}
