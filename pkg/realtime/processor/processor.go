// Package processor contains the feature processors that turn inbound
// realtime events into application behaviour: audio playback, captions,
// transcripts, tool calls, barge-in and so on.
//
// Each processor owns its own [dispatch.Dispatcher] and its own state, so
// several processors may subscribe to the same event type without knowing
// about each other. Register them on a session with
// realtime.Session.AddProcessor; the session offers every frame to every
// processor that can handle it, in registration order.
//
// Handlers run synchronously on the session read loop. Callbacks supplied to
// the constructors in this package inherit that constraint: they must return
// quickly and must not retain event pointers.
package processor

import (
	"context"
	"time"

	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

// sendTimeout bounds writes issued from inside a handler.
const sendTimeout = 5 * time.Second

// Sender writes client events to the server. *realtime.Session implements it.
type Sender interface {
	Send(ctx context.Context, ev events.ClientEvent) error
}

// base adapts an owned dispatcher to [dispatch.Processor].
type base struct {
	d *dispatch.Dispatcher
}

func newBase(name string) base {
	return base{d: dispatch.New(name)}
}

// Name implements [dispatch.Processor].
func (b base) Name() string { return b.d.Name() }

// CanProcess implements [dispatch.Processor].
func (b base) CanProcess(typ string) bool { return b.d.CanProcess(typ) }

// Process implements [dispatch.Processor].
func (b base) Process(typ string, raw []byte) (events.Event, error) {
	return b.d.Dispatch(typ, raw)
}

// Types returns the event types the processor handles.
func (b base) Types() []string { return b.d.Types() }

// send issues ev with a bounded context detached from any caller.
func send(s Sender, ev events.ClientEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return s.Send(ctx, ev)
}
