// Package dispatch routes raw inbound frames to typed handlers.
//
// A [Dispatcher] maps event-type discriminators to handlers. Registration is
// generic: the discriminator is read from the zero value of the schema, so
//
//	d := dispatch.New("captions")
//	dispatch.MustRegister(d, func(ev *events.ResponseTextDelta) { ... })
//
// binds "response.text.delta" without naming it. Each registration owns one
// reusable instance of its schema. [Dispatcher.Dispatch] zeroes that instance,
// decodes the frame into it and calls the handler synchronously. Handlers
// must not retain the pointer past their return; copy what you need.
//
// A Dispatcher is meant to be driven by a single goroutine (the session read
// loop). Registration may happen concurrently with CanProcess lookups.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/rtbridge/pkg/realtime/events"
)

var (
	// ErrDuplicateType is returned when a discriminator is registered twice on
	// the same dispatcher.
	ErrDuplicateType = errors.New("dispatch: type already registered")

	// ErrUnregisteredType is returned by Dispatch for a discriminator with no
	// handler. Callers are expected to check CanProcess first.
	ErrUnregisteredType = errors.New("dispatch: type not registered")

	// ErrDecode wraps payload decoding failures.
	ErrDecode = errors.New("dispatch: decode payload")
)

// Processor consumes raw inbound frames. The session offers every frame to
// every processor whose CanProcess returns true.
type Processor interface {
	// Name identifies the processor in logs and diagnostics.
	Name() string

	// CanProcess reports whether typ has a handler.
	CanProcess(typ string) bool

	// Process decodes raw as typ and runs its handler. The returned event is
	// only valid until the next call.
	Process(typ string, raw []byte) (events.Event, error)
}

var _ Processor = (*Dispatcher)(nil)

type entry struct {
	dispatch func(raw []byte) (events.Event, error)
}

// Dispatcher is a registry of typed handlers keyed by discriminator.
type Dispatcher struct {
	name string

	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty dispatcher.
func New(name string) *Dispatcher {
	return &Dispatcher{
		name:    name,
		entries: make(map[string]entry),
	}
}

// Register binds handler to the discriminator of T. It returns
// [ErrDuplicateType] if the type already has a handler on d.
func Register[T any, PT interface {
	*T
	events.Event
}](d *Dispatcher, handler func(PT)) error {
	inst := PT(new(T))
	typ := inst.EventType()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[typ]; ok {
		return fmt.Errorf("%w: %s on %s", ErrDuplicateType, typ, d.name)
	}
	d.entries[typ] = entry{
		dispatch: func(raw []byte) (events.Event, error) {
			var zero T
			*inst = zero
			if err := json.Unmarshal(raw, inst); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrDecode, typ, err)
			}
			handler(inst)
			return inst, nil
		},
	}
	return nil
}

// MustRegister is like [Register] but panics on error. Use it while wiring
// processors, where a duplicate is a programming error.
func MustRegister[T any, PT interface {
	*T
	events.Event
}](d *Dispatcher, handler func(PT)) {
	if err := Register[T, PT](d, handler); err != nil {
		panic(err)
	}
}

// Name implements [Processor].
func (d *Dispatcher) Name() string { return d.name }

// CanProcess implements [Processor].
func (d *Dispatcher) CanProcess(typ string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[typ]
	return ok
}

// Dispatch decodes raw into the reusable instance registered for typ and runs
// its handler synchronously. The returned event aliases that instance.
func (d *Dispatcher) Dispatch(typ string, raw []byte) (events.Event, error) {
	d.mu.RLock()
	e, ok := d.entries[typ]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnregisteredType, typ, d.name)
	}
	return e.dispatch(raw)
}

// Process implements [Processor]; it is Dispatch.
func (d *Dispatcher) Process(typ string, raw []byte) (events.Event, error) {
	return d.Dispatch(typ, raw)
}

// Types returns the registered discriminators, sorted.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.entries))
	for t := range d.entries {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
