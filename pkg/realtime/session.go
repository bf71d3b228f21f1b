// Package realtime implements a client session for the OpenAI Realtime API.
//
// A [Session] owns one duplex WebSocket connection. Outbound, it serializes
// typed client events and writes them as text frames in the order Send is
// called. Inbound, a single read loop parses each frame's "type"
// discriminator and offers the raw frame to every registered
// [dispatch.Processor] that can handle it, in registration order. Processors
// are independent: one processor's error never stops the others.
//
// The session never reconnects on its own. Connection loss moves it to
// [StateError] and notifies state listeners; reconnect policy belongs to the
// application.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/rtbridge/pkg/realtime/dispatch"
	"github.com/MrWong99/rtbridge/pkg/realtime/events"
	"github.com/MrWong99/rtbridge/pkg/realtime/transport"
	"github.com/MrWong99/rtbridge/pkg/realtime/transport/coderws"
)

const (
	// DefaultBaseURL is the public Realtime endpoint.
	DefaultBaseURL = "wss://api.openai.com/v1/realtime"

	// DefaultModel is the model requested when none is configured.
	DefaultModel = "gpt-4o-realtime-preview-2024-10-01"

	// DefaultBetaHeader is sent as the OpenAI-Beta header.
	DefaultBetaHeader = "realtime=v1"

	instrumentationName = "github.com/MrWong99/rtbridge/pkg/realtime"
)

var (
	// ErrAlreadyConnected is returned by Connect while a connection is being
	// established or is open.
	ErrAlreadyConnected = errors.New("realtime: already connected")

	// ErrNotConnected is returned by AwaitOpen before Connect was called.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrClosed is returned by AwaitOpen after Close.
	ErrClosed = errors.New("realtime: session closed")
)

// ── State ─────────────────────────────────────────────────────────────────────

// State is the connection state of a [Session].
type State int

const (
	// StateDisconnected is the initial state.
	StateDisconnected State = iota
	// StateConnecting means a dial is in progress.
	StateConnecting
	// StateOpen means events can be sent and received.
	StateOpen
	// StateClosed means Close was called.
	StateClosed
	// StateError means the dial failed or the connection dropped.
	StateError
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ── Config & options ──────────────────────────────────────────────────────────

// Config holds the connection parameters.
type Config struct {
	// BaseURL is the WebSocket endpoint without query. Defaults to DefaultBaseURL.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Model is passed as the model query parameter. Defaults to DefaultModel.
	Model string

	// BetaHeader is the OpenAI-Beta header value. Defaults to DefaultBetaHeader.
	BetaHeader string
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.BetaHeader == "" {
		c.BetaHeader = DefaultBetaHeader
	}
	return c
}

// URL returns the dial URL, {base}?model={model}.
func (c Config) URL() string {
	c = c.withDefaults()
	return fmt.Sprintf("%s?model=%s", c.BaseURL, url.QueryEscape(c.Model))
}

// Header returns the handshake headers.
func (c Config) Header() http.Header {
	c = c.withDefaults()
	return http.Header{
		"Authorization": []string{"Bearer " + c.APIKey},
		"OpenAI-Beta":   []string{c.BetaHeader},
	}
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithDialer sets the transport. Defaults to a coder/websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMeterProvider sets the meter provider. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Session) { s.mp = mp }
}

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) { s.tp = tp }
}

// WithEventIDs makes Send stamp a random event_id on events that have none.
func WithEventIDs(enabled bool) Option {
	return func(s *Session) { s.eventIDs = enabled }
}

// WithProcessors registers processors at construction time.
func WithProcessors(ps ...dispatch.Processor) Option {
	return func(s *Session) {
		for _, p := range ps {
			s.AddProcessor(p)
		}
	}
}

// ── Session ───────────────────────────────────────────────────────────────────

// Session is a client session over one realtime connection.
// All methods are safe for concurrent use.
type Session struct {
	cfg      Config
	dialer   transport.Dialer
	log      *slog.Logger
	mp       metric.MeterProvider
	tp       trace.TracerProvider
	tracer   trace.Tracer
	inst     *instruments
	eventIDs bool

	processors atomic.Pointer[[]dispatch.Processor]
	procMu     sync.Mutex

	mu        sync.Mutex
	state     State
	lastErr   error
	conn      transport.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	changed   chan struct{}
	listeners []func(State, error)
	notifyMu  sync.Mutex

	writeMu sync.Mutex
}

// New creates a disconnected session.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:     cfg.withDefaults(),
		changed: make(chan struct{}),
	}
	empty := []dispatch.Processor{}
	s.processors.Store(&empty)
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.mp == nil {
		s.mp = otel.GetMeterProvider()
	}
	if s.tp == nil {
		s.tp = otel.GetTracerProvider()
	}
	if s.dialer == nil {
		s.dialer = coderws.NewDialer()
	}
	s.tracer = s.tp.Tracer(instrumentationName)
	s.inst = newInstruments(s.mp.Meter(instrumentationName), s.log)
	return s
}

// AddProcessor appends p to the fan-out list. Processors receive frames in
// the order they were added.
func (s *Session) AddProcessor(p dispatch.Processor) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	cur := *s.processors.Load()
	next := make([]dispatch.Processor, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, p)
	s.processors.Store(&next)
}

// Processors returns the registered processors in order.
func (s *Session) Processors() []dispatch.Processor {
	cur := *s.processors.Load()
	out := make([]dispatch.Processor, len(cur))
	copy(out, cur)
	return out
}

// OnStateChange registers fn to be called on every state transition with the
// new state and, for StateError, the cause. Listeners run in transition order
// on the goroutine causing the transition. They must not block and must not
// call Connect or Close synchronously.
func (s *Session) OnStateChange(fn func(State, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that caused the last transition to StateError.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// setStateLocked transitions to next and returns the listeners to notify.
// s.mu must be held.
func (s *Session) setStateLocked(next State, err error) []func(State, error) {
	if s.state == next {
		return nil
	}
	s.state = next
	if next == StateError {
		s.lastErr = err
	}
	close(s.changed)
	s.changed = make(chan struct{})
	s.inst.recordState(next)
	s.log.Debug("realtime: state change", "state", next.String(), "err", err)

	fns := make([]func(State, error), len(s.listeners))
	copy(fns, s.listeners)
	return fns
}

// unlockAndNotify releases s.mu and runs fns. Notifications are serialized
// by notifyMu, which is taken before s.mu is released so listeners observe
// transitions in order.
func (s *Session) unlockAndNotify(fns []func(State, error), st State, err error) {
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, fn := range fns {
		fn(st, err)
	}
}

// Connect starts connecting in the background and returns immediately. The
// session moves to StateOpen when the handshake succeeds or to StateError
// when it fails. Cancelling ctx aborts the handshake; once open, the
// connection lives until Close or a transport error.
//
// Connect may be called again after StateClosed or StateError.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateOpen:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	prev := s.done
	done := make(chan struct{})
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.done = done
	s.cancel = cancel
	s.lastErr = nil
	fns := s.setStateLocked(StateConnecting, nil)
	s.unlockAndNotify(fns, StateConnecting, nil)

	go s.run(ctx, connCtx, prev, done)
	return nil
}

func (s *Session) run(callerCtx, connCtx context.Context, prev, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	dialCtx, dialCancel := context.WithCancel(connCtx)
	stop := context.AfterFunc(callerCtx, dialCancel)
	dialCtx, span := s.tracer.Start(dialCtx, "realtime.connect",
		trace.WithAttributes(attribute.String("realtime.model", s.cfg.Model)),
	)
	conn, err := s.dialer.Dial(dialCtx, s.cfg.URL(), s.cfg.Header())
	stop()
	dialCancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		s.fail(StateConnecting, fmt.Errorf("realtime: dial: %w", err))
		return
	}
	span.End()

	s.mu.Lock()
	if s.state != StateConnecting {
		// Closed while dialing.
		s.mu.Unlock()
		_ = conn.Close("session closed")
		return
	}
	s.conn = conn
	fns := s.setStateLocked(StateOpen, nil)
	s.log.Info("realtime: connected", "model", s.cfg.Model)
	s.unlockAndNotify(fns, StateOpen, nil)

	s.readLoop(connCtx, conn)
}

// fail moves the session to StateError if it is still in from.
func (s *Session) fail(from State, err error) {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return
	}
	conn, cancel := s.conn, s.cancel
	s.conn, s.cancel = nil, nil
	fns := s.setStateLocked(StateError, err)
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close("connection error")
	}
	s.log.Error("realtime: connection failed", "err", err)
	s.unlockAndNotify(fns, StateError, err)
}

func (s *Session) readLoop(ctx context.Context, conn transport.Conn) {
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			s.fail(StateOpen, fmt.Errorf("realtime: read: %w", err))
			return
		}
		s.HandleMessage(raw)
	}
}

// AwaitOpen blocks until the session is open, has failed or was closed, or
// ctx is done.
func (s *Session) AwaitOpen(ctx context.Context) error {
	for {
		s.mu.Lock()
		st, err, ch := s.state, s.lastErr, s.changed
		s.mu.Unlock()

		switch st {
		case StateOpen:
			return nil
		case StateError:
			return err
		case StateClosed:
			return ErrClosed
		case StateDisconnected:
			return ErrNotConnected
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Send stamps ev's header, serializes it and writes it as one text frame.
// Frames are written in the order Send is called; concurrent sends never
// interleave.
//
// When the session is not open the event is dropped: Send logs it at debug
// level, counts it and returns nil.
func (s *Session) Send(ctx context.Context, ev events.ClientEvent) error {
	typ := ev.EventType()
	h := ev.EventHeader()
	h.Type = typ
	if s.eventIDs && h.EventID == "" {
		h.EventID = "evt_" + uuid.NewString()
	}

	s.mu.Lock()
	st, conn := s.state, s.conn
	s.mu.Unlock()
	if st != StateOpen || conn == nil {
		s.inst.recordSend(ctx, typ, sendDropped)
		s.log.Debug("realtime: dropping event, session not open", "type", typ, "state", st.String())
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		s.inst.recordSend(ctx, typ, sendFailed)
		return fmt.Errorf("realtime: marshal %s: %w", typ, err)
	}

	s.writeMu.Lock()
	err = conn.Write(ctx, data)
	s.writeMu.Unlock()
	if err != nil {
		s.inst.recordSend(ctx, typ, sendFailed)
		return fmt.Errorf("realtime: send %s: %w", typ, err)
	}
	s.inst.recordSend(ctx, typ, sendOK)
	return nil
}

// Close closes the connection gracefully and waits for the read loop to exit
// or ctx to end. It is idempotent and safe on a session that never connected.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisconnected || s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	conn, cancel, done := s.conn, s.cancel, s.done
	s.conn, s.cancel = nil, nil
	fns := s.setStateLocked(StateClosed, nil)
	s.unlockAndNotify(fns, StateClosed, nil)

	var err error
	if conn != nil {
		err = conn.Close("session closed")
	}
	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return fmt.Errorf("realtime: close: %w", err)
	}
	return nil
}

// ── Inbound ───────────────────────────────────────────────────────────────────

// Outcome classifies an inbound frame.
type Outcome int

const (
	// OutcomeDispatched means at least one processor handled the frame.
	OutcomeDispatched Outcome = iota
	// OutcomeUnhandled means the frame parsed but no processor claimed its type.
	OutcomeUnhandled
	// OutcomeMalformed means the frame was not JSON or had no type.
	OutcomeMalformed
)

// String returns the lower-case outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeUnhandled:
		return "unhandled"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Result describes what happened to one inbound frame.
type Result struct {
	Outcome Outcome

	// Type is the frame's discriminator; empty for malformed frames.
	Type string

	// EventID is the frame's event_id, if any.
	EventID string

	// Handled is the number of processors that accepted the frame.
	Handled int

	// Err is the parse error for malformed frames, or the joined processor
	// errors for dispatched frames.
	Err error
}

// HandleMessage routes one raw inbound frame. The read loop calls it for
// every frame; it is exported so frames can be injected directly.
func (s *Session) HandleMessage(raw []byte) Result {
	start := time.Now()

	env, err := events.ParseEnvelope(raw)
	if err != nil {
		s.log.Warn("realtime: dropping malformed frame", "err", err, "bytes", len(raw))
		s.inst.recordFrame(OutcomeMalformed, "")
		return Result{Outcome: OutcomeMalformed, Err: err}
	}

	res := Result{Type: env.Type, EventID: env.EventID}
	var errs []error
	for _, p := range *s.processors.Load() {
		if !p.CanProcess(env.Type) {
			continue
		}
		res.Handled++
		if _, err := p.Process(env.Type, raw); err != nil {
			s.log.Warn("realtime: processor failed", "processor", p.Name(), "type", env.Type, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}

	if res.Handled == 0 {
		res.Outcome = OutcomeUnhandled
		s.log.Debug("realtime: no processor for event", "type", env.Type)
		s.inst.recordFrame(OutcomeUnhandled, "")
		return res
	}

	res.Outcome = OutcomeDispatched
	res.Err = errors.Join(errs...)
	s.inst.recordFrame(OutcomeDispatched, env.Type)
	s.inst.recordDispatch(env.Type, time.Since(start))
	return res
}
