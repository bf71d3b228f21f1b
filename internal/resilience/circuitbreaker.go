// Package resilience guards optional backends with a circuit breaker so that
// an unreachable dependency costs one fast rejection per call instead of a
// full timeout.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. A failed
	// probe re-opens the breaker, enough successful probes close it.
	StateHalfOpen
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults for zero-valued [Config] fields.
const (
	DefaultMaxFailures = 5
	DefaultCooldown    = 30 * time.Second
	DefaultProbes      = 1
)

// Config tunes a [CircuitBreaker].
type Config struct {
	// Name labels log lines, e.g. "transcripts".
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close
	// the breaker. Default: 1.
	Probes int

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(from, to State)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker is a three-state breaker (closed, open, half-open).
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probes      int
	onChange    func(from, to State)
	log         *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	probeWins int
	rejected  atomic.Int64
}

// New creates a closed breaker.
func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = DefaultProbes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probes:      cfg.Probes,
		onChange:    cfg.OnStateChange,
		log:         cfg.Logger,
		now:         time.Now,
	}
}

// Execute runs fn unless the breaker is open. While half-open only one probe
// runs at a time; concurrent callers are rejected. Context cancellation of
// the caller is not counted as a backend failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, from, err := cb.admit()
	if err != nil {
		cb.rejected.Add(1)
		return err
	}
	if probe && from == StateOpen {
		cb.notify(StateOpen, StateHalfOpen)
	}

	err = fn(ctx)

	if err != nil && ctx.Err() != nil {
		cb.release(probe)
		return err
	}
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed. probe reports a half-open call;
// from is the state before any transition admit made.
func (cb *CircuitBreaker) admit() (probe bool, from State, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	from = cb.state
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false, from, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probeWins = 0
		cb.inFlight = 0
		fallthrough
	case StateHalfOpen:
		if cb.inFlight > 0 {
			return false, from, ErrCircuitOpen
		}
		cb.inFlight++
		return true, from, nil
	}
	return false, from, nil
}

func (cb *CircuitBreaker) release(probe bool) {
	if !probe {
		return
	}
	cb.mu.Lock()
	cb.inFlight--
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if probe {
		cb.inFlight--
	}
	switch {
	case err != nil && probe:
		cb.trip()
	case err != nil:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.maxFailures {
			cb.trip()
		}
	case probe:
		cb.probeWins++
		if cb.probeWins >= cb.probes {
			cb.state = StateClosed
			cb.failures = 0
		}
	default:
		cb.failures = 0
	}
	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if from == to {
		return
	}
	switch to {
	case StateOpen:
		cb.log.Warn("resilience: circuit opened", "name", cb.name, "failures", failures, "cooldown", cb.cooldown)
	case StateClosed:
		cb.log.Info("resilience: circuit closed", "name", cb.name)
	}
	cb.notify(from, to)
}

// trip opens the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failures = cb.maxFailures
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onChange != nil {
		cb.onChange(from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Rejected returns how many calls were refused without running.
func (cb *CircuitBreaker) Rejected() int64 { return cb.rejected.Load() }

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.probeWins = 0
	cb.mu.Unlock()
	if from != StateClosed {
		cb.log.Info("resilience: circuit reset", "name", cb.name)
		cb.notify(from, StateClosed)
	}
}
