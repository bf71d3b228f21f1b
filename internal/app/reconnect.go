package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/rtbridge/internal/observe"
)

// Default reconnection parameters.
const (
	defaultMaxRetries     = 5
	defaultBackoff        = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultAttemptTimeout = 15 * time.Second
)

// ErrReconnectFailed is passed to OnGiveUp once all retries are exhausted.
var ErrReconnectFailed = errors.New("app: reconnection failed")

// Connector is the part of a realtime session the [Reconnector] drives.
// *realtime.Session implements it.
type Connector interface {
	Connect(ctx context.Context) error
	AwaitOpen(ctx context.Context) error
}

// Reconnector re-opens a realtime session after a connection failure.
//
// The session's state listener calls [Reconnector.NotifyDisconnect] when the
// session enters the error state; [Reconnector.Run] picks the signal up and
// retries Connect with exponential backoff, invoking OnReconnect on success.
// State listeners must not call Connect themselves, so the retry loop runs on
// its own goroutine.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	conn           Connector
	maxRetries     int
	backoff        time.Duration
	maxBackoff     time.Duration
	attemptTimeout time.Duration
	onReconnect    func()
	onGiveUp       func(error)
	metrics        *observe.Metrics
	log            *slog.Logger
	after          func(time.Duration) <-chan time.Time

	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{}
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Session is the connection to re-open.
	Session Connector

	// MaxRetries is the number of attempts per disconnect before giving up.
	// Defaults to 5 if zero.
	MaxRetries int

	// Backoff is the wait before the first retry. Doubles each attempt up to
	// MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// AttemptTimeout bounds one Connect plus AwaitOpen. Defaults to 15s.
	AttemptTimeout time.Duration

	// OnReconnect is called after the session is open again. May be nil.
	OnReconnect func()

	// OnGiveUp is called with an error wrapping [ErrReconnectFailed] once
	// MaxRetries attempts failed. May be nil.
	OnGiveUp func(error)

	// Metrics records every attempt. May be nil.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	r := &Reconnector{
		conn:           cfg.Session,
		maxRetries:     cfg.MaxRetries,
		backoff:        cfg.Backoff,
		maxBackoff:     cfg.MaxBackoff,
		attemptTimeout: cfg.AttemptTimeout,
		onReconnect:    cfg.OnReconnect,
		onGiveUp:       cfg.OnGiveUp,
		metrics:        cfg.Metrics,
		log:            cfg.Logger,
		after:          time.After,
		done:           make(chan struct{}),
		disconnected:   make(chan struct{}, 1),
	}
	if r.maxRetries <= 0 {
		r.maxRetries = defaultMaxRetries
	}
	if r.backoff <= 0 {
		r.backoff = defaultBackoff
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = defaultMaxBackoff
	}
	if r.attemptTimeout <= 0 {
		r.attemptTimeout = defaultAttemptTimeout
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// NotifyDisconnect signals that the session failed. It never blocks; signals
// arriving while one is pending are coalesced.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Run waits for disconnect notifications and reconnects. It returns nil when
// ctx is cancelled or Stop is called.
func (r *Reconnector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// Stop halts Run. Safe to call multiple times.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

// attemptReconnect tries to reconnect with exponential backoff.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	wait := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.after(wait):
		}

		r.log.Info("app: reconnecting",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", wait,
		)

		lastErr = r.connectOnce(ctx, attempt)
		if r.metrics != nil {
			r.metrics.RecordReconnect(ctx, lastErr)
		}
		if lastErr == nil {
			// A failure during the attempt may have queued a stale signal.
			select {
			case <-r.disconnected:
			default:
			}
			r.log.Info("app: reconnected", "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect()
			}
			return
		}

		r.log.Warn("app: reconnect attempt failed", "attempt", attempt, "err", lastErr)
		wait = min(wait*2, r.maxBackoff)
	}

	err := errors.Join(ErrReconnectFailed, lastErr)
	r.log.Error("app: giving up on reconnection", "max_retries", r.maxRetries, "err", lastErr)
	if r.onGiveUp != nil {
		r.onGiveUp(err)
	}
}

func (r *Reconnector) connectOnce(ctx context.Context, attempt int) (err error) {
	ctx, span := observe.StartSpan(ctx, "app.reconnect",
		trace.WithAttributes(attribute.Int("attempt", attempt)))
	defer func() { observe.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()
	// ErrAlreadyConnected means another caller got there first; AwaitOpen
	// reports how that ends.
	_ = r.conn.Connect(ctx)
	if err = r.conn.AwaitOpen(ctx); err != nil {
		observe.WithTrace(ctx, r.log).Debug("app: reconnect attempt", "attempt", attempt, "err", err)
	}
	return err
}
