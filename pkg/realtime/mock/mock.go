// Package mock provides an in-memory [transport.Dialer] and [transport.Conn]
// for unit tests of code built on realtime.Session.
//
// Every successful Dial creates a fresh [Conn] and publishes it on
// [Dialer.Conns], so a test can grab the server side of the connection,
// inject inbound frames with [Conn.Inject] and read what the client wrote
// from [Conn.Written].
//
// Typical usage:
//
//	d := mock.NewDialer()
//	sess := realtime.New(cfg, realtime.WithDialer(d))
//	_ = sess.Connect(ctx)
//	conn := <-d.Conns
//	conn.Inject([]byte(`{"type":"session.created","session":{}}`))
package mock

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/MrWong99/rtbridge/pkg/realtime/transport"
)

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// ErrRemoteClosed is returned by Read after [Conn.Drop].
var ErrRemoteClosed = errors.New("mock: remote closed connection")

// DialCall records the arguments of a single Dial invocation.
type DialCall struct {
	URL    string
	Header http.Header
}

// Dialer is a mock implementation of [transport.Dialer].
type Dialer struct {
	mu sync.Mutex

	// DialError, when set, is returned by Dial instead of a connection.
	DialError error

	// Gate, when non-nil, makes Dial wait for a receive before returning.
	Gate chan struct{}

	// Calls records all Dial invocations.
	Calls []DialCall

	// Conns receives every connection created by Dial.
	Conns chan *Conn
}

// NewDialer returns a Dialer with a buffered Conns channel.
func NewDialer() *Dialer {
	return &Dialer{Conns: make(chan *Conn, 16)}
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, DialCall{URL: url, Header: header.Clone()})
	gate, dialErr := d.Gate, d.DialError
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}
	c := NewConn()
	select {
	case d.Conns <- c:
	default:
	}
	return c, nil
}

// CallCount returns the number of Dial invocations.
func (d *Dialer) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// SetDialError changes DialError under the dialer's lock.
func (d *Dialer) SetDialError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialError = err
}

// Conn is an in-memory connection. The zero value is not usable; call
// [NewConn].
type Conn struct {
	in      chan []byte
	written chan []byte
	closed  chan struct{}

	mu          sync.Mutex
	once        sync.Once
	readErr     error
	closeReason string
	frames      [][]byte

	// WriteError, when set, is returned by Write.
	WriteError error
}

// NewConn returns an open connection.
func NewConn() *Conn {
	return &Conn{
		in:      make(chan []byte, 64),
		written: make(chan []byte, 1024),
		closed:  make(chan struct{}),
	}
}

// Read implements [transport.Conn].
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-c.in:
		return raw, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements [transport.Conn]. Frames are recorded and published on
// Written.
func (c *Conn) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.mu.Lock()
	err := c.WriteError
	if err == nil {
		cp := append([]byte(nil), data...)
		c.frames = append(c.frames, cp)
		select {
		case c.written <- cp:
		default:
		}
	}
	c.mu.Unlock()
	return err
}

// Close implements [transport.Conn].
func (c *Conn) Close(reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeReason = reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// Inject queues raw as an inbound frame. It reports false if the connection
// is closed.
func (c *Conn) Inject(raw []byte) bool {
	select {
	case <-c.closed:
		return false
	case c.in <- raw:
		return true
	}
}

// Drop simulates the remote side going away: pending and future reads fail
// with ErrRemoteClosed.
func (c *Conn) Drop() {
	c.once.Do(func() {
		c.mu.Lock()
		c.readErr = ErrRemoteClosed
		c.mu.Unlock()
		close(c.closed)
	})
}

// Written returns the channel of frames written by the client.
func (c *Conn) Written() <-chan []byte { return c.written }

// Frames returns a copy of every frame written so far.
func (c *Conn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Closed reports whether Close or Drop was called, and the close reason.
func (c *Conn) Closed() (bool, string) {
	select {
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return true, c.closeReason
	default:
		return false, ""
	}
}
