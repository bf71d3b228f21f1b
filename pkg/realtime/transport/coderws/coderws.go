// Package coderws implements [transport.Dialer] on github.com/coder/websocket.
//
// The handshake runs through an HTTP client whose transport is wrapped with
// otelhttp, so the dial shows up as a client span in traces.
package coderws

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/rtbridge/pkg/realtime/transport"
)

// DefaultReadLimit is the maximum inbound frame size. Audio deltas routinely
// exceed the library default of 32 KiB.
const DefaultReadLimit = 16 << 20

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithHTTPClient sets the client used for the handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.client = c }
}

// WithReadLimit sets the maximum inbound frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(d *Dialer) { d.readLimit = n }
}

// ── Dialer ────────────────────────────────────────────────────────────────────

// Dialer opens coder/websocket connections.
type Dialer struct {
	client    *http.Client
	readLimit int64
}

// NewDialer creates a Dialer with an otelhttp-instrumented HTTP client.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		client:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		readLimit: DefaultReadLimit,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.client,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("coderws: dial: %w", err)
	}
	conn.SetReadLimit(d.readLimit)
	return &Conn{conn: conn}, nil
}

// ── Conn ──────────────────────────────────────────────────────────────────────

// Conn wraps a *websocket.Conn.
type Conn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// Wrap adapts an already established connection, e.g. the server side of a
// test.
func Wrap(c *websocket.Conn) *Conn {
	return &Conn{conn: c}
}

// Read implements [transport.Conn]. Binary frames are skipped.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

// Write implements [transport.Conn].
func (c *Conn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close implements [transport.Conn] with a normal-closure status.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return c.closeErr
}
