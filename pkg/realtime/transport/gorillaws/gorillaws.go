// Package gorillaws implements [transport.Dialer] on github.com/gorilla/websocket.
//
// gorilla connections have no context-aware read, so Read unblocks on ctx
// cancellation by closing the underlying connection.
package gorillaws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrWong99/rtbridge/pkg/realtime/transport"
)

const (
	// DefaultReadLimit is the maximum inbound frame size.
	DefaultReadLimit = 16 << 20

	closeGrace = 2 * time.Second
)

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithHandshakeTimeout bounds the opening handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(dl *Dialer) { dl.dialer.HandshakeTimeout = d }
}

// WithReadLimit sets the maximum inbound frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(dl *Dialer) { dl.readLimit = n }
}

// Dialer opens gorilla/websocket connections.
type Dialer struct {
	dialer    *websocket.Dialer
	readLimit int64
}

// NewDialer creates a Dialer based on websocket.DefaultDialer settings.
func NewDialer(opts ...Option) *Dialer {
	base := *websocket.DefaultDialer
	d := &Dialer{dialer: &base, readLimit: DefaultReadLimit}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("gorillaws: dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("gorillaws: dial: %w", err)
	}
	conn.SetReadLimit(d.readLimit)
	return &Conn{conn: conn}, nil
}

// Conn wraps a *websocket.Conn.
type Conn struct {
	conn *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

// Read implements [transport.Conn]. Binary frames are skipped.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.Close()
	})
	defer stop()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if typ == websocket.TextMessage {
			return data, nil
		}
	}
}

// Write implements [transport.Conn]. The context deadline, if any, becomes
// the write deadline.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements [transport.Conn]: it sends a normal-closure frame and
// closes the socket.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
