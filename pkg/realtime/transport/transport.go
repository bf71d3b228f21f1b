// Package transport defines the duplex text-frame connection the realtime
// session runs over. Concrete implementations live in the coderws and
// gorillaws sub-packages; the session only depends on these interfaces.
package transport

import (
	"context"
	"errors"
	"net/http"
)

// ErrClosed is returned by Read and Write after Close.
var ErrClosed = errors.New("transport: connection closed")

// Dialer opens connections.
type Dialer interface {
	// Dial opens a connection to url with the given handshake headers. ctx
	// bounds the handshake only.
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Conn is an open duplex connection exchanging whole text frames.
//
// Read is called from a single goroutine. Write may be called concurrently
// with Read but callers serialize writes among themselves.
type Conn interface {
	// Read blocks until the next text frame arrives.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error

	// Close performs a graceful close with reason. Safe to call more than once.
	Close(reason string) error
}

// DialerFunc adapts a function to [Dialer].
type DialerFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	return f(ctx, url, header)
}
