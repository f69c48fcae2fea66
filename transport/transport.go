package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrClosed is returned by Send and Receive after the transport has been
// closed, locally or by the server.
var ErrClosed = errors.New("transport: connection closed")

// ConnectError reports a failure to establish the WebSocket connection
// (DNS, TLS, or handshake).
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// SendError reports a failure to write a frame to an established
// connection.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("transport: send: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Transport is a single-use bidirectional frame pipe.
type Transport interface {
	// Connect establishes the connection. It may be called once per
	// instance and fails with *ConnectError on handshake problems.
	Connect(ctx context.Context, url string, header http.Header) error

	// Send writes one text frame. Concurrent callers are serialized
	// internally. Fails with *SendError once the connection is closed.
	Send(data []byte) error

	// Receive blocks until the next inbound frame arrives. It returns
	// ErrClosed (possibly wrapped with the peer's close reason) once
	// the connection is gone; after that the transport is spent.
	Receive(ctx context.Context) ([]byte, error)

	// Close shuts the connection down. Safe to call more than once and
	// from any goroutine; it unblocks a pending Receive.
	Close() error
}
