package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultHandshakeTimeout bounds the WebSocket dial, covering DNS, TLS,
// and the upgrade exchange.
const DefaultHandshakeTimeout = 10 * time.Second

// WebSocketTransport implements Transport over a gorilla/websocket
// client connection. It satisfies the single-use contract: after Close
// or a read failure the instance is spent.
type WebSocketTransport struct {
	// HandshakeTimeout overrides DefaultHandshakeTimeout when positive.
	HandshakeTimeout time.Duration

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketTransport creates an unconnected transport.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		closed: make(chan struct{}),
	}
}

// Connect dials the server and performs the WebSocket handshake.
func (t *WebSocketTransport) Connect(ctx context.Context, url string, header http.Header) error {
	timeout := t.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return &ConnectError{URL: url, Err: err}
	}
	t.conn = conn

	logrus.WithFields(logrus.Fields{
		"package": "transport",
		"url":     url,
	}).Debug("WebSocket connection established")
	return nil
}

// Send writes one text frame. gorilla/websocket permits only one
// concurrent writer, so writes are serialized here.
func (t *WebSocketTransport) Send(data []byte) error {
	if t.conn == nil {
		return &SendError{Err: ErrClosed}
	}
	select {
	case <-t.closed:
		return &SendError{Err: ErrClosed}
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &SendError{Err: err}
	}
	return nil
}

// Receive blocks on the socket until a frame arrives or the connection
// closes. Cancellation is driven by Close: the supervisor closes the
// transport to unblock its read loop.
func (t *WebSocketTransport) Receive(ctx context.Context) ([]byte, error) {
	if t.conn == nil {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, data, err := t.conn.ReadMessage()
	if err != nil {
		select {
		case <-t.closed:
			return nil, ErrClosed
		default:
		}
		if closeErr, ok := err.(*websocket.CloseError); ok {
			return nil, fmt.Errorf("%w: %s", ErrClosed, closeErr.Error())
		}
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return data, nil
}

// Close shuts the connection down. Idempotent.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.conn == nil {
			return
		}
		// Best effort: tell the peer we are leaving before tearing
		// down the TCP connection.
		deadline := time.Now().Add(time.Second)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = t.conn.Close()
	})
	return err
}
