package gomax

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/gomax/protocol"
	"github.com/opd-ai/gomax/session"
	"github.com/opd-ai/gomax/transport"
)

// sentRequest is a decoded envelope captured by the mock transport.
type sentRequest struct {
	Ver     int             `json:"ver"`
	Cmd     int             `json:"cmd"`
	Seq     int64           `json:"seq"`
	Opcode  protocol.Opcode `json:"opcode"`
	Payload json.RawMessage `json:"payload"`
}

// mockTransport is a scriptable in-memory Transport. The script hook
// runs synchronously on every Send and typically answers by calling
// respond, which feeds the client's read loop.
type mockTransport struct {
	mu     sync.Mutex
	sent   []sentRequest
	script func(req *sentRequest)

	inbound    chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	connectErr error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (m *mockTransport) Connect(ctx context.Context, url string, header http.Header) error {
	return m.connectErr
}

func (m *mockTransport) Send(data []byte) error {
	select {
	case <-m.closed:
		return &transport.SendError{Err: transport.ErrClosed}
	default:
	}

	var req sentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("mock transport: bad envelope: %w", err)
	}

	m.mu.Lock()
	m.sent = append(m.sent, req)
	script := m.script
	m.mu.Unlock()

	if script != nil {
		script(&req)
	}
	return nil
}

func (m *mockTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-m.inbound:
		return data, nil
	case <-m.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *mockTransport) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
	})
	return nil
}

// isClosed reports whether Close has been called on this transport.
func (m *mockTransport) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// setScript installs the per-test server behavior.
func (m *mockTransport) setScript(script func(req *sentRequest)) {
	m.mu.Lock()
	m.script = script
	m.mu.Unlock()
}

// respond feeds a correlated response into the read loop.
func (m *mockTransport) respond(seq int64, opcode protocol.Opcode, cmd int, payload string) {
	data, _ := json.Marshal(map[string]any{
		"ver":     session.DefaultProtocolVersion,
		"cmd":     cmd,
		"seq":     seq,
		"opcode":  opcode,
		"payload": json.RawMessage(payload),
	})
	m.inbound <- data
}

// push feeds an unsolicited server frame into the read loop.
func (m *mockTransport) push(opcode protocol.Opcode, payload string) {
	data, _ := json.Marshal(map[string]any{
		"ver":     session.DefaultProtocolVersion,
		"cmd":     protocol.CmdRequest,
		"opcode":  opcode,
		"payload": json.RawMessage(payload),
	})
	m.inbound <- data
}

func (m *mockTransport) opcodesSent() []protocol.Opcode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Opcode, 0, len(m.sent))
	for _, req := range m.sent {
		out = append(out, req.Opcode)
	}
	return out
}

// loginSyncPayload is the canonical token-login success body used across
// tests: the self profile plus one untitled dialog with user 7 and one
// titled group chat.
const loginSyncPayload = `{
	"profile": {"contact": {"id": 42, "names": [{"name": "Me"}]}},
	"chats": [
		{"id": 7, "type": "DIALOG", "participants": {"7": 1}},
		{"id": 100, "type": "CHAT", "title": "group", "participants": {"7": 1, "8": 1}}
	]
}`

// scriptHealthyServer answers every request the happy-path way.
func scriptHealthyServer(m *mockTransport) {
	m.setScript(func(req *sentRequest) {
		switch req.Opcode {
		case protocol.OpAuthStart:
			m.respond(req.Seq, req.Opcode, protocol.CmdResponse, `{"token":"req-token"}`)
		case protocol.OpAuthCheckCode:
			m.respond(req.Seq, req.Opcode, protocol.CmdResponse,
				`{"tokenAttrs":{"LOGIN":{"token":"login-token"}}}`)
		case protocol.OpAuthToken:
			m.respond(req.Seq, req.Opcode, protocol.CmdResponse, loginSyncPayload)
		case protocol.OpContacts:
			m.respond(req.Seq, req.Opcode, protocol.CmdResponse,
				`{"contacts":[{"id":7,"names":[{"name":"Bob"}],"photoId":5},{"id":8,"names":[{"name":"Carol"}]}]}`)
		case protocol.OpSendMessage:
			m.respond(req.Seq, req.Opcode, protocol.CmdResponse,
				`{"chatId":7,"message":{"id":"m1","text":"echo","sender":42,"time":1}}`)
		}
	})
}

// newTestClient wires a Client to the given transport factory with fast
// timings and a throwaway session file.
func newTestClient(t *testing.T, newTransport func() transport.Transport) *Client {
	t.Helper()
	opts := NewOptions()
	opts.SessionPath = t.TempDir() + "/session.json"
	opts.CallTimeout = 2 * time.Second
	opts.ReconnectBaseWait = 5 * time.Millisecond
	opts.ReconnectMaxWait = 20 * time.Millisecond
	opts.RateLimitCooldown = time.Minute
	opts.CodeProvider = func(ctx context.Context) (string, error) {
		return "0000", nil
	}
	opts.NewTransport = newTransport
	return New(opts)
}

// eventChan subscribes to an event and returns a channel its payloads
// arrive on.
func eventChan(c *Client, event string) <-chan any {
	ch := make(chan any, 8)
	c.On(event, func(payload any) {
		ch <- payload
	})
	return ch
}

// waitEvent blocks until a payload arrives on ch or the test times out.
func waitEvent(t *testing.T, ch <-chan any, name string) any {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", name)
		return nil
	}
}
