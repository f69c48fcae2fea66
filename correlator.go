package gomax

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/gomax/protocol"
)

// Correlator multiplexes concurrent requests over one connection. It
// assigns each outgoing request a sequence number, parks the caller on a
// completion slot, and resolves the slot when the supervisor's read loop
// delivers the matching response.
//
// Sequence numbers are monotonic int64: for any realistic session
// lifetime they never wrap, so a live seq is never reused. A Correlator
// belongs to exactly one transport instance and is shut down with it.
type Correlator struct {
	mu      sync.Mutex
	pending map[int64]chan *protocol.Response
	nextSeq int64

	ver     int
	timeout time.Duration
	send    func([]byte) error

	done     chan struct{}
	shutOnce sync.Once
}

func newCorrelator(ver int, timeout time.Duration, send func([]byte) error) *Correlator {
	return &Correlator{
		pending: make(map[int64]chan *protocol.Response),
		ver:     ver,
		timeout: timeout,
		send:    send,
		done:    make(chan struct{}),
	}
}

// Call sends a request and blocks until the matching response, the call
// timeout, context cancellation, or connection shutdown. Concurrent
// callers are independent. A request already handed to the server is not
// cancelled mid-flight; the caller merely stops waiting.
func (c *Correlator) Call(ctx context.Context, opcode protocol.Opcode, payload any) (json.RawMessage, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	seq, slot, err := c.register()
	if err != nil {
		return nil, err
	}

	if err := c.dispatch(seq, opcode, raw); err != nil {
		c.unregister(seq)
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-slot:
		if resp.IsError() {
			return nil, newServerError(opcode, resp.Payload)
		}
		return resp.Payload, nil
	case <-timer.C:
		c.unregister(seq)
		return nil, fmt.Errorf("%w (opcode %d, seq %d)", ErrCallTimeout, opcode, seq)
	case <-ctx.Done():
		c.unregister(seq)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnectionClosed
	}
}

// Notify sends a fire-and-forget request the server never answers, such
// as the device hello or navigation events. A sequence number is still
// consumed so the wire counter stays monotonic.
func (c *Correlator) Notify(opcode protocol.Opcode, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	c.mu.Lock()
	c.nextSeq++
	seq := c.nextSeq
	c.mu.Unlock()

	return c.dispatch(seq, opcode, raw)
}

// Resolve delivers a response to the waiter registered for its sequence
// number. Resolution is idempotent: a duplicate response for an already
// resolved (or timed out) seq is dropped and logged, never re-delivered.
func (c *Correlator) Resolve(resp *protocol.Response) bool {
	c.mu.Lock()
	slot, ok := c.pending[resp.Seq]
	if ok {
		delete(c.pending, resp.Seq)
	}
	c.mu.Unlock()

	if !ok {
		logrus.WithFields(logrus.Fields{
			"package": "gomax",
			"seq":     resp.Seq,
			"opcode":  resp.Opcode,
		}).Warn("response without pending request dropped")
		return false
	}

	slot <- resp
	return true
}

// Shutdown rejects every pending call with ErrConnectionClosed, exactly
// once each, and refuses new calls. Idempotent.
func (c *Correlator) Shutdown() {
	c.shutOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		n := len(c.pending)
		c.pending = make(map[int64]chan *protocol.Response)
		c.mu.Unlock()
		if n > 0 {
			logrus.WithFields(logrus.Fields{
				"package": "gomax",
				"pending": n,
			}).Debug("rejected pending calls on shutdown")
		}
	})
}

// PendingCount reports the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) register() (int64, chan *protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Checked under the mutex: Shutdown closes done before it clears the
	// pending map, so a registration that slips past this check is still
	// swept by the clear, never stranded.
	select {
	case <-c.done:
		return 0, nil, ErrConnectionClosed
	default:
	}

	c.nextSeq++
	seq := c.nextSeq
	slot := make(chan *protocol.Response, 1)
	c.pending[seq] = slot
	return seq, slot, nil
}

func (c *Correlator) unregister(seq int64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *Correlator) dispatch(seq int64, opcode protocol.Opcode, payload json.RawMessage) error {
	data, err := protocol.EncodeRequest(&protocol.Request{
		Ver:     c.ver,
		Cmd:     protocol.CmdRequest,
		Seq:     seq,
		Opcode:  opcode,
		Payload: payload,
	})
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"package": "gomax",
		"seq":     seq,
		"opcode":  opcode,
	}).Debug("sending request")

	if err := c.send(data); err != nil {
		return fmt.Errorf("send request (opcode %d): %w", opcode, err)
	}
	return nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return p, nil
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return raw, nil
	}
}
