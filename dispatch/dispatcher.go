package dispatch

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the event queue capacity used when the caller
// passes a non-positive size to New.
const DefaultQueueSize = 256

// Handler receives the payload of one emitted event.
type Handler func(payload any)

// Subscription identifies one registered handler so it can be removed.
// Go functions are not comparable, so removal is by handle rather than
// by function identity.
type Subscription struct {
	event string
	id    uint64
}

type registration struct {
	id      uint64
	handler Handler
}

type event struct {
	name    string
	payload any
}

// Dispatcher is a per-connection event fan-out. It is safe for
// concurrent use; each Client owns its own instance.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string][]registration
	nextID   uint64
	queue    chan event
	done     chan struct{}
	closing  sync.Once
	wg       sync.WaitGroup
}

// New creates a dispatcher and starts its delivery goroutine.
func New(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		handlers: make(map[string][]registration),
		queue:    make(chan event, queueSize),
		done:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// On registers a handler for an event. Handlers run in registration
// order.
func (d *Dispatcher) On(name string, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.handlers[name] = append(d.handlers[name], registration{id: d.nextID, handler: h})
	return Subscription{event: name, id: d.nextID}
}

// Off removes a previously registered handler. Unknown subscriptions are
// ignored.
func (d *Dispatcher) Off(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.handlers[sub.event]
	for i, reg := range regs {
		if reg.id == sub.id {
			d.handlers[sub.event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Emit enqueues an event for delivery. It never blocks: when the queue
// is full the event is dropped and logged, which keeps the read loop
// live under a handler stall.
func (d *Dispatcher) Emit(name string, payload any) {
	select {
	case <-d.done:
		return
	default:
	}

	select {
	case d.queue <- event{name: name, payload: payload}:
	default:
		logrus.WithFields(logrus.Fields{
			"package": "dispatch",
			"event":   name,
		}).Warn("event queue full, dropping event")
	}
}

// Close stops delivery. Events already queued are delivered before the
// delivery goroutine exits. Idempotent.
func (d *Dispatcher) Close() {
	d.closing.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.done:
			// Drain what was queued before shutdown.
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev event) {
	d.mu.Lock()
	regs := make([]registration, len(d.handlers[ev.name]))
	copy(regs, d.handlers[ev.name])
	d.mu.Unlock()

	for _, reg := range regs {
		d.invoke(ev.name, reg.handler, ev.payload)
	}
}

// invoke runs one handler, isolating its failure from the rest of the
// delivery chain.
func (d *Dispatcher) invoke(name string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"package": "dispatch",
				"event":   name,
				"panic":   r,
			}).Error("event handler panicked")
		}
	}()
	h(payload)
}
