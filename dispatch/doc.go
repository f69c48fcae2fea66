// Package dispatch fans inbound events out to registered handlers.
//
// Handlers for one event run sequentially in registration order, and
// events are delivered in the order they were emitted. Delivery happens
// on a dedicated goroutine fed by a bounded queue, so a slow handler can
// never stall the connection's read loop; if the queue fills up the
// event is dropped with a warning. A panicking handler is recovered and
// logged without affecting the handlers after it.
package dispatch
