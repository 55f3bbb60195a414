// Package realtime provides the change-feed primitives the sync engine is
// built on: typed row events, cancellable subscriptions, and an in-process
// broker that fans events out to subscribers with per-subscription ordered
// delivery.
package realtime

import "errors"

// Kind is the row-level change kind of an event.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event is one committed row-level change. Row is the row snapshot after the
// change (for deletes, the deleted row). Delivery order is only guaranteed
// within a single subscription; consumers must reconcile each event
// independently and tolerate duplicate re-delivery after a reconnect.
type Event[T any] struct {
	Kind Kind
	Row  T
}

// Handler consumes events for one subscription. Handlers for the same
// subscription are never invoked concurrently.
type Handler[T any] func(Event[T])

// Filter decides whether a subscription receives a row. A nil Filter matches
// every row.
type Filter[T any] func(T) bool

// ErrDisconnected reports that the transport under a subscription dropped.
var ErrDisconnected = errors.New("realtime: subscription disconnected")

// Subscription is a live handle on a change feed or presence channel.
type Subscription interface {
	// Unsubscribe stops delivery and releases the underlying channel.
	// Safe to call multiple times.
	Unsubscribe()
	// Disconnected is closed when the underlying transport drops. State
	// consumers freeze at the last applied event; reconnection is the
	// caller's responsibility.
	Disconnected() <-chan struct{}
}
