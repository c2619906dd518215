// Package events provides a small in-process publish/subscribe bus used to
// decouple the directory server and client session state machines from
// observers such as logging and metrics.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// Type identifies the kind of notification carried by an Event.
type Type int

const (
	// ClientRegistered fires when a client's IDENT is accepted.
	ClientRegistered Type = iota
	// ClientInformed fires after a client's INFORM is applied to the index.
	ClientInformed
	// ClientQueried fires after a QUERY is answered.
	ClientQueried
	// ClientRemovedFiles fires after a REMOVE is applied.
	ClientRemovedFiles
	// ClientExited fires when a client sends EXIT.
	ClientExited
	// ClientEvicted fires when the activity-timeout sweep drops a client.
	ClientEvicted
	// FileTransferCompleted fires when a peer file GET finishes, successfully or not.
	FileTransferCompleted
)

// Event is a single notification distributed to subscribed Handlers.
type Event struct {
	// ID uniquely identifies this occurrence, for correlating log lines
	// and metrics emitted by different handlers for the same event.
	ID       string
	Type     Type
	HostID   string
	HostIP   string
	Detail   string
	Count    int
	Err      error
}

// Handler receives published Events. A Handler must not block for long:
// it runs synchronously on the publisher's goroutine.
type Handler func(Event)

// Bus fans out published Events to every Handler subscribed to its Type.
// A Handler that panics is recovered by the Bus itself and reported to its
// onPanic callback, so a single misbehaving observer can never take down
// the publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	onPanic  func(Type, any)
}

// NewBus creates an empty Bus. onPanic, if non-nil, is invoked (off the
// publisher's critical section) whenever a Handler panics; it defaults to
// a no-op so Bus never requires a logger to function.
func NewBus(onPanic func(Type, any)) *Bus {
	if onPanic == nil {
		onPanic = func(Type, any) {}
	}
	return &Bus{
		handlers: make(map[Type][]Handler),
		onPanic:  onPanic,
	}
}

// Subscribe registers handler to be invoked for every Event of the given Type.
func (b *Bus) Subscribe(t Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], handler)
}

// Publish assigns the event an ID if it doesn't already have one, then
// synchronously invokes every Handler subscribed to its Type.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, e)
	}
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.onPanic(e.Type, r)
		}
	}()
	h(e)
}
