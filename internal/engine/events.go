package engine

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Event types published by the supervisor.
const (
	EventAttached     = "attached"
	EventNavigation   = "navigation"
	EventShutdownStep = "shutdown_step"
	EventExited       = "exited"
)

// Event describes something the supervisor did.
type Event struct {
	Type      string    `json:"type"`
	Endpoint  uint64    `json:"endpoint,omitempty"`
	URL       string    `json:"url,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Step      string    `json:"step,omitempty"`
	Abandoned int       `json:"abandoned,omitempty"`
	At        time.Time `json:"at"`
}

// EventBroker fans supervisor events out to subscribers. It is safe for
// concurrent use. Publishing never blocks the supervisor: events are dropped
// for subscribers whose buffers are full.
//
// After Close, every subscriber channel is closed and late subscribers
// receive an already-closed channel.
type EventBroker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		subs: make(map[int]chan Event),
	}
}

// Subscribe returns a channel of future events and an unsubscribe function.
func (b *EventBroker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish stamps ev and sends it to all subscribers.
func (b *EventBroker) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close signals that no more events will be published.
func (b *EventBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
