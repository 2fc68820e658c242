package task

import "sync"

// Mailbox is an unbounded FIFO inbox for a subsystem actor. Send hands the
// message to a pump goroutine and never waits for the actor to catch up, so a
// fire-and-forget send cannot stall the sender. Messages are delivered on
// Receive in the order they were sent.
//
// Once Stop is called, queued and later messages are dropped. A mailbox
// created with NewMailboxWithDrop hands every dropped message to its drop
// function, so requests carrying a reply channel can still be answered.
type Mailbox[M any] struct {
	in       chan M
	out      chan M
	stop     chan struct{}
	stopOnce sync.Once
	drop     func(M)
}

// NewMailbox creates a mailbox and starts its pump.
func NewMailbox[M any]() *Mailbox[M] {
	return NewMailboxWithDrop[M](nil)
}

// NewMailboxWithDrop creates a mailbox whose dropped messages are passed to
// drop. drop may be called from any goroutine that sends.
func NewMailboxWithDrop[M any](drop func(M)) *Mailbox[M] {
	m := &Mailbox[M]{
		in:   make(chan M),
		out:  make(chan M),
		stop: make(chan struct{}),
		drop: drop,
	}
	go m.pump()
	return m
}

// Send enqueues msg. It returns immediately if the mailbox is stopped.
func (m *Mailbox[M]) Send(msg M) {
	select {
	case m.in <- msg:
	case <-m.stop:
		m.discard(msg)
	}
}

func (m *Mailbox[M]) discard(msg M) {
	if m.drop != nil {
		m.drop(msg)
	}
}

// Receive returns the channel the actor reads messages from.
func (m *Mailbox[M]) Receive() <-chan M {
	return m.out
}

// Stop discards queued messages and makes later sends no-ops. It is safe to
// call more than once.
func (m *Mailbox[M]) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Stopped is closed once Stop has been called.
func (m *Mailbox[M]) Stopped() <-chan struct{} {
	return m.stop
}

func (m *Mailbox[M]) pump() {
	var queue []M
	for {
		var (
			out  chan M
			next M
		)
		if len(queue) > 0 {
			out = m.out
			next = queue[0]
		}

		select {
		case msg := <-m.in:
			queue = append(queue, msg)
		case out <- next:
			var zero M
			queue[0] = zero
			queue = queue[1:]
		case <-m.stop:
			for _, msg := range queue {
				m.discard(msg)
			}
			return
		}
	}
}
