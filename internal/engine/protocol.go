package engine

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrEndpointConsumed is returned when a Running endpoint is used twice.
	ErrEndpointConsumed = errors.New("session endpoint already used")

	// ErrEngineExited is returned when an endpoint is used after another
	// client's Exit has been processed.
	ErrEngineExited = errors.New("engine has exited")

	// ErrNilURL is returned by LoadURL when given a nil URL.
	ErrNilURL = errors.New("nil url")
)

// link is the connection every endpoint shares with the supervisor loop.
type link struct {
	inbox chan<- request
	done  <-chan struct{}
	ids   *atomic.Uint64
}

func (l link) endpoint() *Running {
	return &Running{id: l.ids.Add(1), link: l}
}

// Running is a one-shot session endpoint. Exactly one of LoadURL or Exit may
// be called on it; LoadURL hands back the endpoint to use next.
type Running struct {
	id   uint64
	link link
	used atomic.Bool
}

// ID returns the endpoint's identifier, unique within one engine.
func (r *Running) ID() uint64 {
	return r.id
}

// LoadURL asks the engine to navigate to u and returns the continuation
// endpoint. The receiver is consumed. The call does not wait for Content.
func (r *Running) LoadURL(u *url.URL) (*Running, error) {
	if u == nil {
		return nil, ErrNilURL
	}
	if !r.used.CompareAndSwap(false, true) {
		return nil, ErrEndpointConsumed
	}

	next := r.link.endpoint()
	cp := *u
	if err := r.send(loadURL{url: &cp, next: next.id}); err != nil {
		return nil, err
	}
	return next, nil
}

// Exit asks the engine to shut down. The receiver is consumed and no
// continuation exists; wait on the returned Exiting for the acknowledgment.
func (r *Running) Exit() (*Exiting, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, ErrEndpointConsumed
	}

	ack := make(chan Exited, 1)
	if err := r.send(exit{ack: ack}); err != nil {
		return nil, err
	}
	return &Exiting{ack: ack, received: make(chan struct{})}, nil
}

func (r *Running) send(m message) error {
	select {
	case r.link.inbox <- request{from: r.id, msg: m}:
		return nil
	case <-r.link.done:
		return ErrEngineExited
	}
}

// Exiting is the client side of a session after Exit was sent.
type Exiting struct {
	ack <-chan Exited
	// received is closed once result holds the acknowledgment.
	received chan struct{}

	mu     sync.Mutex
	result Exited
}

// Wait blocks until the engine has completed its shutdown sequence or ctx is
// done. Once received, the acknowledgment is returned by every later call.
// Concurrent callers each give up on their own ctx.
func (x *Exiting) Wait(ctx context.Context) (Exited, error) {
	select {
	case <-x.received:
		return x.stored(), nil
	default:
	}

	select {
	case ex := <-x.ack:
		x.mu.Lock()
		x.result = ex
		x.mu.Unlock()
		close(x.received)
		return ex, nil
	case <-x.received:
		return x.stored(), nil
	case <-ctx.Done():
		return Exited{}, ctx.Err()
	}
}

func (x *Exiting) stored() Exited {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.result
}

// Exited is the terminal acknowledgment. No further messages are meaningful
// on the session that received it.
type Exited struct {
	// Abandoned is the number of other pending endpoints that were dropped
	// when this exit won.
	Abandoned int       `json:"abandoned"`
	At        time.Time `json:"at"`
}
