package engine

import (
	"fmt"
	"net/url"
)

// request is one message arriving at the supervisor. from is the endpoint the
// message was sent on, or zero for engine-level messages.
type request struct {
	from uint64
	msg  message
}

type message interface{ isMessage() }

type loadURL struct {
	url  *url.URL
	next uint64
}

type exit struct {
	ack chan<- Exited
}

// attach adds a new endpoint to the pending set without consuming one.
type attach struct {
	id uint64
}

func (loadURL) isMessage() {}
func (exit) isMessage()    {}
func (attach) isMessage()  {}

// run is the supervisor loop. pending holds the endpoints that may still send
// exactly one message. The loop ends after the first Exit.
func (e *Engine) run(pending map[uint64]struct{}) {
	defer e.logger.Info("engine loop stopped")

	for {
		req := <-e.inbox
		if !e.handleRequest(pending, req) {
			return
		}
	}
}

// handleRequest processes one message and reports whether the loop continues.
// A message on an endpoint outside the pending set, or of an unknown type, is
// a protocol violation and panics.
func (e *Engine) handleRequest(pending map[uint64]struct{}, req request) bool {
	if a, ok := req.msg.(attach); ok {
		pending[a.id] = struct{}{}
		pendingEndpoints.Set(float64(len(pending)))
		e.logger.Debug("endpoint attached", "endpoint", a.id)
		e.broker.Publish(Event{Type: EventAttached, Endpoint: a.id})
		return true
	}

	if _, ok := pending[req.from]; !ok {
		panic(fmt.Sprintf("engine: message %T on endpoint %d which is not pending", req.msg, req.from))
	}
	delete(pending, req.from)

	switch m := req.msg.(type) {
	case loadURL:
		e.dispatch(req.from, m.url)
		pending[m.next] = struct{}{}
		pendingEndpoints.Set(float64(len(pending)))
		return true

	case exit:
		abandoned := len(pending)
		clear(pending)
		pendingEndpoints.Set(0)
		e.shutdown(req.from, m.ack, abandoned)
		return false

	default:
		panic(fmt.Sprintf("engine: unexpected protocol message %T", req.msg))
	}
}
