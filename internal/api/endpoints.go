package api

import (
	"errors"
	"sync"

	"github.com/seantiz/ember/internal/engine"
)

var (
	errEndpointBusy    = errors.New("session endpoint in use")
	errEndpointMissing = errors.New("session has no live endpoint")
)

// endpoints holds the live protocol endpoint of each open session. An
// endpoint is taken out while a request uses it and put back as its
// continuation, so a session never has two requests in flight.
type endpoints struct {
	mu    sync.Mutex
	live  map[string]*engine.Running
	inUse map[string]bool
}

func newEndpoints() *endpoints {
	return &endpoints{
		live:  make(map[string]*engine.Running),
		inUse: make(map[string]bool),
	}
}

// add registers a fresh endpoint for a new session.
func (e *endpoints) add(id string, r *engine.Running) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live[id] = r
}

// take removes the session's endpoint for exclusive use.
func (e *endpoints) take(id string) (*engine.Running, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inUse[id] {
		return nil, errEndpointBusy
	}
	r, ok := e.live[id]
	if !ok {
		return nil, errEndpointMissing
	}
	delete(e.live, id)
	e.inUse[id] = true
	return r, nil
}

// put returns a continuation endpoint after a take.
func (e *endpoints) put(id string, r *engine.Running) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inUse, id)
	e.live[id] = r
}

// release ends a take without returning an endpoint.
func (e *endpoints) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inUse, id)
}

// clear forgets every endpoint. Used once the engine has exited.
func (e *endpoints) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.live)
	clear(e.inUse)
}
