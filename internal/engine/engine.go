package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/seantiz/ember/internal/task"
)

var (
	// ErrNotStarted is returned by Connect before Start.
	ErrNotStarted = errors.New("engine not started")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("engine already started")
)

// Option configures an Engine.
type Option func(*Engine)

// WithRendererExitTimeout bounds the wait for the Renderer's exit
// acknowledgment. When it elapses the shutdown proceeds without it. Zero, the
// default, waits forever.
func WithRendererExitTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.rendererExitTimeout = d
	}
}

// Engine is the browser engine supervisor. It exclusively owns one handle to
// each subsystem; once Start is called the handles are only touched by the
// supervisor loop.
type Engine struct {
	sink      task.Sink
	renderer  task.Renderer
	resources task.ResourceLoader
	images    task.ImageCache
	layout    task.Layout
	content   task.Content

	logger *slog.Logger
	broker *EventBroker

	rendererExitTimeout time.Duration

	inbox   chan request
	done    chan struct{}
	ids     atomic.Uint64
	started atomic.Bool
}

// NewEngine spawns every subsystem through sp, in dependency order, and
// returns an engine ready to Start.
func NewEngine(sink task.Sink, sp task.Spawner, logger *slog.Logger, opts ...Option) (*Engine, error) {
	h, err := sp.Spawn(sink)
	if err != nil {
		return nil, fmt.Errorf("spawn subsystems: %w", err)
	}

	e := &Engine{
		sink:      sink,
		renderer:  h.Renderer,
		resources: h.ResourceLoader,
		images:    h.ImageCache,
		layout:    h.Layout,
		content:   h.Content,
		logger:    logger,
		broker:    NewEventBroker(),
		inbox:     make(chan request),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	logger.Info("subsystems spawned",
		"viewport_width", sink.Viewport().Width,
		"viewport_height", sink.Viewport().Height,
	)
	return e, nil
}

// Broker returns the engine's event broker.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Start launches the supervisor loop and returns the first session endpoint.
// It may only be called once.
func (e *Engine) Start() (*Running, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	first := e.link().endpoint()
	pending := map[uint64]struct{}{first.id: {}}
	pendingEndpoints.Set(1)

	go e.run(pending)

	e.logger.Info("engine started", "endpoint", first.id)
	return first, nil
}

// Connect attaches an additional Running endpoint for a new client. It waits
// until the supervisor has added the endpoint to its pending set.
func (e *Engine) Connect() (*Running, error) {
	if !e.started.Load() {
		return nil, ErrNotStarted
	}

	r := e.link().endpoint()
	select {
	case e.inbox <- request{msg: attach{id: r.id}}:
		return r, nil
	case <-e.done:
		return nil, ErrEngineExited
	}
}

// Done is closed once the shutdown sequence has completed.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Exited reports whether the shutdown sequence has completed.
func (e *Engine) Exited() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *Engine) link() link {
	return link{inbox: e.inbox, done: e.done, ids: &e.ids}
}
