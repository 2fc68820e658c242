// Package tasktest provides recording fakes of the engine's subsystems for use
// in tests. Every message sent to any fake is appended to a single ordered
// log, so tests can assert on cross-subsystem ordering.
package tasktest

import (
	"errors"
	"sync"
	"time"

	"github.com/seantiz/ember/internal/task"
)

// Event names recorded by the fakes.
const (
	ContentParse       = "content.parse"
	ContentExecute     = "content.execute"
	ContentExit        = "content.exit"
	LayoutBuild        = "layout.build"
	LayoutExit         = "layout.exit"
	RendererRender     = "renderer.render"
	RendererExit       = "renderer.exit"
	RendererAck        = "renderer.ack"
	ImageCachePrefetch = "imagecache.prefetch"
	ImageCacheGet      = "imagecache.get"
	ImageCacheExit     = "imagecache.exit"
	ResourceLoad       = "resource.load"
	ResourceExit       = "resource.exit"
)

// ErrFake is returned in replies from fakes that have nothing real to offer.
var ErrFake = errors.New("tasktest: fake subsystem")

// Event is one recorded message.
type Event struct {
	Name string
	URL  string
	At   time.Time
}

// Recorder records every message sent to its fake subsystems.
type Recorder struct {
	// RendererHold, if non-nil, must be closed before the fake renderer
	// acknowledges an exit.
	RendererHold chan struct{}

	// RendererNoAck makes the fake renderer never acknowledge an exit.
	RendererNoAck bool

	mu      sync.Mutex
	events  []Event
	spawned []string
	changed chan struct{}
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{})}
}

func (r *Recorder) record(name, u string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, URL: u, At: time.Now()})
	close(r.changed)
	r.changed = make(chan struct{})
}

// Events returns a copy of the recorded events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the names of the recorded events in order.
func (r *Recorder) Names() []string {
	events := r.Events()
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

// Count returns how many events with the given name were recorded.
func (r *Recorder) Count(name string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Name == name {
			n++
		}
	}
	return n
}

// WaitFor blocks until at least n events with the given name have been
// recorded or the timeout elapses. It reports whether the count was reached.
func (r *Recorder) WaitFor(name string, n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		count := 0
		for _, e := range r.events {
			if e.Name == name {
				count++
			}
		}
		changed := r.changed
		r.mu.Unlock()

		if count >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

// SpawnOrder returns the subsystems in the order the spawner constructed them.
func (r *Recorder) SpawnOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.spawned))
	copy(out, r.spawned)
	return out
}

func (r *Recorder) spawn(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spawned = append(r.spawned, name)
}

// Spawner returns a spawner that constructs the recorder's fakes.
func (r *Recorder) Spawner() task.Spawner {
	return task.Spawner{
		Renderer: func(task.Sink) task.Renderer {
			r.spawn("renderer")
			return &renderer{r: r}
		},
		ResourceLoader: func() task.ResourceLoader {
			r.spawn("resource")
			return &resources{r: r}
		},
		ImageCache: func(task.ResourceLoader) task.ImageCache {
			r.spawn("imagecache")
			return &images{r: r}
		},
		Layout: func(task.Renderer, task.ImageCache) task.Layout {
			r.spawn("layout")
			return &layout{r: r}
		},
		Content: func(task.Layout, task.Sink, task.ResourceLoader) task.Content {
			r.spawn("content")
			return &content{r: r}
		},
	}
}

type content struct{ r *Recorder }

func (c *content) Send(msg task.ContentMsg) {
	switch m := msg.(type) {
	case task.ParseMsg:
		c.r.record(ContentParse, m.URL.String())
	case task.ExecuteMsg:
		c.r.record(ContentExecute, m.URL.String())
	case task.ContentExitMsg:
		c.r.record(ContentExit, "")
	}
}

type layout struct{ r *Recorder }

func (l *layout) Send(msg task.LayoutMsg) {
	switch msg.(type) {
	case task.BuildMsg:
		l.r.record(LayoutBuild, "")
	case task.LayoutExitMsg:
		l.r.record(LayoutExit, "")
	}
}

type renderer struct{ r *Recorder }

func (rd *renderer) Send(msg task.RendererMsg) {
	switch m := msg.(type) {
	case task.RenderMsg:
		rd.r.record(RendererRender, m.Frame.URL)
	case task.RendererExitMsg:
		rd.r.record(RendererExit, "")
		if rd.r.RendererNoAck {
			return
		}
		go func() {
			if rd.r.RendererHold != nil {
				<-rd.r.RendererHold
			}
			rd.r.record(RendererAck, "")
			m.Reply <- struct{}{}
		}()
	}
}

type resources struct{ r *Recorder }

func (rs *resources) Send(msg task.ResourceMsg) {
	switch m := msg.(type) {
	case task.LoadMsg:
		rs.r.record(ResourceLoad, m.URL.String())
		m.Reply <- task.LoadResult{URL: m.URL, Err: ErrFake}
	case task.ResourceExitMsg:
		rs.r.record(ResourceExit, "")
	}
}

type images struct{ r *Recorder }

func (im *images) Send(msg task.ImageCacheMsg) {
	switch m := msg.(type) {
	case task.PrefetchMsg:
		im.r.record(ImageCachePrefetch, m.URL.String())
	case task.GetImageMsg:
		im.r.record(ImageCacheGet, m.URL.String())
		m.Reply <- task.ImageResult{URL: m.URL.String(), Err: ErrFake}
	case task.ImageCacheExitMsg:
		im.r.record(ImageCacheExit, "")
		close(m.Done)
	}
}

func (im *images) Exit() {
	im.r.record(ImageCacheExit, "")
}

// Sink is an in-memory sink that keeps every presented frame.
type Sink struct {
	Size task.Size

	mu     sync.Mutex
	frames []task.Frame
	err    error
}

// NewSink creates a sink with the given viewport.
func NewSink(width, height int) *Sink {
	return &Sink{Size: task.Size{Width: width, Height: height}}
}

// Viewport implements task.Sink.
func (s *Sink) Viewport() task.Size { return s.Size }

// Present implements task.Sink.
func (s *Sink) Present(f task.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

// Fail makes later Present calls return err.
func (s *Sink) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Frames returns a copy of the presented frames.
func (s *Sink) Frames() []task.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}
