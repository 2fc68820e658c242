// Package layout implements the Layout subsystem. It turns parsed documents
// into positioned display lists and hands them to the Renderer.
package layout

import (
	"log/slog"
	"net/url"

	"github.com/seantiz/ember/internal/task"
)

// Layout is the Layout handle.
type Layout struct {
	mb       *task.Mailbox[task.LayoutMsg]
	renderer task.Renderer
	images   task.ImageCache
	logger   *slog.Logger
	done     chan struct{}
}

// Start spawns the layout actor.
func Start(renderer task.Renderer, images task.ImageCache, logger *slog.Logger) *Layout {
	l := &Layout{
		mb:       task.NewMailbox[task.LayoutMsg](),
		renderer: renderer,
		images:   images,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

// Send implements task.Layout.
func (l *Layout) Send(msg task.LayoutMsg) {
	l.mb.Send(msg)
}

// Done is closed once layout has exited.
func (l *Layout) Done() <-chan struct{} {
	return l.done
}

func (l *Layout) run() {
	defer close(l.done)

	for msg := range l.mb.Receive() {
		switch m := msg.(type) {
		case task.BuildMsg:
			l.build(m)
		case task.LayoutExitMsg:
			l.mb.Stop()
			l.logger.Debug("layout exited")
			return
		}
	}
}

func (l *Layout) build(m task.BuildMsg) {
	if m.Document == nil {
		return
	}
	for _, u := range m.Document.Images {
		l.images.Send(task.PrefetchMsg{URL: u})
	}

	frame := Flow(m.Document, m.Viewport, l.image)
	l.logger.Debug("layout built", "url", frame.URL, "items", len(frame.Items))
	l.renderer.Send(task.RenderMsg{Frame: frame})
}

// image asks the cache for u and waits. The cache answers every request,
// including ones it receives after exiting.
func (l *Layout) image(u *url.URL) task.ImageResult {
	reply := make(chan task.ImageResult, 1)
	l.images.Send(task.GetImageMsg{URL: u, Reply: reply})
	res := <-reply
	if res.Err != nil {
		l.logger.Debug("image unavailable", "url", u.String(), "error", res.Err)
	}
	return res
}
