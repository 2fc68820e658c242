// Package renderer implements the Renderer subsystem. It numbers the frames
// Layout produces and presents them to the sink in the order they arrive.
package renderer

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/ember/internal/task"
)

var framesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ember_frames_presented_total",
		Help: "Total number of frames handed to the sink, by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(framesTotal)
	framesTotal.WithLabelValues("ok")
	framesTotal.WithLabelValues("error")
}

// Renderer is the Renderer handle.
type Renderer struct {
	mb     *task.Mailbox[task.RendererMsg]
	sink   task.Sink
	logger *slog.Logger
	seq    uint64
	done   chan struct{}
}

// Start spawns the renderer actor.
func Start(sink task.Sink, logger *slog.Logger) *Renderer {
	r := &Renderer{
		mb:     task.NewMailboxWithDrop(ackLate),
		sink:   sink,
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Send implements task.Renderer.
func (r *Renderer) Send(msg task.RendererMsg) {
	r.mb.Send(msg)
}

// Done is closed once the renderer has exited.
func (r *Renderer) Done() <-chan struct{} {
	return r.done
}

// ackLate answers exit requests that arrive after the renderer stopped so the
// sender is never left waiting.
func ackLate(msg task.RendererMsg) {
	if m, ok := msg.(task.RendererExitMsg); ok {
		m.Reply <- struct{}{}
	}
}

func (r *Renderer) run() {
	defer close(r.done)

	for msg := range r.mb.Receive() {
		switch m := msg.(type) {
		case task.RenderMsg:
			r.present(m.Frame)
		case task.RendererExitMsg:
			r.mb.Stop()
			r.logger.Debug("renderer exited", "frames", r.seq)
			m.Reply <- struct{}{}
			return
		}
	}
}

func (r *Renderer) present(f task.Frame) {
	r.seq++
	f.Seq = r.seq
	if err := r.sink.Present(f); err != nil {
		framesTotal.WithLabelValues("error").Inc()
		r.logger.Warn("present frame failed", "seq", f.Seq, "url", f.URL, "error", err)
		return
	}
	framesTotal.WithLabelValues("ok").Inc()
	r.logger.Debug("frame presented", "seq", f.Seq, "url", f.URL, "items", len(f.Items))
}
