package engine

import (
	"time"

	"github.com/seantiz/ember/internal/task"
)

// Shutdown step names, in execution order.
const (
	StepContent        = "content"
	StepLayout         = "layout"
	StepRenderer       = "renderer"
	StepImageCache     = "image_cache"
	StepResourceLoader = "resource_loader"
)

// shutdown stops every subsystem in order and acknowledges on ack. Producers
// of new work (Content, Layout) are told first. The Renderer is the only step
// waited on: it may still be reading image and layout data, so the image
// cache and resource loader are not torn down until it confirms.
func (e *Engine) shutdown(from uint64, ack chan<- Exited, abandoned int) {
	e.logger.Info("engine exiting", "endpoint", from, "abandoned", abandoned)

	e.step(StepContent, func() {
		e.content.Send(task.ContentExitMsg{})
	})
	e.step(StepLayout, func() {
		e.layout.Send(task.LayoutExitMsg{})
	})
	e.step(StepRenderer, e.stopRenderer)
	e.step(StepImageCache, e.images.Exit)
	e.step(StepResourceLoader, func() {
		e.resources.Send(task.ResourceExitMsg{})
	})

	abandonedTotal.Add(float64(abandoned))

	// Endpoints still held by other clients observe ErrEngineExited from here on.
	close(e.done)

	ex := Exited{Abandoned: abandoned, At: time.Now().UTC()}
	e.broker.Publish(Event{Type: EventExited, Endpoint: from, Abandoned: abandoned})
	e.broker.Close()
	ack <- ex

	e.logger.Info("engine exited", "endpoint", from)
}

// stopRenderer sends the Renderer its exit message and blocks for the reply.
func (e *Engine) stopRenderer() {
	reply := make(chan struct{}, 1)
	e.renderer.Send(task.RendererExitMsg{Reply: reply})

	if e.rendererExitTimeout <= 0 {
		<-reply
		return
	}

	timer := time.NewTimer(e.rendererExitTimeout)
	defer timer.Stop()
	select {
	case <-reply:
	case <-timer.C:
		rendererExitTimeouts.Inc()
		e.logger.Warn("renderer did not acknowledge exit, continuing shutdown",
			"timeout", e.rendererExitTimeout.String(),
		)
	}
}

func (e *Engine) step(name string, fn func()) {
	start := time.Now()
	fn()
	shutdownStepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	e.logger.Debug("shutdown step complete", "step", name)
	e.broker.Publish(Event{Type: EventShutdownStep, Step: name})
}
