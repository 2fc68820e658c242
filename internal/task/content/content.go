// Package content implements the Content subsystem. A parse command fetches
// a document, turns it into a task.Document, hands it to Layout and then runs
// the page's scripts. An execute command fetches and runs a single script.
package content

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/ember/internal/task"
)

const defaultScriptTimeout = 5 * time.Second

var (
	documentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_documents_total",
			Help: "Total number of documents handled by content, by result.",
		},
		[]string{"result"},
	)
	scriptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_scripts_total",
			Help: "Total number of scripts run, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(documentsTotal, scriptsTotal)
	for _, r := range []string{"ok", "error"} {
		documentsTotal.WithLabelValues(r)
	}
	for _, r := range []string{"ok", "error", "timeout"} {
		scriptsTotal.WithLabelValues(r)
	}
}

// Options configures Content.
type Options struct {
	// ScriptTimeout bounds each script run. Zero uses the default.
	ScriptTimeout time.Duration
}

// Content is the Content handle.
type Content struct {
	mb        *task.Mailbox[task.ContentMsg]
	layout    task.Layout
	sink      task.Sink
	resources task.ResourceLoader
	timeout   time.Duration
	logger    *slog.Logger
	done      chan struct{}
}

// Start spawns the content actor.
func Start(opts Options, layout task.Layout, sink task.Sink, resources task.ResourceLoader, logger *slog.Logger) *Content {
	timeout := opts.ScriptTimeout
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	c := &Content{
		mb:        task.NewMailbox[task.ContentMsg](),
		layout:    layout,
		sink:      sink,
		resources: resources,
		timeout:   timeout,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

// Send implements task.Content.
func (c *Content) Send(msg task.ContentMsg) {
	c.mb.Send(msg)
}

// Done is closed once content has exited.
func (c *Content) Done() <-chan struct{} {
	return c.done
}

func (c *Content) run() {
	defer close(c.done)

	for msg := range c.mb.Receive() {
		switch m := msg.(type) {
		case task.ParseMsg:
			if err := c.parse(m.URL); err != nil {
				documentsTotal.WithLabelValues("error").Inc()
				c.logger.Warn("parse failed", "url", m.URL.String(), "error", err)
				continue
			}
			documentsTotal.WithLabelValues("ok").Inc()
		case task.ExecuteMsg:
			c.execute(m.URL)
		case task.ContentExitMsg:
			c.mb.Stop()
			c.logger.Debug("content exited")
			return
		}
	}
}

func (c *Content) parse(u *url.URL) error {
	res := c.fetch(u)
	if res.Err != nil {
		return res.Err
	}

	doc, err := ParseDocument(u, res.Body)
	if err != nil {
		return err
	}
	c.logger.Debug("document parsed",
		"url", u.String(),
		"blocks", len(doc.Blocks),
		"images", len(doc.Images),
		"scripts", len(doc.Scripts),
	)

	c.layout.Send(task.BuildMsg{Document: doc, Viewport: c.sink.Viewport()})

	if len(doc.Scripts) == 0 {
		return nil
	}
	env := newScriptEnv(u.String(), doc.Title, c.timeout, c.logger)
	for i, s := range doc.Scripts {
		name := fmt.Sprintf("%s#inline-%d", u.String(), i)
		src := s.Text
		if s.Src != nil {
			name = s.Src.String()
			res := c.fetch(s.Src)
			if res.Err != nil {
				scriptsTotal.WithLabelValues("error").Inc()
				c.logger.Warn("script fetch failed", "url", name, "error", res.Err)
				continue
			}
			src = string(res.Body)
		}
		c.runScript(env, name, src)
	}
	return nil
}

func (c *Content) execute(u *url.URL) {
	res := c.fetch(u)
	if res.Err != nil {
		scriptsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("script fetch failed", "url", u.String(), "error", res.Err)
		return
	}
	env := newScriptEnv(u.String(), "", c.timeout, c.logger)
	c.runScript(env, u.String(), string(res.Body))
}

func (c *Content) runScript(env *scriptEnv, name, src string) {
	err := env.run(name, src)
	switch {
	case err == nil:
		scriptsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrScriptTimeout):
		scriptsTotal.WithLabelValues("timeout").Inc()
		c.logger.Warn("script interrupted", "script", name, "timeout", c.timeout)
	default:
		scriptsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("script failed", "script", name, "error", err)
	}
}

// fetch asks the ResourceLoader for u and waits for the answer. The loader
// answers every request, including ones it receives after exiting.
func (c *Content) fetch(u *url.URL) task.LoadResult {
	reply := make(chan task.LoadResult, 1)
	c.resources.Send(task.LoadMsg{URL: u, Reply: reply})
	return <-reply
}
