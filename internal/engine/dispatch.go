package engine

import (
	"net/url"
	"strings"

	"github.com/seantiz/ember/internal/model"
	"github.com/seantiz/ember/internal/task"
)

// Classify decides how Content treats u: paths ending in ".js" are executed
// as scripts, everything else is parsed as a document.
func Classify(u *url.URL) string {
	if strings.HasSuffix(u.Path, ".js") {
		return model.KindExecute
	}
	return model.KindParse
}

// dispatch forwards a navigation to Content without waiting for it.
func (e *Engine) dispatch(from uint64, u *url.URL) {
	kind := Classify(u)
	if kind == model.KindExecute {
		e.content.Send(task.ExecuteMsg{URL: u})
	} else {
		e.content.Send(task.ParseMsg{URL: u})
	}

	navigationsTotal.WithLabelValues(kind).Inc()
	e.logger.Info("navigation dispatched", "endpoint", from, "url", u.String(), "kind", kind)
	e.broker.Publish(Event{Type: EventNavigation, Endpoint: from, URL: u.String(), Kind: kind})
}
