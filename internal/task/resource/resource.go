// Package resource implements the ResourceLoader subsystem: it fetches the
// bytes behind http, https, file and about URLs on behalf of the other
// subsystems. Every load runs on its own goroutine and answers on the reply
// channel carried by the request.
package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/ember/internal/task"
)

const (
	defaultUserAgent    = "ember/0.1"
	defaultFetchTimeout = 30 * time.Second
	defaultMaxBodyBytes = 16 << 20
)

var (
	// ErrUnsupportedScheme is returned for URL schemes the loader cannot fetch.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")

	// ErrTooLarge is returned when a body exceeds the configured limit.
	ErrTooLarge = errors.New("resource exceeds size limit")

	// ErrExited is returned for loads cancelled by the loader's exit.
	ErrExited = errors.New("resource loader exited")
)

var loadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ember_resource_loads_total",
		Help: "Total number of resource loads, by scheme and result.",
	},
	[]string{"scheme", "result"},
)

func init() {
	prometheus.MustRegister(loadsTotal)
}

// Options configures the loader.
type Options struct {
	UserAgent    string
	FetchTimeout time.Duration
	MaxBodyBytes int64
	Client       *http.Client
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = defaultFetchTimeout
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	return o
}

// Loader is the ResourceLoader handle.
type Loader struct {
	mb     *task.Mailbox[task.ResourceMsg]
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// Start spawns the loader actor.
func Start(opts Options, logger *slog.Logger) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		mb:     task.NewMailboxWithDrop(rejectLoad),
		opts:   opts.withDefaults(),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Send implements task.ResourceLoader.
func (l *Loader) Send(msg task.ResourceMsg) {
	l.mb.Send(msg)
}

// Done is closed once the loader has exited and every in-flight load has
// answered.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

func (l *Loader) run() {
	defer close(l.done)

	for msg := range l.mb.Receive() {
		switch m := msg.(type) {
		case task.LoadMsg:
			l.wg.Go(func() {
				m.Reply <- l.load(m.URL)
			})
		case task.ResourceExitMsg:
			l.mb.Stop()
			l.cancel()
			l.wg.Wait()
			l.logger.Debug("resource loader exited")
			return
		}
	}
}

// rejectLoad answers loads that arrive after the loader has exited.
func rejectLoad(msg task.ResourceMsg) {
	if m, ok := msg.(task.LoadMsg); ok {
		m.Reply <- task.LoadResult{URL: m.URL, Err: ErrExited}
	}
}

func (l *Loader) load(u *url.URL) task.LoadResult {
	res := task.LoadResult{URL: u}

	switch u.Scheme {
	case "http", "https":
		res.ContentType, res.Body, res.Err = l.fetchHTTP(u)
	case "file":
		res.ContentType, res.Body, res.Err = l.readFile(u)
	case "about":
		res.ContentType = "text/html"
	default:
		res.Err = fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	result := "ok"
	if res.Err != nil {
		result = "error"
		l.logger.Warn("resource load failed", "url", u.String(), "error", res.Err)
	}
	loadsTotal.WithLabelValues(u.Scheme, result).Inc()
	return res
}

func (l *Loader) fetchHTTP(u *url.URL) (string, []byte, error) {
	ctx, cancel := context.WithTimeout(l.ctx, l.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", l.opts.UserAgent)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := l.opts.Client.Do(req)
	if err != nil {
		if l.ctx.Err() != nil {
			return "", nil, ErrExited
		}
		return "", nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", nil, fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}

	// The size limit applies to the decoded body.
	decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("decode body of %s: %w", u, err)
	}
	defer decoded.Close()

	body, err := l.readLimited(decoded)
	if err != nil {
		return "", nil, fmt.Errorf("read body of %s: %w", u, err)
	}
	return resp.Header.Get("Content-Type"), body, nil
}

func (l *Loader) readFile(u *url.URL) (string, []byte, error) {
	f, err := os.Open(u.Path)
	if err != nil {
		return "", nil, fmt.Errorf("open %s: %w", u.Path, err)
	}
	defer f.Close()

	body, err := l.readLimited(f)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", u.Path, err)
	}
	return "", body, nil
}

func (l *Loader) readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, l.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > l.opts.MaxBodyBytes {
		return nil, ErrTooLarge
	}
	return body, nil
}
