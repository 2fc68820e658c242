// Package imagecache implements the ImageCache subsystem. Images are fetched
// through the ResourceLoader, decoded far enough to know their format and
// dimensions, and cached by URL. Requests for an image that is still loading
// wait for it; exit answers every waiter.
package imagecache

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/url"

	"github.com/seantiz/ember/internal/task"
)

// ErrExited is returned to requests answered by the cache's exit.
var ErrExited = errors.New("image cache exited")

type entry struct {
	result  *task.ImageResult
	waiters []chan<- task.ImageResult
}

// loaded is a decode result coming back from a fetch goroutine.
type loaded struct {
	key    string
	result task.ImageResult
}

// Cache is the ImageCache handle.
type Cache struct {
	mb        *task.Mailbox[task.ImageCacheMsg]
	resources task.ResourceLoader
	logger    *slog.Logger

	entries map[string]*entry
	results chan loaded
	done    chan struct{}
}

// Start spawns the image cache actor.
func Start(resources task.ResourceLoader, logger *slog.Logger) *Cache {
	c := &Cache{
		mb:        task.NewMailboxWithDrop(reject),
		resources: resources,
		logger:    logger,
		entries:   make(map[string]*entry),
		results:   make(chan loaded),
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

// Send implements task.ImageCache.
func (c *Cache) Send(msg task.ImageCacheMsg) {
	c.mb.Send(msg)
}

// Exit implements task.ImageCache. It returns once the cache has answered
// every outstanding request and stopped.
func (c *Cache) Exit() {
	done := make(chan struct{})
	c.mb.Send(task.ImageCacheExitMsg{Done: done})
	<-done
}

// reject answers requests that arrive after the cache has exited.
func reject(msg task.ImageCacheMsg) {
	switch m := msg.(type) {
	case task.GetImageMsg:
		m.Reply <- task.ImageResult{URL: m.URL.String(), Err: ErrExited}
	case task.ImageCacheExitMsg:
		close(m.Done)
	}
}

func (c *Cache) run() {
	defer close(c.done)

	for {
		select {
		case msg := <-c.mb.Receive():
			switch m := msg.(type) {
			case task.PrefetchMsg:
				c.ensure(m.URL)
			case task.GetImageMsg:
				e := c.ensure(m.URL)
				if e.result != nil {
					m.Reply <- *e.result
				} else {
					e.waiters = append(e.waiters, m.Reply)
				}
			case task.ImageCacheExitMsg:
				c.shutdown()
				close(m.Done)
				return
			}

		case l := <-c.results:
			e := c.entries[l.key]
			res := l.result
			e.result = &res
			for _, w := range e.waiters {
				w <- res
			}
			e.waiters = nil
		}
	}
}

// ensure returns the entry for u, starting a fetch if it is new.
func (c *Cache) ensure(u *url.URL) *entry {
	key := u.String()
	if e, ok := c.entries[key]; ok {
		return e
	}

	e := &entry{}
	c.entries[key] = e

	reply := make(chan task.LoadResult, 1)
	c.resources.Send(task.LoadMsg{URL: u, Reply: reply})
	go func() {
		res := <-reply
		select {
		case c.results <- loaded{key: key, result: decode(key, res)}:
		case <-c.done:
		}
	}()
	return e
}

func (c *Cache) shutdown() {
	c.mb.Stop()
	pending := 0
	for key, e := range c.entries {
		for _, w := range e.waiters {
			w <- task.ImageResult{URL: key, Err: ErrExited}
			pending++
		}
		e.waiters = nil
	}
	c.logger.Debug("image cache exited", "cached", len(c.entries), "answered_waiters", pending)
}

func decode(key string, res task.LoadResult) task.ImageResult {
	if res.Err != nil {
		return task.ImageResult{URL: key, Err: res.Err}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(res.Body))
	if err != nil {
		return task.ImageResult{URL: key, Err: fmt.Errorf("decode %s: %w", key, err)}
	}
	return task.ImageResult{
		URL:    key,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}
}
