package task

import "net/url"

// Content parses documents and executes scripts.
type Content interface {
	Send(msg ContentMsg)
}

// Layout turns documents into display lists.
type Layout interface {
	Send(msg LayoutMsg)
}

// Renderer presents display lists to the sink.
type Renderer interface {
	Send(msg RendererMsg)
}

// ResourceLoader fetches bytes for URLs.
type ResourceLoader interface {
	Send(msg ResourceMsg)
}

// ImageCache fetches, decodes and caches images. Exit blocks until the cache
// has terminated.
type ImageCache interface {
	Send(msg ImageCacheMsg)
	Exit()
}

// ContentMsg is a message accepted by Content.
type ContentMsg interface{ contentMsg() }

// ExecuteMsg asks Content to fetch and run a script.
type ExecuteMsg struct {
	URL *url.URL
}

// ParseMsg asks Content to fetch and parse a document.
type ParseMsg struct {
	URL *url.URL
}

// ContentExitMsg tells Content to stop.
type ContentExitMsg struct{}

func (ExecuteMsg) contentMsg()     {}
func (ParseMsg) contentMsg()       {}
func (ContentExitMsg) contentMsg() {}

// LayoutMsg is a message accepted by Layout.
type LayoutMsg interface{ layoutMsg() }

// BuildMsg asks Layout to lay out a document for the given viewport.
type BuildMsg struct {
	Document *Document
	Viewport Size
}

// LayoutExitMsg tells Layout to stop.
type LayoutExitMsg struct{}

func (BuildMsg) layoutMsg()      {}
func (LayoutExitMsg) layoutMsg() {}

// RendererMsg is a message accepted by the Renderer.
type RendererMsg interface{ rendererMsg() }

// RenderMsg carries a laid-out frame to present.
type RenderMsg struct {
	Frame Frame
}

// RendererExitMsg tells the Renderer to stop. The Renderer signals Reply once
// all frames it accepted before the exit have been presented.
type RendererExitMsg struct {
	Reply chan<- struct{}
}

func (RenderMsg) rendererMsg()       {}
func (RendererExitMsg) rendererMsg() {}

// ResourceMsg is a message accepted by the ResourceLoader.
type ResourceMsg interface{ resourceMsg() }

// LoadMsg asks the ResourceLoader to fetch URL. Exactly one LoadResult is
// delivered on Reply, which must have room for it.
type LoadMsg struct {
	URL   *url.URL
	Reply chan<- LoadResult
}

// ResourceExitMsg tells the ResourceLoader to stop.
type ResourceExitMsg struct{}

func (LoadMsg) resourceMsg()         {}
func (ResourceExitMsg) resourceMsg() {}

// LoadResult is the outcome of a LoadMsg.
type LoadResult struct {
	URL         *url.URL
	ContentType string
	Body        []byte
	Err         error
}

// ImageCacheMsg is a message accepted by the ImageCache.
type ImageCacheMsg interface{ imageCacheMsg() }

// PrefetchMsg starts loading an image without waiting for it.
type PrefetchMsg struct {
	URL *url.URL
}

// GetImageMsg asks for a decoded image. Exactly one ImageResult is delivered
// on Reply, which must have room for it.
type GetImageMsg struct {
	URL   *url.URL
	Reply chan<- ImageResult
}

// ImageCacheExitMsg tells the ImageCache to stop. Done is closed once it has.
type ImageCacheExitMsg struct {
	Done chan<- struct{}
}

func (PrefetchMsg) imageCacheMsg()       {}
func (GetImageMsg) imageCacheMsg()       {}
func (ImageCacheExitMsg) imageCacheMsg() {}

// ImageResult describes a decoded image.
type ImageResult struct {
	URL    string
	Format string
	Width  int
	Height int
	Err    error
}
