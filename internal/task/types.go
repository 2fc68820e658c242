package task

import "net/url"

// Size is a width and height in CSS pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Sink is the output surface frames are presented to. It is shared with the
// Renderer for the engine's lifetime.
type Sink interface {
	Viewport() Size
	Present(f Frame) error
}

// Block is a run of text inside a block-level element, or an image when
// Image is set.
type Block struct {
	Tag   string
	Text  string
	Image *url.URL
}

// Script is either an external script (Src set) or inline source.
type Script struct {
	Src  *url.URL
	Text string
}

// Document is the result of parsing a page. Blocks and Scripts are in
// document order.
type Document struct {
	URL     *url.URL
	Title   string
	Blocks  []Block
	Images  []*url.URL
	Scripts []Script
}

// Display item kinds.
const (
	ItemText  = "text"
	ItemImage = "image"
)

// DisplayItem is a positioned primitive in a frame.
type DisplayItem struct {
	Kind   string `json:"kind"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Text   string `json:"text,omitempty"`
	Source string `json:"source,omitempty"`
}

// Frame is one complete display list for a page.
type Frame struct {
	Seq      uint64        `json:"seq"`
	URL      string        `json:"url"`
	Title    string        `json:"title,omitempty"`
	Viewport Size          `json:"viewport"`
	Items    []DisplayItem `json:"items"`
}
