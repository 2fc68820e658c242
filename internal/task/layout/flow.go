package layout

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/seantiz/ember/internal/task"
)

// Fixed text metrics. Layout has no font engine; every glyph advances the
// same distance.
const (
	GlyphWidth  = 8
	LineHeight  = 16
	Margin      = 8
	BlockGap    = 8
	headingRate = 2
)

// ImageLookup returns the decoded dimensions of an image.
type ImageLookup func(u *url.URL) task.ImageResult

// Flow lays doc out top to bottom inside viewport. Text is wrapped at word
// boundaries; images are scaled down to the content width.
func Flow(doc *task.Document, viewport task.Size, images ImageLookup) task.Frame {
	frame := task.Frame{
		Title:    doc.Title,
		Viewport: viewport,
		Items:    []task.DisplayItem{},
	}
	if doc.URL != nil {
		frame.URL = doc.URL.String()
	}

	width := max(viewport.Width-2*Margin, GlyphWidth)
	y := Margin
	for _, b := range doc.Blocks {
		var items []task.DisplayItem
		if b.Image != nil {
			items, y = placeImage(b, images(b.Image), width, y)
		} else {
			items, y = placeText(b, width, y)
		}
		frame.Items = append(frame.Items, items...)
		y += BlockGap
	}
	return frame
}

func placeText(b task.Block, width, y int) ([]task.DisplayItem, int) {
	scale := 1
	if b.Tag == "h1" || b.Tag == "h2" {
		scale = headingRate
	}
	advance := GlyphWidth * scale
	lineHeight := LineHeight * scale

	var items []task.DisplayItem
	for _, line := range wrap(b.Text, width/advance) {
		items = append(items, task.DisplayItem{
			Kind:   task.ItemText,
			X:      Margin,
			Y:      y,
			Width:  utf8.RuneCountInString(line) * advance,
			Height: lineHeight,
			Text:   line,
		})
		y += lineHeight
	}
	return items, y
}

func placeImage(b task.Block, img task.ImageResult, width, y int) ([]task.DisplayItem, int) {
	if img.Err != nil || img.Width <= 0 || img.Height <= 0 {
		// Broken images fall back to their alt text.
		if b.Text == "" {
			return nil, y
		}
		return placeText(task.Block{Tag: "img", Text: b.Text}, width, y)
	}

	w, h := img.Width, img.Height
	if w > width {
		h = h * width / w
		w = width
	}
	item := task.DisplayItem{
		Kind:   task.ItemImage,
		X:      Margin,
		Y:      y,
		Width:  w,
		Height: max(h, 1),
		Text:   b.Text,
		Source: b.Image.String(),
	}
	return []task.DisplayItem{item}, y + item.Height
}

// wrap splits text into lines of at most cols runes. Words longer than a line
// are broken.
func wrap(text string, cols int) []string {
	cols = max(cols, 1)

	var (
		lines []string
		line  strings.Builder
		n     int
	)
	flush := func() {
		if n > 0 {
			lines = append(lines, line.String())
			line.Reset()
			n = 0
		}
	}

	for _, word := range strings.Fields(text) {
		runes := []rune(word)
		for len(runes) > cols {
			flush()
			lines = append(lines, string(runes[:cols]))
			runes = runes[cols:]
		}
		wl := len(runes)
		if wl == 0 {
			continue
		}
		if n > 0 && n+1+wl > cols {
			flush()
		}
		if n > 0 {
			line.WriteByte(' ')
			n++
		}
		line.WriteString(string(runes))
		n += wl
	}
	flush()
	return lines
}
