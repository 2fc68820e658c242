package content

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/seantiz/ember/internal/task"
)

// blockTags start a new text block.
var blockTags = map[atom.Atom]bool{
	atom.P:          true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Li:         true,
	atom.Pre:        true,
	atom.Blockquote: true,
	atom.Div:        true,
	atom.Section:    true,
	atom.Article:    true,
	atom.Header:     true,
	atom.Footer:     true,
	atom.Td:         true,
	atom.Th:         true,
	atom.Dt:         true,
	atom.Dd:         true,
	atom.Figcaption: true,
}

// ParseDocument parses body as HTML into a Document. Relative image and
// script URLs are resolved against base.
func ParseDocument(base *url.URL, body []byte) (*task.Document, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	b := &docBuilder{
		doc: &task.Document{URL: base},
		tag: "body",
	}
	b.walk(root)
	b.flush()
	return b.doc, nil
}

type docBuilder struct {
	doc  *task.Document
	tag  string
	text strings.Builder
}

func (b *docBuilder) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.text.WriteString(n.Data)
		return

	case html.ElementNode:
		switch n.DataAtom {
		case atom.Title:
			b.doc.Title = collapse(textOf(n))
			return
		case atom.Style, atom.Template, atom.Noscript:
			return
		case atom.Script:
			b.script(n)
			return
		case atom.Img:
			b.image(n)
			return
		case atom.Br:
			b.text.WriteByte(' ')
			return
		}

		if blockTags[n.DataAtom] {
			b.flush()
			outer := b.tag
			b.tag = n.Data
			b.children(n)
			b.flush()
			b.tag = outer
			return
		}
	}

	b.children(n)
}

func (b *docBuilder) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c)
	}
}

func (b *docBuilder) flush() {
	if text := collapse(b.text.String()); text != "" {
		b.doc.Blocks = append(b.doc.Blocks, task.Block{Tag: b.tag, Text: text})
	}
	b.text.Reset()
}

func (b *docBuilder) image(n *html.Node) {
	u := b.resolve(attr(n, "src"))
	if u == nil {
		return
	}
	b.flush()
	b.doc.Images = append(b.doc.Images, u)
	b.doc.Blocks = append(b.doc.Blocks, task.Block{Tag: "img", Text: attr(n, "alt"), Image: u})
}

func (b *docBuilder) script(n *html.Node) {
	if src := attr(n, "src"); src != "" {
		if u := b.resolve(src); u != nil {
			b.doc.Scripts = append(b.doc.Scripts, task.Script{Src: u})
		}
		return
	}
	if text := textOf(n); strings.TrimSpace(text) != "" {
		b.doc.Scripts = append(b.doc.Scripts, task.Script{Text: text})
	}
}

func (b *docBuilder) resolve(ref string) *url.URL {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil
	}
	if b.doc.URL == nil {
		return u
	}
	return b.doc.URL.ResolveReference(u)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
