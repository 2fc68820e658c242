package content_test

import (
	"net/url"
	"testing"

	"github.com/seantiz/ember/internal/task/content"
)

const page = `<!DOCTYPE html>
<html>
<head>
  <title>  Example
  Page </title>
  <style>p { color: red }</style>
  <script src="/js/app.js"></script>
</head>
<body>
  <h1>Hello</h1>
  <p>First <b>bold</b>
     paragraph.</p>
  <img src="img/logo.png" alt="logo">
  <div>Outer <p>inner</p> tail</div>
  <script>console.log("inline")</script>
  <ul><li>one</li><li>two</li></ul>
</body>
</html>`

func TestParseDocument(t *testing.T) {
	base, _ := url.Parse("http://example.test/docs/index.html")

	doc, err := content.ParseDocument(base, []byte(page))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}

	if doc.Title != "Example Page" {
		t.Errorf("title = %q, want %q", doc.Title, "Example Page")
	}
	if doc.URL != base {
		t.Errorf("URL = %v, want base", doc.URL)
	}

	want := []struct{ tag, text string }{
		{"h1", "Hello"},
		{"p", "First bold paragraph."},
		{"img", "logo"},
		{"div", "Outer"},
		{"p", "inner"},
		{"div", "tail"},
		{"li", "one"},
		{"li", "two"},
	}
	if len(doc.Blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d: %+v", len(doc.Blocks), len(want), doc.Blocks)
	}
	for i, w := range want {
		if doc.Blocks[i].Tag != w.tag || doc.Blocks[i].Text != w.text {
			t.Errorf("block %d = %s %q, want %s %q", i, doc.Blocks[i].Tag, doc.Blocks[i].Text, w.tag, w.text)
		}
	}

	if len(doc.Images) != 1 || doc.Images[0].String() != "http://example.test/docs/img/logo.png" {
		t.Errorf("images = %v", doc.Images)
	}
	if img := doc.Blocks[2].Image; img == nil || img.String() != "http://example.test/docs/img/logo.png" {
		t.Errorf("image block url = %v", img)
	}

	if len(doc.Scripts) != 2 {
		t.Fatalf("got %d scripts, want 2", len(doc.Scripts))
	}
	if s := doc.Scripts[0]; s.Src == nil || s.Src.String() != "http://example.test/js/app.js" {
		t.Errorf("script 0 = %+v, want external app.js", s)
	}
	if s := doc.Scripts[1]; s.Src != nil || s.Text != `console.log("inline")` {
		t.Errorf("script 1 = %+v, want inline", s)
	}
}

func TestParseDocumentEmpty(t *testing.T) {
	base, _ := url.Parse("about:blank")

	doc, err := content.ParseDocument(base, nil)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if doc.Title != "" || len(doc.Blocks) != 0 || len(doc.Scripts) != 0 {
		t.Errorf("empty document = %+v", doc)
	}
}

func TestParseDocumentSkipsEmptySources(t *testing.T) {
	base, _ := url.Parse("http://example.test/")
	body := `<img src=""><img><script src="  "></script><script>   </script><p>text</p>`

	doc, err := content.ParseDocument(base, []byte(body))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if len(doc.Images) != 0 {
		t.Errorf("images = %v, want none", doc.Images)
	}
	if len(doc.Scripts) != 0 {
		t.Errorf("scripts = %+v, want none", doc.Scripts)
	}
	if len(doc.Blocks) != 1 || doc.Blocks[0].Text != "text" {
		t.Errorf("blocks = %+v", doc.Blocks)
	}
}
