package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true, "header": true,
	"footer": true, "aside": true, "ul": true, "ol": true, "li": true, "table": true, "tr": true,
	"td": true, "th": true, "dl": true, "dt": true, "dd": true, "blockquote": true, "figure": true,
	"time": true,
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true, "svg": true,
	"template": true, "iframe": true, "#comment": true,
}

// Markdown flattens an HTML page into line-oriented text that keeps links as
// [text](href), bold runs as **text** and headings as "# text". Block
// elements end a line. Hrefs are kept exactly as written.
func Markdown(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	w := &mdWriter{}
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	w.render(root)
	return w.String(), nil
}

type mdWriter struct {
	b strings.Builder
}

func (w *mdWriter) render(sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		switch {
		case name == "#text":
			w.text(s.Text())
		case skippedElements[name]:
		case name == "a":
			w.link(s)
		case name == "strong" || name == "b":
			if s.Find("a").Length() > 0 {
				w.render(s)
				return
			}
			if t := collapse(s.Text()); t != "" {
				w.word("**" + t + "**")
			}
		case len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6':
			w.newline()
			w.word(strings.Repeat("#", int(name[1]-'0')))
			w.render(s)
			w.newline()
		case name == "br":
			w.newline()
		case blockElements[name]:
			w.newline()
			w.render(s)
			w.newline()
		default:
			w.render(s)
		}
	})
}

func (w *mdWriter) link(s *goquery.Selection) {
	text := collapse(s.Text())
	if text == "" {
		return
	}
	href, _ := s.Attr("href")
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		w.word(text)
		return
	}
	w.word("[" + text + "](" + href + ")")
}

// text writes a text node, keeping a separating space where the source had
// whitespace.
func (w *mdWriter) text(raw string) {
	if strings.TrimSpace(raw) == "" {
		if raw != "" {
			w.space()
		}
		return
	}
	if startsWithSpace(raw) {
		w.space()
	}
	w.b.WriteString(collapse(raw))
	if endsWithSpace(raw) {
		w.space()
	}
}

func (w *mdWriter) word(s string) {
	w.space()
	w.b.WriteString(s)
	w.space()
}

func (w *mdWriter) space() {
	out := w.b.String()
	if out == "" || strings.HasSuffix(out, " ") || strings.HasSuffix(out, "\n") {
		return
	}
	w.b.WriteByte(' ')
}

func (w *mdWriter) newline() {
	out := w.b.String()
	if out == "" || strings.HasSuffix(out, "\n") {
		return
	}
	w.b.WriteByte('\n')
}

// String trims every line and drops repeated blank lines.
func (w *mdWriter) String() string {
	lines := strings.Split(w.b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s, " \t\r\n") != s
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\r\n") != s
}
