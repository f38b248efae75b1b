// Package detector decides when a statically fetched calendar page needs a
// browser before its dates can be read.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/specialdays/internal/observance"
)

// DefaultMinTextBytes is the visible text below which a page is suspect.
const DefaultMinTextBytes = 512

// Heuristic flags pages that are app shells or too thin to hold a calendar.
type Heuristic struct {
	MinTextBytes int
}

// NewHeuristic creates a detector. Zero selects DefaultMinTextBytes.
func NewHeuristic(minTextBytes int) *Heuristic {
	if minTextBytes <= 0 {
		minTextBytes = DefaultMinTextBytes
	}
	return &Heuristic{MinTextBytes: minTextBytes}
}

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte("__nuxt"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

var months = []string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// NeedsRender reports whether resp should be refetched with a browser.
// Failed responses never qualify; a browser will not fix a 404.
func (h *Heuristic) NeedsRender(resp observance.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(resp.Body, marker) {
			return true
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}
	scripts := doc.Find("script").Length()
	doc.Find("script, style, noscript, template").Remove()
	text := strings.ToLower(strings.Join(strings.Fields(doc.Text()), " "))
	if scripts == 0 {
		return false
	}
	if len(text) < h.MinTextBytes {
		return true
	}
	// A calendar page names most months; an unrendered one names few.
	seen := 0
	for _, m := range months {
		if strings.Contains(text, m) {
			seen++
		}
	}
	return seen < 3
}
