package dedup

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type abbreviation struct {
	pattern *regexp.Regexp
	expand  string
}

var abbreviations = []abbreviation{
	{regexp.MustCompile(`\btb\b`), "tuberculosis"},
	// A run like "hiv/aids" or "aids" alone always becomes "hiv aids".
	{regexp.MustCompile(`\b(?:hiv|aids)(?:[\s/&,\-]+(?:hiv|aids))*\b`), "hiv aids"},
	{regexp.MustCompile(`\bntd\b`), "neglected tropical diseases"},
	{regexp.MustCompile(`\bict\b`), "information communication technology"},
	{regexp.MustCompile(`\bfrancophonie\b`), "french language"},
}

// Ordered: longer qualifiers must come before their own prefixes.
var leadingQualifiers = []string{
	"international day of the ",
	"international day of ",
	"international day for the ",
	"international day for ",
	"international ",
	"world day of ",
	"world day for ",
	"world ",
	"united nations ",
	"un ",
	"global ",
	"national ",
}

var trailingQualifiers = []string{" day", " week", " month", " year"}

var (
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

const maxNormalizePasses = 8

// Normalize reduces an observance name to the comparable core used by the
// matching rules: "International Day of Peace" becomes "peace" and
// "World TB Day" becomes "tuberculosis".
//
// A single pass can expose another qualifier (for example after punctuation
// is removed), so passes repeat until the output stops changing. This makes
// Normalize idempotent.
func Normalize(name string) string {
	lower := cases.Lower(language.Und)
	cur := name
	for range maxNormalizePasses {
		next := normalizeOnce(lower.String(cur))
		if next == cur {
			break
		}
		cur = next
	}
	return cur
}

func normalizeOnce(s string) string {
	s = strings.TrimSpace(s)
	for _, a := range abbreviations {
		s = a.pattern.ReplaceAllString(s, a.expand)
	}

	stripped := false
	for _, q := range leadingQualifiers {
		if strings.HasPrefix(s, q) {
			s = s[len(q):]
			stripped = true
			break
		}
	}
	// Trailing qualifiers only go when a leading one did, so "christmas day"
	// and "christmas eve" stay distinct.
	if stripped {
		for _, q := range trailingQualifiers {
			if strings.HasSuffix(s, q) {
				s = s[:len(s)-len(q)]
				break
			}
		}
	}

	s = strings.ReplaceAll(s, "-", " ")
	s = punctuation.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// significantWords returns the distinct words of a normalized name that are
// at least minLen bytes long, in first-seen order.
func significantWords(normalized string, minLen int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(normalized) {
		if len(w) < minLen {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
