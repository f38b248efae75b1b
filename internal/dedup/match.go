package dedup

import (
	"strings"
)

// Rule names the matching rule that decided a comparison.
type Rule string

// Matching rules, in evaluation order.
const (
	RuleNone        Rule = ""
	RuleExact       Rule = "exact"
	RuleNormalized  Rule = "normalized"
	RuleContainment Rule = "containment"
	RuleWordOverlap Rule = "word_overlap"
	RuleSingleWord  Rule = "single_word"
	RuleAffix       Rule = "affix"
)

// Decision is the outcome of comparing two names. Matching is heuristic, so
// Confidence gives a rough sense of how strong the evidence was.
type Decision struct {
	Match      bool
	Rule       Rule
	Confidence float64
}

// Options tunes the matching thresholds.
type Options struct {
	// ContainmentRatio is the minimum length of the shorter normalized name
	// relative to the longer one for containment to count.
	ContainmentRatio float64
	// MinContainmentLen gates containment on both normalized names.
	MinContainmentLen int
	// MinWordLen is the length at which a word becomes significant.
	MinWordLen int
	// MinSharedWords is how many significant words must overlap.
	MinSharedWords int
	// MinAffixLen gates prefix/suffix containment on both normalized names.
	MinAffixLen int
	// Connectors are the words allowed to differ in a single-word match.
	Connectors []string
}

// DefaultOptions returns the thresholds used in production.
func DefaultOptions() Options {
	return Options{
		ContainmentRatio:  0.5,
		MinContainmentLen: 4,
		MinWordLen:        4,
		MinSharedWords:    2,
		MinAffixLen:       6,
		Connectors:        []string{"day", "week", "month", "year", "the", "of", "for", "and", "a", "an"},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ContainmentRatio <= 0 {
		o.ContainmentRatio = d.ContainmentRatio
	}
	if o.MinContainmentLen <= 0 {
		o.MinContainmentLen = d.MinContainmentLen
	}
	if o.MinWordLen <= 0 {
		o.MinWordLen = d.MinWordLen
	}
	if o.MinSharedWords <= 0 {
		o.MinSharedWords = d.MinSharedWords
	}
	if o.MinAffixLen <= 0 {
		o.MinAffixLen = d.MinAffixLen
	}
	if o.Connectors == nil {
		o.Connectors = d.Connectors
	}
	return o
}

// Matcher compares observance names.
type Matcher struct {
	opts       Options
	connectors map[string]struct{}
}

// NewMatcher builds a Matcher; zero fields of opts take their defaults.
func NewMatcher(opts Options) *Matcher {
	opts = opts.withDefaults()
	connectors := make(map[string]struct{}, len(opts.Connectors))
	for _, w := range opts.Connectors {
		connectors[w] = struct{}{}
	}
	return &Matcher{opts: opts, connectors: connectors}
}

var defaultMatcher = NewMatcher(DefaultOptions())

// Match reports whether two raw names likely refer to the same observance,
// using the default thresholds.
func Match(a, b string) Decision {
	return defaultMatcher.Match(a, b)
}

// Match applies the rules in order; the first that holds wins.
func (m *Matcher) Match(a, b string) Decision {
	return m.matchNormalized(a, b, Normalize(a), Normalize(b))
}

func (m *Matcher) matchNormalized(rawA, rawB, normA, normB string) Decision {
	if strings.EqualFold(strings.TrimSpace(rawA), strings.TrimSpace(rawB)) {
		return Decision{Match: true, Rule: RuleExact, Confidence: 1}
	}
	if normA == normB {
		return Decision{Match: true, Rule: RuleNormalized, Confidence: 0.95}
	}

	shorter, longer := normA, normB
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}

	if len(shorter) >= m.opts.MinContainmentLen && strings.Contains(longer, shorter) {
		ratio := float64(len(shorter)) / float64(len(longer))
		if ratio >= m.opts.ContainmentRatio {
			return Decision{Match: true, Rule: RuleContainment, Confidence: 0.5 + 0.4*ratio}
		}
	}

	wordsA := significantWords(normA, m.opts.MinWordLen)
	wordsB := significantWords(normB, m.opts.MinWordLen)
	shared := intersect(wordsA, wordsB)
	if len(shared) >= m.opts.MinSharedWords {
		overlap := float64(len(shared)) / float64(max(len(wordsA), len(wordsB)))
		return Decision{Match: true, Rule: RuleWordOverlap, Confidence: 0.5 + 0.35*overlap}
	}

	if len(wordsA) == 1 && len(wordsB) == 1 && wordsA[0] == wordsB[0] && m.onlyConnectorsDiffer(normA, normB) {
		return Decision{Match: true, Rule: RuleSingleWord, Confidence: 0.7}
	}

	if len(shorter) >= m.opts.MinAffixLen &&
		(strings.HasPrefix(longer, shorter) || strings.HasSuffix(longer, shorter)) {
		return Decision{Match: true, Rule: RuleAffix, Confidence: 0.6}
	}

	return Decision{}
}

// onlyConnectorsDiffer reports whether every word in the symmetric
// difference of the two names' word sets is a connector.
func (m *Matcher) onlyConnectorsDiffer(a, b string) bool {
	setA := wordSet(a)
	setB := wordSet(b)
	for w := range setA {
		if _, ok := setB[w]; ok {
			continue
		}
		if _, ok := m.connectors[w]; !ok {
			return false
		}
	}
	for w := range setB {
		if _, ok := setA[w]; ok {
			continue
		}
		if _, ok := m.connectors[w]; !ok {
			return false
		}
	}
	return true
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		out[w] = struct{}{}
	}
	return out
}

func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	in := make(map[string]struct{}, len(b))
	for _, w := range b {
		in[w] = struct{}{}
	}
	var out []string
	for _, w := range a {
		if _, ok := in[w]; ok {
			out = append(out, w)
		}
	}
	return out
}
