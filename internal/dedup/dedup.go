// Package dedup collapses reports of the same observance from several sources
// into one canonical entry chosen by source priority.
package dedup

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/metrics"
	"github.com/JakeFAU/specialdays/internal/observance"
)

// Source priorities; lower wins.
const (
	PriorityPrimary  = 0
	PriorityAPI      = 1
	PriorityFallback = 2
)

// DefaultPriorities ranks the scraped sources first and the holiday API next.
// Anything unlisted, custom entries included, gets PriorityFallback.
func DefaultPriorities() map[string]int {
	return map[string]int{
		observance.SourceUN:           PriorityPrimary,
		observance.SourceWHO:          PriorityPrimary,
		observance.SourceUNESCO:       PriorityPrimary,
		observance.SourceCalendarific: PriorityAPI,
	}
}

// Engine deduplicates observance lists.
type Engine struct {
	matcher    *Matcher
	minWordLen int
	priorities map[string]int
	logger     *zap.Logger
}

// New constructs an Engine. A nil priorities map uses DefaultPriorities.
func New(logger *zap.Logger, opts Options, priorities map[string]int) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if priorities == nil {
		priorities = DefaultPriorities()
	}
	m := NewMatcher(opts)
	return &Engine{
		matcher:    m,
		minWordLen: m.opts.MinWordLen,
		priorities: priorities,
		logger:     logger.Named("dedup"),
	}
}

// Priority returns the rank of a source name.
func (e *Engine) Priority(source string) int {
	if p, ok := e.priorities[source]; ok {
		return p
	}
	return PriorityFallback
}

type accepted struct {
	item       observance.Observance
	normalized string
}

// bucket holds the structures for one calendar day. Names only collide
// within the same DD/MM.
type bucket struct {
	exact      map[string]int
	normalized map[string]int
	byWord     map[string][]int
}

func newBucket() *bucket {
	return &bucket{
		exact:      make(map[string]int),
		normalized: make(map[string]int),
		byWord:     make(map[string][]int),
	}
}

// Deduplicate returns list with near-duplicates removed. Entries are ordered
// by source priority and then by input order; among duplicates the first
// accepted entry wins. The input slice is not modified.
//
// Each candidate is checked against the exact and normalized name sets
// first. On a miss, only accepted entries sharing a significant word are run
// through the full matcher.
func (e *Engine) Deduplicate(list []observance.Observance) []observance.Observance {
	if len(list) == 0 {
		return []observance.Observance{}
	}

	sorted := observance.Clone(list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return e.Priority(sorted[i].Source) < e.Priority(sorted[j].Source)
	})

	var kept []accepted
	buckets := make(map[observance.DayMonth]*bucket)

	for _, cand := range sorted {
		b, ok := buckets[cand.Date]
		if !ok {
			b = newBucket()
			buckets[cand.Date] = b
		}

		exactKey := strings.ToLower(strings.TrimSpace(cand.Name))
		if idx, hit := b.exact[exactKey]; hit {
			e.logSkip(cand, kept[idx].item, RuleExact)
			continue
		}
		norm := Normalize(cand.Name)
		if idx, hit := b.normalized[norm]; hit {
			e.logSkip(cand, kept[idx].item, RuleNormalized)
			continue
		}

		words := significantWords(norm, e.minWordLen)
		if idx, rule, dup := e.findInBuckets(b, kept, cand.Name, norm, words); dup {
			e.logSkip(cand, kept[idx].item, rule)
			continue
		}

		idx := len(kept)
		kept = append(kept, accepted{item: cand, normalized: norm})
		b.exact[exactKey] = idx
		b.normalized[norm] = idx
		for _, w := range words {
			b.byWord[w] = append(b.byWord[w], idx)
		}
	}

	out := make([]observance.Observance, len(kept))
	for i, a := range kept {
		out[i] = a.item
	}
	if collapsed := len(list) - len(out); collapsed > 0 {
		e.logger.Info("reduced observances to unique entries",
			zap.Int("input", len(list)),
			zap.Int("unique", len(out)),
		)
		metrics.ObserveDedupCollapsed(collapsed)
	}
	return out
}

func (e *Engine) findInBuckets(b *bucket, kept []accepted, name, norm string, words []string) (int, Rule, bool) {
	checked := make(map[int]struct{})
	for _, w := range words {
		for _, idx := range b.byWord[w] {
			if _, done := checked[idx]; done {
				continue
			}
			checked[idx] = struct{}{}
			existing := kept[idx]
			d := e.matcher.matchNormalized(name, existing.item.Name, norm, existing.normalized)
			if d.Match {
				return idx, d.Rule, true
			}
		}
	}
	return 0, RuleNone, false
}

func (e *Engine) logSkip(dropped, kept observance.Observance, rule Rule) {
	e.logger.Debug("skipping duplicate observance",
		zap.String("name", dropped.Name),
		zap.String("source", dropped.Source),
		zap.String("matches", kept.Name),
		zap.String("kept_source", kept.Source),
		zap.String("rule", string(rule)),
	)
}
