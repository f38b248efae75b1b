package aggregate

import (
	"context"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/observance"
)

// CategoryStats counts one category.
type CategoryStats struct {
	Total           int  `json:"total"`
	Enabled         int  `json:"enabled"`
	CategoryEnabled bool `json:"category_enabled"`
}

// Statistics summarizes everything the service knows about.
type Statistics struct {
	Total         int                                   `json:"total_days"`
	Enabled       int                                   `json:"enabled_days"`
	BySource      map[string]int                        `json:"by_source"`
	ByCategory    map[observance.Category]CategoryStats `json:"by_category"`
	CustomEntries int                                   `json:"custom_entries"`
	Next7Days     int                                   `json:"next_7_days"`
	Next30Days    int                                   `json:"next_30_days"`
	Degraded      bool                                  `json:"degraded"`
}

// All returns every known observance across cached sources, the holiday
// API cache and the custom store, deduplicated. It never triggers a fetch.
func (s *Service) All(ctx context.Context) []observance.Observance {
	all := slices.Clone(s.customSnapshot(ctx))
	for i := range all {
		if all[i].Source == "" {
			all[i].Source = observance.SourceCustom
		}
	}
	if s.sources != nil {
		for _, c := range s.sources.Enabled() {
			cached, err := c.All(ctx)
			if err != nil {
				s.logger.Debug("no cache for source", zap.String("source", c.Name()), zap.Error(err))
				continue
			}
			for _, o := range cached {
				o.Enabled = true
				if o.Source == "" {
					o.Source = c.Name()
				}
				all = append(all, o)
			}
		}
	}
	if s.holidays != nil {
		cached, err := s.holidays.Cached(ctx)
		if err != nil {
			s.logger.Warn("read holiday cache", zap.Error(err))
		}
		all = append(all, cached...)
	}
	return s.dedup.Deduplicate(all)
}

// GetStatistics counts observances by source and category and counts the
// dates with something on them in the next 7 and 30 days.
func (s *Service) GetStatistics(ctx context.Context) Statistics {
	all := s.All(ctx)
	categories := s.settings.enabled(ctx)

	st := Statistics{
		Total:         len(all),
		BySource:      make(map[string]int),
		ByCategory:    make(map[observance.Category]CategoryStats),
		CustomEntries: len(s.customSnapshot(ctx)),
		Degraded:      s.Degraded(),
	}
	for _, c := range observance.Categories() {
		st.ByCategory[c] = CategoryStats{CategoryEnabled: categoryOn(categories, c)}
	}
	for _, o := range all {
		source := o.Source
		if source == "" {
			source = "Unknown"
		}
		st.BySource[source]++
		if o.Enabled {
			st.Enabled++
		}
		cs, ok := st.ByCategory[o.Category]
		if !ok {
			continue
		}
		cs.Total++
		if o.Enabled {
			cs.Enabled++
		}
		st.ByCategory[o.Category] = cs
	}

	// Look-ahead counts come from the caches only, so statistics never spend
	// holiday API budget or trigger a scrape.
	gather := s.cachedGatherer(ctx)
	days := s.window(ctx, s.clock.Now(), 30, gather)
	for i, d := range days {
		if len(d.Observances) == 0 {
			continue
		}
		if i < 7 {
			st.Next7Days++
		}
		st.Next30Days++
	}
	return st
}

// VerifyReport lists data quality problems in the custom entries. Entries
// are rendered "DD/MM: name".
type VerifyReport struct {
	Total              int                         `json:"total"`
	WithSource         int                         `json:"with_source"`
	WithURL            int                         `json:"with_url"`
	MissingDescription []string                    `json:"missing_descriptions"`
	MissingEmoji       []string                    `json:"missing_emojis"`
	MissingSource      []string                    `json:"missing_sources"`
	DuplicateDates     map[string][]string         `json:"duplicate_dates"`
	InvalidDates       []string                    `json:"invalid_dates"`
	ByCategory         map[observance.Category]int `json:"by_category"`
}

// OK reports whether the report found nothing to fix.
func (r VerifyReport) OK() bool {
	return len(r.MissingDescription) == 0 && len(r.MissingEmoji) == 0 &&
		len(r.MissingSource) == 0 && len(r.DuplicateDates) == 0 && len(r.InvalidDates) == 0
}

// Verify checks the custom entries for completeness. A date that passes
// DD/MM range checks but never occurs, like 31/04, is reported as invalid.
// For dates with several entries every name after the first is listed.
func (s *Service) Verify(ctx context.Context) VerifyReport {
	list := s.customSnapshot(ctx)
	r := VerifyReport{
		Total:              len(list),
		MissingDescription: []string{},
		MissingEmoji:       []string{},
		MissingSource:      []string{},
		DuplicateDates:     map[string][]string{},
		InvalidDates:       []string{},
		ByCategory:         map[observance.Category]int{},
	}
	seen := make(map[observance.DayMonth]bool)
	for _, o := range list {
		label := o.Date.String() + ": " + o.Name
		if o.Description == "" {
			r.MissingDescription = append(r.MissingDescription, label)
		}
		if o.Emoji == "" {
			r.MissingEmoji = append(r.MissingEmoji, label)
		}
		if o.Source == "" {
			r.MissingSource = append(r.MissingSource, label)
		} else {
			r.WithSource++
		}
		if o.URL != "" {
			r.WithURL++
		}
		if seen[o.Date] {
			key := o.Date.String()
			r.DuplicateDates[key] = append(r.DuplicateDates[key], o.Name)
		}
		seen[o.Date] = true
		if !o.Date.OnCalendar() {
			r.InvalidDates = append(r.InvalidDates, label)
		}
		r.ByCategory[o.Category]++
	}
	return r
}

// GroupByCategory buckets list by category, keeping input order inside each
// bucket.
func GroupByCategory(list []observance.Observance) map[observance.Category][]observance.Observance {
	out := make(map[observance.Category][]observance.Observance)
	for _, o := range list {
		out[o.Category] = append(out[o.Category], o)
	}
	return out
}

// GroupedCategories returns the categories present in grouped in display
// order.
func GroupedCategories(grouped map[observance.Category][]observance.Observance) []observance.Category {
	var out []observance.Category
	for _, c := range observance.Categories() {
		if len(grouped[c]) > 0 {
			out = append(out, c)
		}
	}
	var extra []observance.Category
	for c := range grouped {
		if !c.Valid() {
			extra = append(extra, c)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// ShouldSplit reports whether list deserves one announcement per category:
// it spans more than one category, or it is longer than threshold. A
// non-positive threshold disables the length check.
func ShouldSplit(list []observance.Observance, threshold int) bool {
	if len(list) <= 1 {
		return false
	}
	if threshold > 0 && len(list) > threshold {
		return true
	}
	first := list[0].Category
	for _, o := range list[1:] {
		if o.Category != first {
			return true
		}
	}
	return false
}
