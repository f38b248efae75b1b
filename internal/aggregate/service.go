// Package aggregate answers "what is special about date X" by merging every
// enabled source with the custom entries, filtering disabled entries and
// categories, and collapsing duplicates.
package aggregate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/dedup"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/sourcecache"
	"github.com/JakeFAU/specialdays/internal/storage/local"
)

// DefaultUpcomingDays is the look-ahead used when none is given.
const DefaultUpcomingDays = 7

// HolidaySource is the holiday API as the service sees it.
type HolidaySource interface {
	observance.Source
	Cached(ctx context.Context) ([]observance.Observance, error)
	CachedForDate(ctx context.Context, date time.Time) []observance.Observance
}

// gatherFunc collects the external observances on date. degraded reports
// that no external source took part.
type gatherFunc func(ctx context.Context, date time.Time) (found []observance.Observance, degraded bool)

// Options carries the collaborators of a Service. Sources and Holidays may
// be nil; when both yield nothing the service runs in degraded mode.
type Options struct {
	Sources  *sourcecache.Registry
	Holidays HolidaySource
	Custom   observance.CustomStore
	Dedup    *dedup.Engine
	Store    *local.Store
	Clock    observance.Clock
	Logger   *zap.Logger
	// Categories seeds category enablement before any runtime toggle.
	Categories map[observance.Category]bool
}

// Service aggregates observances.
type Service struct {
	sources  *sourcecache.Registry
	holidays HolidaySource
	custom   observance.CustomStore
	dedup    *dedup.Engine
	settings *settingsStore
	clock    observance.Clock
	logger   *zap.Logger
}

// Day is one date of a look-ahead window.
type Day struct {
	Date        time.Time               `json:"date"`
	Observances []observance.Observance `json:"observances"`
}

// New builds a Service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := opts.Dedup
	if engine == nil {
		engine = dedup.New(logger, dedup.DefaultOptions(), nil)
	}
	logger = logger.Named("aggregate")
	return &Service{
		sources:  opts.Sources,
		holidays: opts.Holidays,
		custom:   opts.Custom,
		dedup:    engine,
		settings: newSettingsStore(opts.Store, opts.Categories, opts.Clock, logger),
		clock:    opts.Clock,
		logger:   logger,
	}
}

// Degraded reports whether every external source is disabled.
func (s *Service) Degraded() bool {
	return s.holidays == nil && (s.sources == nil || len(s.sources.Enabled()) == 0)
}

// GetForDate returns the deduplicated observances on date.
func (s *Service) GetForDate(ctx context.Context, date time.Time) []observance.Observance {
	return s.forDate(ctx, date, s.customSnapshot(ctx), s.settings.enabled(ctx), s.gatherLive)
}

// GetToday is GetForDate for the current date.
func (s *Service) GetToday(ctx context.Context) []observance.Observance {
	return s.GetForDate(ctx, s.clock.Now())
}

// GetUpcoming returns observances for daysAhead days starting at start,
// keyed by DD/MM. Dates with nothing on them are omitted.
func (s *Service) GetUpcoming(ctx context.Context, start time.Time, daysAhead int) map[string][]observance.Observance {
	out := make(map[string][]observance.Observance)
	for _, d := range s.window(ctx, start, daysAhead, s.gatherLive) {
		if len(d.Observances) > 0 {
			out[observance.FromTime(d.Date).String()] = d.Observances
		}
	}
	return out
}

// GetDays returns days consecutive dates starting at start in order, empty
// days included.
func (s *Service) GetDays(ctx context.Context, start time.Time, days int) []Day {
	return s.window(ctx, start, days, s.gatherLive)
}

// GetWeek returns the seven days starting at weekStart in order, empty days
// included, for the weekly digest.
func (s *Service) GetWeek(ctx context.Context, weekStart time.Time) []Day {
	return s.window(ctx, weekStart, 7, s.gatherLive)
}

func (s *Service) window(ctx context.Context, start time.Time, days int, gather gatherFunc) []Day {
	if days <= 0 {
		days = DefaultUpcomingDays
	}
	custom := s.customSnapshot(ctx)
	enabled := s.settings.enabled(ctx)
	out := make([]Day, 0, days)
	for i := range days {
		if ctx.Err() != nil {
			break
		}
		date := start.AddDate(0, 0, i)
		out = append(out, Day{Date: date, Observances: s.forDate(ctx, date, custom, enabled, gather)})
	}
	return out
}

// gatherLive asks every source for date. Stale source caches are refreshed
// and uncached holiday dates are fetched within the budget.
func (s *Service) gatherLive(ctx context.Context, date time.Time) ([]observance.Observance, bool) {
	var merged []observance.Observance
	degraded := true
	if s.sources != nil {
		for _, c := range s.sources.Enabled() {
			degraded = false
			found := c.ForDate(ctx, date)
			if len(found) > 0 {
				s.logger.Debug("source matched", zap.String("source", c.Name()), zap.Stringer("date", observance.FromTime(date)), zap.Int("count", len(found)))
			}
			merged = append(merged, found...)
		}
	}
	if s.holidays != nil {
		degraded = false
		merged = append(merged, s.holidays.ForDate(ctx, date)...)
	}
	return merged, degraded
}

// cachedGatherer reads each source cache once and serves dates from what is
// already on disk. Nothing is refreshed or fetched.
func (s *Service) cachedGatherer(ctx context.Context) gatherFunc {
	var scraped []observance.Observance
	degraded := s.holidays == nil
	if s.sources != nil {
		for _, c := range s.sources.Enabled() {
			degraded = false
			list, err := c.All(ctx)
			if err != nil {
				s.logger.Debug("no cache for source", zap.String("source", c.Name()), zap.Error(err))
				continue
			}
			for _, o := range list {
				o.Enabled = true
				if o.Source == "" {
					o.Source = c.Name()
				}
				scraped = append(scraped, o)
			}
		}
	}
	return func(ctx context.Context, date time.Time) ([]observance.Observance, bool) {
		merged := observance.FilterDate(scraped, observance.FromTime(date))
		if s.holidays != nil {
			merged = append(merged, s.holidays.CachedForDate(ctx, date)...)
		}
		return merged, degraded
	}
}

func (s *Service) forDate(
	ctx context.Context,
	date time.Time,
	custom []observance.Observance,
	categories map[observance.Category]bool,
	gather gatherFunc,
) []observance.Observance {
	dm := observance.FromTime(date)
	merged, degraded := gather(ctx, date)

	for _, o := range observance.FilterDate(custom, dm) {
		if degraded || o.Category == observance.CategoryCustom {
			if o.Source == "" {
				o.Source = observance.SourceCustom
			}
			merged = append(merged, o)
		}
	}

	filtered := make([]observance.Observance, 0, len(merged))
	for _, o := range merged {
		if !o.Enabled || !categoryOn(categories, o.Category) {
			continue
		}
		filtered = append(filtered, o)
	}

	unique := s.dedup.Deduplicate(filtered)
	if len(unique) > 0 {
		names := make([]string, len(unique))
		for i, o := range unique {
			names[i] = o.Name
		}
		s.logger.Info("found observances",
			zap.Stringer("date", dm),
			zap.Strings("names", names),
			zap.Bool("degraded", degraded),
		)
	}
	return unique
}

func categoryOn(categories map[observance.Category]bool, c observance.Category) bool {
	on, ok := categories[c]
	return !ok || on
}

func (s *Service) customSnapshot(ctx context.Context) []observance.Observance {
	if s.custom == nil {
		return nil
	}
	list, err := s.custom.List(ctx)
	if err != nil {
		s.logger.Warn("load custom observances", zap.Error(err))
		return nil
	}
	return list
}

// SetCategoryEnabled toggles a category and persists the choice.
func (s *Service) SetCategoryEnabled(ctx context.Context, c observance.Category, enabled bool) error {
	return s.settings.set(ctx, c, enabled)
}

// CategoriesEnabled returns the effective enablement of every category.
func (s *Service) CategoriesEnabled(ctx context.Context) map[observance.Category]bool {
	return s.settings.enabled(ctx)
}

// Initialize refreshes every enabled source whose cache is stale. It is run
// once at startup.
func (s *Service) Initialize(ctx context.Context) map[string]sourcecache.RefreshStats {
	if s.sources == nil {
		return map[string]sourcecache.RefreshStats{}
	}
	results := s.sources.RefreshStale(ctx)
	for name, st := range results {
		switch {
		case st.Error != "":
			s.logger.Warn("initial refresh failed", zap.String("source", name), zap.String("error", st.Error))
		case st.Cached:
			s.logger.Info("source cache is fresh", zap.String("source", name))
		default:
			s.logger.Info("source cache refreshed", zap.String("source", name), zap.Int("fetched", st.Fetched))
		}
	}
	return results
}
