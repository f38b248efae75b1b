// Package sourcecache keeps one file-backed cache per scraped observance
// source. A cache is refreshed through the extraction pipeline when it goes
// stale, and a failed refresh never destroys the previous contents.
package sourcecache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/extract"
	"github.com/JakeFAU/specialdays/internal/metrics"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/storage/local"
)

// Default freshness windows per source.
const (
	DefaultUNTTL     = 7 * 24 * time.Hour
	DefaultWHOTTL    = 30 * 24 * time.Hour
	DefaultUNESCOTTL = 30 * 24 * time.Hour
	defaultTTL       = 7 * 24 * time.Hour
)

// DefaultTTL returns the freshness window for a built-in source name.
func DefaultTTL(name string) time.Duration {
	switch name {
	case observance.SourceUN:
		return DefaultUNTTL
	case observance.SourceWHO:
		return DefaultWHOTTL
	case observance.SourceUNESCO:
		return DefaultUNESCOTTL
	default:
		return defaultTTL
	}
}

// Runner extracts observances for a source.
type Runner interface {
	Run(ctx context.Context, src extract.Source) extract.Result
}

// File is the persisted cache document.
type File struct {
	LastUpdated time.Time               `json:"last_updated"`
	Source      string                  `json:"source"`
	Observances []observance.Observance `json:"observances"`
}

// RefreshStats describes one Refresh call. Error is empty on success.
type RefreshStats struct {
	Fetched int            `json:"fetched"`
	Cached  bool           `json:"cached"`
	Method  extract.Method `json:"method,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Status summarizes the cache state for reporting.
type Status struct {
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	Exists      bool      `json:"exists"`
	Fresh       bool      `json:"fresh"`
	LastUpdated time.Time `json:"last_updated,omitzero"`
	Count       int       `json:"count"`
	SourceURL   string    `json:"source_url"`
	TTL         string    `json:"ttl"`
}

// Cache is the cache for one source. It implements observance.Source.
type Cache struct {
	src    extract.Source
	ttl    time.Duration
	store  *local.Store
	runner Runner
	clock  observance.Clock
	logger *zap.Logger
	file   string

	// refreshMu keeps concurrent callers from scraping the same page twice.
	refreshMu sync.Mutex
}

// New builds a Cache for src. A zero ttl selects DefaultTTL(src.Name).
func New(src extract.Source, ttl time.Duration, store *local.Store, runner Runner, clock observance.Clock, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL(src.Name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		src:    src,
		ttl:    ttl,
		store:  store,
		runner: runner,
		clock:  clock,
		logger: logger.Named("sourcecache").With(zap.String("source", src.Name)),
		file:   "sources/" + strings.ToLower(src.Name) + ".json",
	}
}

// Name returns the source name.
func (c *Cache) Name() string {
	return c.src.Name
}

// ForDate implements observance.Source keyed on day and month.
func (c *Cache) ForDate(ctx context.Context, date time.Time) []observance.Observance {
	return c.Get(ctx, observance.FromTime(date))
}

// Get returns cached observances on date, refreshing first when the cache is
// missing or stale. A failed refresh falls back to whatever is cached.
// Returned entries are always enabled.
func (c *Cache) Get(ctx context.Context, date observance.DayMonth) []observance.Observance {
	if !c.IsFresh() {
		c.logger.Info("cache missing or stale, refreshing")
		if stats := c.Refresh(ctx, false); stats.Error != "" {
			c.logger.Warn("auto refresh failed", zap.String("error", stats.Error))
		}
	}

	doc, err := c.load(ctx)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("read cache", zap.Error(err))
		} else {
			c.logger.Warn("no cached data available")
		}
		return []observance.Observance{}
	}

	out := []observance.Observance{}
	for _, o := range doc.Observances {
		if o.Date != date {
			continue
		}
		o.Enabled = true
		if o.Source == "" {
			o.Source = c.src.Name
		}
		out = append(out, o)
	}
	if len(out) > 0 {
		c.logger.Debug("found observances", zap.Stringer("date", date), zap.Int("count", len(out)))
	}
	return out
}

// All returns every cached observance without refreshing.
func (c *Cache) All(ctx context.Context) ([]observance.Observance, error) {
	doc, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Observances, nil
}

// Refresh re-extracts the source and replaces the cache file. When force is
// false and the cache is fresh nothing is fetched. On failure the existing
// file is left untouched.
func (c *Cache) Refresh(ctx context.Context, force bool) RefreshStats {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if !force && c.IsFresh() {
		c.logger.Info("cache is fresh, skipping refresh")
		metrics.ObserveRefresh(c.src.Name, "", "cached", 0, 0)
		return RefreshStats{Cached: true}
	}

	res := c.runner.Run(ctx, c.src)
	if res.Err != nil || len(res.Observances) == 0 {
		msg := extract.ErrNoObservances.Error()
		if res.Err != nil {
			msg = res.Err.Error()
		}
		c.logger.Error("refresh failed, keeping previous cache", zap.String("error", msg))
		metrics.ObserveRefresh(c.src.Name, string(res.Method), "failure", 0, res.Duration)
		return RefreshStats{Method: res.Method, Error: msg}
	}

	doc := File{
		LastUpdated: c.clock.Now(),
		Source:      c.src.URL,
		Observances: res.Observances,
	}
	if err := c.save(ctx, doc); err != nil {
		c.logger.Error("save cache", zap.Error(err))
		metrics.ObserveRefresh(c.src.Name, string(res.Method), "failure", 0, res.Duration)
		return RefreshStats{Method: res.Method, Error: err.Error()}
	}

	c.logger.Info("cached observances",
		zap.Int("count", len(res.Observances)),
		zap.String("method", string(res.Method)),
		zap.Duration("duration", res.Duration),
	)
	metrics.ObserveRefresh(c.src.Name, string(res.Method), "success", len(res.Observances), res.Duration)
	return RefreshStats{Fetched: len(res.Observances), Method: res.Method}
}

// IsFresh reports whether the cache exists and is younger than its TTL.
func (c *Cache) IsFresh() bool {
	doc, err := c.load(context.Background())
	if err != nil {
		return false
	}
	return c.fresh(doc)
}

func (c *Cache) fresh(doc File) bool {
	return !doc.LastUpdated.IsZero() && c.clock.Now().Sub(doc.LastUpdated) < c.ttl
}

// Status reports on the cache file.
func (c *Cache) Status(ctx context.Context) Status {
	st := Status{Name: c.src.Name, SourceURL: c.src.URL, TTL: c.ttl.String()}
	doc, err := c.load(ctx)
	if err != nil {
		return st
	}
	st.Exists = true
	st.Fresh = c.fresh(doc)
	st.LastUpdated = doc.LastUpdated
	st.Count = len(doc.Observances)
	if doc.Source != "" {
		st.SourceURL = doc.Source
	}
	return st
}

func (c *Cache) load(ctx context.Context) (File, error) {
	var doc File
	if err := c.store.ReadJSON(ctx, c.file, &doc); err != nil {
		return File{}, err
	}
	return doc, nil
}

func (c *Cache) save(ctx context.Context, doc File) error {
	unlock, err := c.store.Lock(ctx, c.file)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	defer unlock()
	if err := c.store.WriteJSON(ctx, c.file, doc); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}
