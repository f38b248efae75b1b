// Package holidayapi reads national holidays and observances from the
// Calendarific API. Upstream calls are paced, counted against a monthly
// budget and cached one file per absolute date, so daily reads rarely reach
// the network.
package holidayapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/metrics"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/storage/local"
)

// Config configures the holiday API client.
type Config struct {
	Enabled          bool          `mapstructure:"enabled"`
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Country          string        `mapstructure:"country"`
	State            string        `mapstructure:"state"`
	Types            string        `mapstructure:"types"`
	MonthlyLimit     int           `mapstructure:"monthly_limit"`
	WarningThreshold int           `mapstructure:"warning_threshold"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	PrefetchDays     int           `mapstructure:"prefetch_days"`
	Retention        time.Duration `mapstructure:"retention"`
}

// Defaults applied by New for zero fields.
const (
	DefaultBaseURL      = "https://calendarific.com/api/v2/holidays"
	DefaultTypes        = "national,local"
	DefaultCacheTTL     = 7 * 24 * time.Hour
	DefaultPrefetchDays = 7
	DefaultRetention    = 30 * 24 * time.Hour
)

const (
	cacheDir         = "holidayapi/cache"
	lastPrefetchFile = "holidayapi/last_prefetch"
)

// Pacer spaces out upstream requests.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// PrefetchStats summarizes one WeeklyPrefetch run.
type PrefetchStats struct {
	Fetched       int    `json:"fetched"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	Found         int    `json:"holidays_found"`
	Calls         int    `json:"api_calls"`
	QuotaExceeded bool   `json:"quota_exceeded"`
	Error         string `json:"error,omitempty"`
}

// Status reports budget and cache state.
type Status struct {
	Enabled          bool       `json:"enabled"`
	APIKeyConfigured bool       `json:"api_key_configured"`
	Country          string     `json:"country"`
	State            string     `json:"state,omitempty"`
	Location         string     `json:"location"`
	MonthCalls       int        `json:"month_calls"`
	MonthlyLimit     int        `json:"monthly_limit"`
	CallsRemaining   int        `json:"calls_remaining"`
	CachedDates      int        `json:"cached_dates"`
	CacheTTL         string     `json:"cache_ttl"`
	LastPrefetch     *time.Time `json:"last_prefetch"`
	NeedsPrefetch    bool       `json:"needs_prefetch"`
}

type cacheEntry struct {
	CachedAt time.Time         `json:"cached_at"`
	Date     string            `json:"date"`
	Holidays []json.RawMessage `json:"holidays"`
}

// Client is the holiday API source. It implements observance.Source keyed on
// the absolute date.
type Client struct {
	cfg     Config
	fetcher observance.Fetcher
	store   *local.Store
	budget  *Budget
	pacer   Pacer
	clock   observance.Clock
	logger  *zap.Logger
}

// New builds a Client. pacer may be nil.
func New(cfg Config, fetcher observance.Fetcher, store *local.Store, pacer Pacer, clock observance.Clock, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Types == "" {
		cfg.Types = DefaultTypes
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.PrefetchDays <= 0 {
		cfg.PrefetchDays = DefaultPrefetchDays
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("holidayapi")
	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		budget:  NewBudget(store, observance.SourceCalendarific, cfg.MonthlyLimit, cfg.WarningThreshold, clock, logger),
		pacer:   pacer,
		clock:   clock,
		logger:  logger,
	}
}

// Name implements observance.Source.
func (c *Client) Name() string {
	return observance.SourceCalendarific
}

// ForDate implements observance.Source.
func (c *Client) ForDate(ctx context.Context, date time.Time) []observance.Observance {
	return c.GetForDate(ctx, date)
}

// GetForDate returns holidays on date. A fresh cache entry is served
// directly. Otherwise the date is fetched if the budget allows, and any
// failure falls back to whatever was cached before.
func (c *Client) GetForDate(ctx context.Context, date time.Time) []observance.Observance {
	key := observance.DateKey(date)
	logger := c.logger.With(zap.String("date", key))

	entry, found := c.loadEntry(ctx, key)
	if found && c.fresh(entry) {
		logger.Debug("using cached holidays")
		return convert(entry.Holidays)
	}
	if c.cfg.APIKey == "" {
		logger.Warn("no api key configured, cannot fetch")
		return fallback(entry, found)
	}

	logger.Info("fetching holidays on demand")
	holidays, _, err := c.fetchAndStore(ctx, date)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			logger.Error("holiday api quota exceeded", zap.Error(err))
		} else {
			logger.Warn("on-demand fetch failed", zap.Error(err))
		}
		return fallback(entry, found)
	}
	logger.Info("fetched holidays", zap.Int("count", len(holidays)))
	return convert(holidays)
}

// CachedForDate returns the cached holidays on date, whatever their age.
// It never calls upstream.
func (c *Client) CachedForDate(ctx context.Context, date time.Time) []observance.Observance {
	entry, found := c.loadEntry(ctx, observance.DateKey(date))
	return fallback(entry, found)
}

func fallback(entry cacheEntry, found bool) []observance.Observance {
	if !found {
		return []observance.Observance{}
	}
	return convert(entry.Holidays)
}

func convert(records []json.RawMessage) []observance.Observance {
	out := make([]observance.Observance, 0, len(records))
	for _, rec := range records {
		if o, ok := toObservance(rec); ok {
			out = append(out, o)
		}
	}
	return out
}

// WeeklyPrefetch fetches the next daysAhead days starting today, skipping
// dates with a fresh cache unless force is set. It stops at the first quota
// error. A non-positive daysAhead uses the configured prefetch window.
func (c *Client) WeeklyPrefetch(ctx context.Context, daysAhead int, force bool) PrefetchStats {
	if daysAhead <= 0 {
		daysAhead = c.cfg.PrefetchDays
	}
	var stats PrefetchStats
	if c.cfg.APIKey == "" {
		c.logger.Error("no api key configured")
		stats.Error = "no api key configured"
		return stats
	}

	today := c.clock.Now()
	for i := range daysAhead {
		if ctx.Err() != nil {
			stats.Error = ctx.Err().Error()
			break
		}
		date := today.AddDate(0, 0, i)
		key := observance.DateKey(date)
		if !force {
			if entry, ok := c.loadEntry(ctx, key); ok && c.fresh(entry) {
				stats.Skipped++
				continue
			}
		}

		holidays, called, err := c.fetchAndStore(ctx, date)
		if called {
			stats.Calls++
		}
		if err != nil {
			stats.Failed++
			if errors.Is(err, ErrQuotaExceeded) {
				c.logger.Error("holiday api quota exceeded, stopping prefetch", zap.Error(err))
				stats.QuotaExceeded = true
				stats.Error = err.Error()
				break
			}
			c.logger.Warn("prefetch failed", zap.String("date", key), zap.Error(err))
			continue
		}
		stats.Fetched++
		stats.Found += len(holidays)
		c.logger.Info("prefetched holidays", zap.String("date", key), zap.Int("count", len(holidays)))
	}

	c.logger.Info("prefetch complete",
		zap.Int("fetched", stats.Fetched),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("holidays", stats.Found),
		zap.Int("api_calls", stats.Calls),
	)
	if err := c.store.WriteFile(ctx, lastPrefetchFile, []byte(c.clock.Now().Format(time.RFC3339))); err != nil {
		c.logger.Warn("record last prefetch", zap.Error(err))
	}
	return stats
}

// fetchAndStore performs one budgeted upstream call for date and caches the
// result. called reports whether a request was sent; every sent request
// counts against the budget. The call is reserved before sending and given
// back when the fetcher refused it locally.
func (c *Client) fetchAndStore(ctx context.Context, date time.Time) ([]json.RawMessage, bool, error) {
	if err := c.budget.Check(ctx); err != nil {
		metrics.ObserveHolidayAPICall("quota_exceeded")
		return nil, false, err
	}
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, c.cfg.BaseURL); err != nil {
			return nil, false, err
		}
	}

	if _, err := c.budget.Reserve(ctx); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			metrics.ObserveHolidayAPICall("quota_exceeded")
		}
		return nil, false, err
	}

	resp, fetchErr := c.fetcher.Fetch(ctx, observance.FetchRequest{
		URL:    c.requestURL(date),
		Method: http.MethodGet,
	})
	if fetchErr != nil {
		metrics.ObserveHolidayAPICall("failure")
		if errors.Is(fetchErr, observance.ErrRequestNotSent) {
			if _, err := c.budget.Release(ctx); err != nil {
				c.logger.Warn("release unsent call", zap.Error(err))
			}
			return nil, false, fmt.Errorf("fetch holidays: %w", fetchErr)
		}
		return nil, true, fmt.Errorf("fetch holidays: %w", fetchErr)
	}

	holidays, err := parseResponse(resp.Body)
	if err != nil {
		metrics.ObserveHolidayAPICall("failure")
		return nil, true, err
	}
	metrics.ObserveHolidayAPICall("success")

	key := observance.DateKey(date)
	entry := cacheEntry{CachedAt: c.clock.Now(), Date: key, Holidays: holidays}
	if err := c.store.WriteJSON(ctx, entryFile(key), entry); err != nil {
		return nil, true, fmt.Errorf("cache holidays: %w", err)
	}
	return holidays, true, nil
}

func (c *Client) requestURL(date time.Time) string {
	q := url.Values{}
	q.Set("api_key", c.cfg.APIKey)
	q.Set("country", c.cfg.Country)
	q.Set("year", strconv.Itoa(date.Year()))
	q.Set("month", strconv.Itoa(int(date.Month())))
	q.Set("day", strconv.Itoa(date.Day()))
	q.Set("type", c.cfg.Types)
	return c.cfg.BaseURL + "?" + q.Encode()
}

func entryFile(key string) string {
	return cacheDir + "/" + key + ".json"
}

func (c *Client) loadEntry(ctx context.Context, key string) (cacheEntry, bool) {
	var entry cacheEntry
	if err := c.store.ReadJSON(ctx, entryFile(key), &entry); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("read holiday cache", zap.String("date", key), zap.Error(err))
		}
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *Client) fresh(entry cacheEntry) bool {
	return !entry.CachedAt.IsZero() && c.clock.Now().Sub(entry.CachedAt) < c.cfg.CacheTTL
}

// LastPrefetch returns when WeeklyPrefetch last completed.
func (c *Client) LastPrefetch(ctx context.Context) (time.Time, bool) {
	data, err := c.store.ReadFile(ctx, lastPrefetchFile)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NeedsPrefetch reports whether the last prefetch is missing or older than
// the cache TTL.
func (c *Client) NeedsPrefetch(ctx context.Context) bool {
	last, ok := c.LastPrefetch(ctx)
	if !ok {
		return true
	}
	return c.clock.Now().Sub(last) >= c.cfg.CacheTTL
}

// Status reports budget usage and cache size.
func (c *Client) Status(ctx context.Context) Status {
	calls, err := c.budget.Count(ctx)
	if err != nil {
		c.logger.Warn("read call counter", zap.Error(err))
	}
	location := c.cfg.Country
	if c.cfg.State != "" {
		location = c.cfg.Country + "-" + c.cfg.State
	}
	st := Status{
		Enabled:          c.cfg.Enabled,
		APIKeyConfigured: c.cfg.APIKey != "",
		Country:          c.cfg.Country,
		State:            c.cfg.State,
		Location:         location,
		MonthCalls:       calls,
		MonthlyLimit:     c.budget.Limit(),
		CallsRemaining:   max(c.budget.Limit()-calls, 0),
		CacheTTL:         c.cfg.CacheTTL.String(),
		NeedsPrefetch:    c.NeedsPrefetch(ctx),
	}
	if names, err := c.store.List(ctx, cacheDir, "*.json"); err == nil {
		st.CachedDates = len(names)
	}
	if last, ok := c.LastPrefetch(ctx); ok {
		st.LastPrefetch = &last
	}
	return st
}

// CleanupCache removes entries cached more than retention ago and returns how
// many were removed. A non-positive retention uses the configured one.
func (c *Client) CleanupCache(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = c.cfg.Retention
	}
	names, err := c.store.List(ctx, cacheDir, "*.json")
	if err != nil {
		return 0, err
	}
	cutoff := c.clock.Now().Add(-retention)
	removed := 0
	for _, name := range names {
		var entry cacheEntry
		if err := c.store.ReadJSON(ctx, name, &entry); err != nil {
			continue
		}
		if entry.CachedAt.IsZero() || !entry.CachedAt.Before(cutoff) {
			continue
		}
		if err := c.store.Remove(ctx, name); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("removed old holiday cache entries", zap.Int("removed", removed))
	}
	return removed, nil
}

// Cached returns every holiday in the per-date cache, regardless of age.
func (c *Client) Cached(ctx context.Context) ([]observance.Observance, error) {
	names, err := c.store.List(ctx, cacheDir, "*.json")
	if err != nil {
		return nil, err
	}
	out := []observance.Observance{}
	for _, name := range names {
		var entry cacheEntry
		if err := c.store.ReadJSON(ctx, name, &entry); err != nil {
			c.logger.Debug("skip unreadable cache entry", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, convert(entry.Holidays)...)
	}
	return out, nil
}

// ClearDate drops the cache entry for one date.
func (c *Client) ClearDate(ctx context.Context, date time.Time) error {
	return c.store.Remove(ctx, entryFile(observance.DateKey(date)))
}

// ClearCache drops every cached date.
func (c *Client) ClearCache(ctx context.Context) error {
	names, err := c.store.List(ctx, cacheDir, "*.json")
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := c.store.Remove(ctx, name); err != nil {
			return err
		}
	}
	c.logger.Info("cleared holiday cache", zap.Int("removed", len(names)))
	return nil
}
