package holidayapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/specialdays/internal/fetcher/colly"
	"github.com/JakeFAU/specialdays/internal/keywords"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/storage/local"
)

const (
	swissDayResponse = `{"meta":{"code":200},"response":{"holidays":[
		{"name":"Swiss National Day","description":"Swiss National Day is a national holiday in Switzerland",
		 "date":{"iso":"2026-08-01","datetime":{"year":2026,"month":8,"day":1}},"type":["National holiday"]},
		{"name":"World Health Day","description":"A global awareness day run by the World Health Organization",
		 "date":{"iso":"2026-08-01"},"type":["Worldwide observance"]},
		{"name":"June Solstice","description":"","date":{"iso":"2026-08-01T10:24:00+02:00"},"type":["Season"]}
	]}}`
	emptyResponse = `{"meta":{"code":200},"response":[]}`
	errorResponse = `{"meta":{"code":401,"error_type":"auth failed","error_detail":"Invalid API key"},"response":[]}`
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFetcher struct {
	mu      sync.Mutex
	respond func(q url.Values) (string, error)
	urls    []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req observance.FetchRequest) (observance.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, req.URL)
	u, err := url.Parse(req.URL)
	if err != nil {
		return observance.FetchResponse{}, err
	}
	body, err := f.respond(u.Query())
	if err != nil {
		return observance.FetchResponse{}, err
	}
	return observance.FetchResponse{StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

func (f *fakeFetcher) setRespond(fn func(q url.Values) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
}

type countingPacer struct {
	waits atomic.Int32
}

func (p *countingPacer) Wait(context.Context, string) error {
	p.waits.Add(1)
	return nil
}

var start = time.Date(2026, time.August, 1, 8, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeFetcher, *fakeClock) {
	t.Helper()
	store, err := local.New(local.Config{BaseDir: t.TempDir(), LockTimeout: time.Second})
	require.NoError(t, err)
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	if cfg.Country == "" {
		cfg.Country = "CH"
	}
	fetcher := &fakeFetcher{respond: func(url.Values) (string, error) { return swissDayResponse, nil }}
	clock := &fakeClock{now: start}
	return New(cfg, fetcher, store, nil, clock, zap.NewNop()), fetcher, clock
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	kept, err := parseResponse([]byte(swissDayResponse))
	require.NoError(t, err)
	assert.Len(t, kept, 2, "season entries are dropped")

	none, err := parseResponse([]byte(emptyResponse))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = parseResponse([]byte(errorResponse))
	require.ErrorIs(t, err, errAPI)
	assert.Contains(t, err.Error(), "Invalid API key")

	_, err = parseResponse([]byte("<html>"))
	require.Error(t, err)
}

func TestToObservance(t *testing.T) {
	t.Parallel()

	kept, err := parseResponse([]byte(swissDayResponse))
	require.NoError(t, err)

	swiss, ok := toObservance(kept[0])
	require.True(t, ok)
	assert.Equal(t, observance.DayMonth{Day: 1, Month: 8}, swiss.Date)
	assert.Equal(t, "Swiss National Day", swiss.Name)
	assert.Equal(t, observance.SourceCalendarific, swiss.Source)
	assert.Equal(t, observance.CategoryCulture, swiss.Category)
	assert.Equal(t, keywords.DefaultEmoji, swiss.Emoji)
	assert.True(t, swiss.Enabled)
	require.NoError(t, swiss.Validate())

	who, ok := toObservance(kept[1])
	require.True(t, ok)
	assert.Equal(t, observance.SourceWHO, who.Source)
	assert.Equal(t, observance.CategoryGlobalHealth, who.Category)

	noDesc, ok := toObservance([]byte(`{"name":"Lake Day","date":{"iso":"2026-07-01T00:00:00Z"}}`))
	require.True(t, ok)
	assert.Equal(t, "International observance: Lake Day", noDesc.Description)
	assert.Equal(t, observance.DayMonth{Day: 1, Month: 7}, noDesc.Date)

	_, ok = toObservance([]byte(`{"name":"No Date"}`))
	assert.False(t, ok)
}

func TestAttribute(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Declared by the World Health Organization": observance.SourceWHO,
		"WHO campaign":                     observance.SourceWHO,
		"A day for the whole family":       observance.SourceCalendarific,
		"Adopted by the United Nations":    observance.SourceUN,
		"The UN General Assembly declared": observance.SourceUN,
		"A fun day":                        observance.SourceCalendarific,
		"Proclaimed by UNESCO":             observance.SourceUNESCO,
		"Backed by UNICEF":                 "UNICEF",
		"":                                 observance.SourceCalendarific,
	}
	for in, want := range tests {
		assert.Equal(t, want, attribute(in), in)
	}
}

func TestGetForDateCachesPerAbsoluteDate(t *testing.T) {
	t.Parallel()
	c, fetcher, clock := newTestClient(t, Config{MonthlyLimit: 100})
	ctx := context.Background()

	got := c.GetForDate(ctx, start)
	require.Len(t, got, 2)
	assert.Equal(t, 1, fetcher.calls())

	q, err := url.Parse(fetcher.urls[0])
	require.NoError(t, err)
	assert.Equal(t, "test-key", q.Query().Get("api_key"))
	assert.Equal(t, "CH", q.Query().Get("country"))
	assert.Equal(t, "2026", q.Query().Get("year"))
	assert.Equal(t, "8", q.Query().Get("month"))
	assert.Equal(t, "1", q.Query().Get("day"))
	assert.Equal(t, DefaultTypes, q.Query().Get("type"))

	require.Len(t, c.GetForDate(ctx, start), 2)
	assert.Equal(t, 1, fetcher.calls(), "fresh cache is served")

	// Same day and month a year later is a different cache key.
	c.GetForDate(ctx, start.AddDate(1, 0, 0))
	assert.Equal(t, 2, fetcher.calls())

	clock.Advance(DefaultCacheTTL)
	c.GetForDate(ctx, start)
	assert.Equal(t, 3, fetcher.calls(), "stale cache is refetched")
}

func TestGetForDateFallsBackToStaleCache(t *testing.T) {
	t.Parallel()
	c, fetcher, clock := newTestClient(t, Config{MonthlyLimit: 100})
	ctx := context.Background()

	require.Len(t, c.GetForDate(ctx, start), 2)
	clock.Advance(8 * 24 * time.Hour)
	fetcher.setRespond(func(url.Values) (string, error) { return "", errors.New("timeout") })

	got := c.GetForDate(ctx, start)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, fetcher.calls())

	fetcher.setRespond(func(url.Values) (string, error) { return errorResponse, nil })
	assert.Len(t, c.GetForDate(ctx, start), 2, "api errors also fall back")

	assert.Empty(t, c.GetForDate(ctx, start.AddDate(0, 0, 1)), "no cache and no data")
}

func TestGetForDateRespectsQuota(t *testing.T) {
	t.Parallel()
	c, fetcher, clock := newTestClient(t, Config{MonthlyLimit: 1})
	ctx := context.Background()

	require.Len(t, c.GetForDate(ctx, start), 2)
	clock.Advance(8 * 24 * time.Hour)

	got := c.GetForDate(ctx, start)
	assert.Len(t, got, 2, "stale data is served once the quota is spent")
	assert.Equal(t, 1, fetcher.calls())
}

func TestGetForDateWithoutKey(t *testing.T) {
	t.Parallel()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	fetcher := &fakeFetcher{respond: func(url.Values) (string, error) { return swissDayResponse, nil }}
	c := New(Config{}, fetcher, store, nil, &fakeClock{now: start}, nil)

	assert.Empty(t, c.GetForDate(context.Background(), start))
	assert.Zero(t, fetcher.calls())
	stats := c.WeeklyPrefetch(context.Background(), 7, false)
	assert.NotEmpty(t, stats.Error)
	assert.Zero(t, fetcher.calls())
}

func TestWeeklyPrefetch(t *testing.T) {
	t.Parallel()
	c, fetcher, _ := newTestClient(t, Config{MonthlyLimit: 10})
	ctx := context.Background()
	pacer := &countingPacer{}
	c.pacer = pacer

	first := c.WeeklyPrefetch(ctx, 7, false)
	assert.Equal(t, PrefetchStats{Fetched: 7, Found: 14, Calls: 7}, first)
	assert.EqualValues(t, 7, pacer.waits.Load())

	second := c.WeeklyPrefetch(ctx, 7, false)
	assert.Equal(t, PrefetchStats{Skipped: 7}, second)
	assert.Equal(t, 7, fetcher.calls())

	forced := c.WeeklyPrefetch(ctx, 7, true)
	assert.Equal(t, 3, forced.Fetched)
	assert.Equal(t, 3, forced.Calls)
	assert.Equal(t, 1, forced.Failed)
	assert.True(t, forced.QuotaExceeded)
	assert.Equal(t, 10, fetcher.calls())

	n, err := c.budget.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestWeeklyPrefetchContinuesPastFailures(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestClient(t, Config{MonthlyLimit: 100})
	c.fetcher.(*fakeFetcher).setRespond(func(q url.Values) (string, error) {
		if q.Get("day") == "3" {
			return "", errors.New("connection reset")
		}
		if q.Get("day") == "4" {
			return emptyResponse, nil
		}
		return swissDayResponse, nil
	})

	stats := c.WeeklyPrefetch(context.Background(), 5, false)
	assert.Equal(t, PrefetchStats{Fetched: 4, Failed: 1, Found: 6, Calls: 5}, stats)
}

func TestNeedsPrefetchAndStatus(t *testing.T) {
	t.Parallel()
	c, _, clock := newTestClient(t, Config{MonthlyLimit: 500, Enabled: true, State: "VD"})
	ctx := context.Background()

	assert.True(t, c.NeedsPrefetch(ctx))
	st := c.Status(ctx)
	assert.Nil(t, st.LastPrefetch)
	assert.Equal(t, 500, st.CallsRemaining)
	assert.Equal(t, "CH-VD", st.Location)

	c.WeeklyPrefetch(ctx, 3, false)
	assert.False(t, c.NeedsPrefetch(ctx))

	st = c.Status(ctx)
	assert.True(t, st.Enabled)
	assert.True(t, st.APIKeyConfigured)
	assert.Equal(t, 3, st.MonthCalls)
	assert.Equal(t, 497, st.CallsRemaining)
	assert.Equal(t, 3, st.CachedDates)
	require.NotNil(t, st.LastPrefetch)
	assert.True(t, st.LastPrefetch.Equal(start))
	assert.False(t, st.NeedsPrefetch)

	clock.Advance(DefaultCacheTTL)
	assert.True(t, c.NeedsPrefetch(ctx))
}

func TestCleanupAndClearCache(t *testing.T) {
	t.Parallel()
	c, _, clock := newTestClient(t, Config{MonthlyLimit: 100})
	ctx := context.Background()

	c.WeeklyPrefetch(ctx, 2, false)
	clock.Advance(20 * 24 * time.Hour)
	c.GetForDate(ctx, start.AddDate(0, 1, 0))
	clock.Advance(11 * 24 * time.Hour)

	cached, err := c.Cached(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 6)

	removed, err := c.CleanupCache(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Status(ctx).CachedDates)

	require.NoError(t, c.ClearDate(ctx, start.AddDate(0, 1, 0)))
	assert.Zero(t, c.Status(ctx).CachedDates)

	c.WeeklyPrefetch(ctx, 2, false)
	require.NoError(t, c.ClearCache(ctx))
	assert.Zero(t, c.Status(ctx).CachedDates)
}

func TestBudgetMonthRollover(t *testing.T) {
	t.Parallel()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, time.January, 31, 23, 0, 0, 0, time.UTC)}
	b := NewBudget(store, "Calendarific", 2, 1, clock, zap.NewNop())
	ctx := context.Background()

	for range 2 {
		_, err := b.Reserve(ctx)
		require.NoError(t, err)
	}
	_, err = b.Reserve(ctx)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.ErrorIs(t, b.Check(ctx), ErrQuotaExceeded)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, "2026-02", b.MonthKey())
	require.NoError(t, b.Check(ctx))
	n, err := b.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := store.ReadFile(ctx, "holidayapi/calls/calendarific-2026-01.count")
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))
}

func TestBudgetConcurrentReserve(t *testing.T) {
	t.Parallel()
	store, err := local.New(local.Config{BaseDir: t.TempDir(), LockTimeout: 5 * time.Second})
	require.NoError(t, err)
	b := NewBudget(store, "Calendarific", 5, 0, &fakeClock{now: start}, nil)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Reserve(context.Background()); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 5, ok.Load())
	n, err := b.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestClientOverHTTP(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("api_key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = fmt.Fprint(w, errorResponse)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, swissDayResponse)
	}))
	defer srv.Close()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	fetcher := collyfetcher.New(collyfetcher.Config{UserAgent: "specialdays-test", Timeout: 5 * time.Second})
	c := New(Config{APIKey: "k", Country: "CH", BaseURL: srv.URL, MonthlyLimit: 10}, fetcher, store, nil, &fakeClock{now: start}, nil)

	got := c.GetForDate(context.Background(), start)
	require.Len(t, got, 2)
	assert.Equal(t, "Swiss National Day", got[0].Name)
	assert.EqualValues(t, 1, hits.Load())

	bad := New(Config{APIKey: "wrong", Country: "CH", BaseURL: srv.URL, MonthlyLimit: 10}, fetcher, store, nil, &fakeClock{now: start}, nil)
	assert.Len(t, bad.GetForDate(context.Background(), start), 2, "cached entry is shared by date")
	stats := bad.WeeklyPrefetch(context.Background(), 1, true)
	assert.Equal(t, 1, stats.Failed)
}

func TestUnsentCallsAreNotCharged(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestClient(t, Config{MonthlyLimit: 10})
	c.fetcher.(*fakeFetcher).setRespond(func(url.Values) (string, error) {
		return "", fmt.Errorf("blocked locally: %w", observance.ErrRequestNotSent)
	})
	ctx := context.Background()

	stats := c.WeeklyPrefetch(ctx, 3, false)
	assert.Equal(t, PrefetchStats{Failed: 3}, stats)
	assert.Empty(t, c.GetForDate(ctx, start))

	n, err := c.budget.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRobotsBlockedAPINeverSpendsBudget(t *testing.T) {
	t.Parallel()

	var apiHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /api/\n")
			return
		}
		apiHits.Add(1)
		_, _ = fmt.Fprint(w, swissDayResponse)
	}))
	defer srv.Close()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	fetcher := collyfetcher.New(collyfetcher.Config{RespectRobots: true, Timeout: 5 * time.Second})
	c := New(Config{APIKey: "k", Country: "CH", BaseURL: srv.URL + "/api/holidays", MonthlyLimit: 10}, fetcher, store, nil, &fakeClock{now: start}, nil)
	ctx := context.Background()

	stats := c.WeeklyPrefetch(ctx, 3, false)
	assert.Equal(t, 3, stats.Failed)
	assert.Zero(t, stats.Calls)
	assert.Zero(t, apiHits.Load())

	n, err := c.budget.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCachedForDateNeverFetches(t *testing.T) {
	t.Parallel()
	c, fetcher, clock := newTestClient(t, Config{MonthlyLimit: 10})
	ctx := context.Background()

	assert.Empty(t, c.CachedForDate(ctx, start))
	assert.Zero(t, fetcher.calls())

	require.Len(t, c.GetForDate(ctx, start), 2)
	clock.Advance(2 * DefaultCacheTTL)
	assert.Len(t, c.CachedForDate(ctx, start), 2, "stale entries are still served")
	assert.Equal(t, 1, fetcher.calls())
}

func TestBudgetRelease(t *testing.T) {
	t.Parallel()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	b := NewBudget(store, "Calendarific", 1, 0, &fakeClock{now: start}, nil)
	ctx := context.Background()

	n, err := b.Release(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "never goes below zero")

	_, err = b.Reserve(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, b.Check(ctx), ErrQuotaExceeded)

	n, err = b.Release(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, b.Check(ctx))
}
