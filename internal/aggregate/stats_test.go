package aggregate

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/holidayapi"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/storage/local"
)

type fetcherFunc func(ctx context.Context, req observance.FetchRequest) (observance.FetchResponse, error)

func (f fetcherFunc) Fetch(ctx context.Context, req observance.FetchRequest) (observance.FetchResponse, error) {
	return f(ctx, req)
}

func TestGetStatistics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, healthDayHoliday(), nil)
	ctx := context.Background()
	f.svc.Initialize(ctx)

	st := f.svc.GetStatistics(ctx)
	assert.Equal(t, 9, st.Total)
	assert.Equal(t, 8, st.Enabled)
	assert.Equal(t, map[string]int{
		observance.SourceUN:           3,
		observance.SourceWHO:          1,
		observance.SourceCustom:       4,
		observance.SourceCalendarific: 1,
	}, st.BySource)
	assert.Equal(t, 4, st.CustomEntries)
	assert.Equal(t, CategoryStats{Total: 2, Enabled: 1, CategoryEnabled: true}, st.ByCategory[observance.CategoryCustom])
	assert.Equal(t, CategoryStats{Total: 2, Enabled: 2, CategoryEnabled: true}, st.ByCategory[observance.CategoryGlobalHealth])
	assert.Equal(t, 1, st.Next7Days)
	assert.Equal(t, 2, st.Next30Days)
	assert.False(t, st.Degraded)
}

func TestGetStatisticsReadsCachesOnly(t *testing.T) {
	t.Parallel()
	holidays := healthDayHoliday()
	f := newFixture(t, true, holidays, nil)

	st := f.svc.GetStatistics(context.Background())
	assert.Zero(t, f.runner.calls.Load(), "stale sources are not scraped")
	assert.Zero(t, holidays.live.Load(), "holiday dates are not fetched")
	assert.Equal(t, 1, st.Next7Days)
	assert.Equal(t, 1, st.Next30Days)
}

func TestGetStatisticsSpendsNoHolidayBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	var calls atomic.Int32
	fetcher := fetcherFunc(func(context.Context, observance.FetchRequest) (observance.FetchResponse, error) {
		calls.Add(1)
		return observance.FetchResponse{StatusCode: http.StatusOK, Body: []byte(`{"meta":{"code":200},"response":[]}`)}, nil
	})
	clock := fakeClock{now: worldHealthDay}
	client := holidayapi.New(holidayapi.Config{APIKey: "k", Country: "CH", MonthlyLimit: 100}, fetcher, store, nil, clock, zap.NewNop())
	svc := New(Options{Holidays: client, Store: store, Clock: clock, Logger: zap.NewNop()})

	st := svc.GetStatistics(ctx)
	assert.Zero(t, st.Next30Days)
	assert.Zero(t, calls.Load())
	assert.Zero(t, client.Status(ctx).MonthCalls)

	svc.GetForDate(ctx, worldHealthDay)
	assert.EqualValues(t, 1, calls.Load(), "live reads still fetch")
	assert.Equal(t, 1, client.Status(ctx).MonthCalls)
}

func TestStatisticsWithNothing(t *testing.T) {
	t.Parallel()
	svc := New(Options{Clock: fakeClock{now: worldHealthDay}})

	st := svc.GetStatistics(context.Background())
	assert.Zero(t, st.Total)
	assert.Empty(t, st.BySource)
	assert.Len(t, st.ByCategory, len(observance.Categories()))
	assert.True(t, st.Degraded)
}

func TestVerify(t *testing.T) {
	t.Parallel()
	bad := observance.Observance{
		Date:     observance.DayMonth{Day: 31, Month: 4},
		Name:     "Month End",
		Category: observance.CategoryCustom,
		URL:      "https://example.com",
	}
	custom := &fakeCustom{list: append(customList(), bad)}
	svc := New(Options{Custom: custom, Clock: fakeClock{now: worldHealthDay}})

	r := svc.Verify(context.Background())
	assert.False(t, r.OK())
	assert.Equal(t, 5, r.Total)
	assert.Equal(t, 3, r.WithSource)
	assert.Equal(t, 1, r.WithURL)
	assert.Equal(t, []string{"31/04: Month End"}, r.MissingDescription)
	assert.Equal(t, []string{"31/04: Month End"}, r.MissingEmoji)
	assert.Equal(t, []string{"07/04: Team Offsite", "31/04: Month End"}, r.MissingSource)
	assert.Equal(t, map[string][]string{"07/04": {"Launch Anniversary", "Quiet Day"}}, r.DuplicateDates)
	assert.Equal(t, []string{"31/04: Month End"}, r.InvalidDates)
	assert.Equal(t, 3, r.ByCategory[observance.CategoryCustom])

	clean := New(Options{Custom: &fakeCustom{list: customList()[:1]}, Clock: fakeClock{}})
	assert.True(t, clean.Verify(context.Background()).OK())
}

func TestGroupByCategory(t *testing.T) {
	t.Parallel()
	list := []observance.Observance{
		obs(7, 4, "World Health Day", observance.CategoryGlobalHealth, observance.SourceUN),
		obs(7, 4, "Team Offsite", observance.CategoryCustom, observance.SourceCustom),
		obs(7, 4, "Launch", observance.CategoryTech, observance.SourceCustom),
		obs(7, 4, "Sleep Day", observance.CategoryGlobalHealth, observance.SourceCustom),
	}

	grouped := GroupByCategory(list)
	require.Len(t, grouped, 3)
	assert.Equal(t, []string{"World Health Day", "Sleep Day"}, names(grouped[observance.CategoryGlobalHealth]))
	assert.Equal(t, []observance.Category{
		observance.CategoryGlobalHealth, observance.CategoryTech, observance.CategoryCustom,
	}, GroupedCategories(grouped))
	assert.Empty(t, GroupByCategory(nil))
}

func TestShouldSplit(t *testing.T) {
	t.Parallel()
	health := obs(7, 4, "World Health Day", observance.CategoryGlobalHealth, observance.SourceUN)
	sleep := obs(7, 4, "Sleep Day", observance.CategoryGlobalHealth, observance.SourceCustom)
	tech := obs(7, 4, "Launch", observance.CategoryTech, observance.SourceCustom)

	tests := []struct {
		name      string
		list      []observance.Observance
		threshold int
		want      bool
	}{
		{name: "empty", want: false},
		{name: "single", list: []observance.Observance{health}, threshold: 0, want: false},
		{name: "same category", list: []observance.Observance{health, sleep}, want: false},
		{name: "mixed categories", list: []observance.Observance{health, tech}, want: true},
		{name: "over threshold", list: []observance.Observance{health, sleep, health}, threshold: 2, want: true},
		{name: "at threshold", list: []observance.Observance{health, sleep}, threshold: 2, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ShouldSplit(tt.list, tt.threshold))
		})
	}
}
