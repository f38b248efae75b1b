package calendarfeed

import (
	"bytes"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/specialdays/internal/aggregate"
	"github.com/JakeFAU/specialdays/internal/observance"
)

var (
	healthDay = observance.Observance{
		Date:        observance.DayMonth{Day: 7, Month: 4},
		Name:        "World Health Day",
		Category:    observance.CategoryGlobalHealth,
		Description: "Marks the founding of WHO.",
		Emoji:       "🏥",
		Enabled:     true,
		Source:      observance.SourceUN,
		URL:         "https://www.who.int/campaigns/world-health-day",
	}
	piDay = observance.Observance{
		Date:     observance.DayMonth{Day: 14, Month: 3},
		Name:     "Pi Day",
		Category: observance.CategoryTech,
		Enabled:  true,
	}
)

func TestWriteRoundTrip(t *testing.T) {
	t.Parallel()
	days := []aggregate.Day{
		{Date: time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC), Observances: []observance.Observance{piDay}},
		{Date: time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC), Observances: []observance.Observance{}},
		{Date: time.Date(2026, time.April, 7, 0, 0, 0, 0, time.UTC), Observances: []observance.Observance{healthDay}},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, days, Options{Now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}))

	cal, err := ical.ParseCalendar(&buf)
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, UID(piDay), first.Id())
	assert.Equal(t, "Pi Day", first.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Nil(t, first.GetProperty(ical.ComponentPropertyDescription))

	second := events[1]
	assert.Equal(t, "🏥 World Health Day", second.GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, "Global Health", second.GetProperty(ical.ComponentPropertyCategories).Value)
	rule := second.GetProperty(ical.ComponentPropertyRrule).Value
	assert.Contains(t, rule, "FREQ=YEARLY")
	assert.Contains(t, rule, "BYMONTH=4")
	assert.Contains(t, rule, "BYMONTHDAY=7")

	start, err := second.GetAllDayStartAt()
	require.NoError(t, err)
	assert.Equal(t, time.April, start.Month())
	assert.Equal(t, 7, start.Day())
}

func TestBuildSkipsRepeats(t *testing.T) {
	t.Parallel()
	days := []aggregate.Day{
		{Date: time.Date(2026, time.April, 7, 0, 0, 0, 0, time.UTC), Observances: []observance.Observance{healthDay}},
		{Date: time.Date(2027, time.April, 7, 0, 0, 0, 0, time.UTC), Observances: []observance.Observance{healthDay}},
	}
	cal, err := Build(days, Options{})
	require.NoError(t, err)
	assert.Len(t, cal.Events(), 1)
}

func TestUIDIsStable(t *testing.T) {
	t.Parallel()
	renamed := healthDay
	renamed.Name = "  world health day "
	assert.Equal(t, UID(healthDay), UID(renamed))

	moved := healthDay
	moved.Date = observance.DayMonth{Day: 8, Month: 4}
	assert.NotEqual(t, UID(healthDay), UID(moved))
}

func TestRuleRecurs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		date observance.DayMonth
		from time.Time
		want time.Time
	}{
		{
			name: "next year",
			date: observance.DayMonth{Day: 7, Month: 4},
			from: time.Date(2026, time.April, 8, 0, 0, 0, 0, time.UTC),
			want: time.Date(2027, time.April, 7, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "leap day waits for a leap year",
			date: observance.DayMonth{Day: 29, Month: 2},
			from: time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2028, time.February, 29, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := Rule(tt.date)
			require.NoError(t, err)
			r.DTStart(time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
			assert.Equal(t, tt.want, r.After(tt.from, true))
		})
	}
}
