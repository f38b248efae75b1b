package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/specialdays/internal/observance"
)

type parsed struct {
	name string
	date observance.DayMonth
	url  string
}

func summarize(list []observance.Observance) []parsed {
	out := make([]parsed, 0, len(list))
	for _, o := range list {
		out = append(out, parsed{name: o.Name, date: o.Date, url: o.URL})
	}
	return out
}

func TestParseUN(t *testing.T) {
	t.Parallel()

	text := `### April
[A/RES/61/225](https://undocs.org/A/RES/61/225)
2 Apr
[World Health Day [WHO]](https://www.who.int/campaigns/world-health-day)
7 Apr
[International Day of Sport for Development and Peace](/en/observances/sport-day)
6 Apr
[World Immunization Week, 24-30 April [WHO]](https://www.who.int/campaigns/immunization-week)
24 Apr
[Day](https://example.org/day)
1 May
[World Health Day [WHO]](https://www.who.int/campaigns/world-health-day)
7 Apr`

	got := ParseUN(Source{Name: observance.SourceUN, URL: UNURL}, text)
	assert.Equal(t, []parsed{
		{name: "World Health Day", date: observance.DayMonth{Day: 7, Month: 4}, url: "https://www.who.int/campaigns/world-health-day"},
		{
			name: "International Day of Sport for Development and Peace",
			date: observance.DayMonth{Day: 6, Month: 4},
			url:  "https://www.un.org/en/observances/sport-day",
		},
	}, summarize(got))
	for _, o := range got {
		assert.Equal(t, observance.SourceUN, o.Source)
		assert.True(t, o.Enabled)
		assert.NotEmpty(t, o.Emoji)
	}
}

func TestParseWHO(t *testing.T) {
	t.Parallel()

	text := `**World Health Day**
7 April 2026
**World Immunization Week**
24-30 April
24 March
[World Tuberculosis Day](/campaigns/world-tb-day)
**Read more Day**
1 May`

	got := ParseWHO(Source{Name: observance.SourceWHO, URL: WHOURL}, text)
	assert.Equal(t, []parsed{
		{name: "World Health Day", date: observance.DayMonth{Day: 7, Month: 4}, url: "https://www.who.int/campaigns/world-health-day"},
		{name: "World Tuberculosis Day", date: observance.DayMonth{Day: 24, Month: 3}, url: "https://www.who.int/campaigns/world-tuberculosis-day"},
	}, summarize(got))
	for _, o := range got {
		assert.Equal(t, observance.CategoryGlobalHealth, o.Category)
	}
}

func TestParseUNESCO(t *testing.T) {
	t.Parallel()

	text := `21 Feb [International Mother Language Day](/en/days/mother-language)
[World Press Freedom Day](/en/days/press-freedom)
3 May
[International Decade of Indigenous Languages](/en/decades/indigenous-languages)
2022
5 Oct [Read more](/en/days/teachers)`

	got := ParseUNESCO(Source{Name: observance.SourceUNESCO, URL: UNESCOURL}, text)
	assert.Equal(t, []parsed{
		{name: "International Mother Language Day", date: observance.DayMonth{Day: 21, Month: 2}, url: "https://www.unesco.org/en/days/mother-language"},
		{name: "World Press Freedom Day", date: observance.DayMonth{Day: 3, Month: 5}, url: "https://www.unesco.org/en/days/press-freedom"},
	}, summarize(got))
}

func TestParseGeneric(t *testing.T) {
	t.Parallel()

	text := `5 October [World Teachers' Day](https://example.org/teachers)
[International Literacy Day](/literacy) 8 Sep
31 Feb [Impossible Day](/impossible)`

	// Date-first entries are collected before link-first ones.
	got := ParseGeneric(Source{Name: "Example", URL: "https://example.org/list"}, text)
	assert.Equal(t, []parsed{
		{name: "World Teachers' Day", date: observance.DayMonth{Day: 5, Month: 10}, url: "https://example.org/teachers"},
		{name: "Impossible Day", date: observance.DayMonth{Day: 31, Month: 2}, url: "https://example.org/impossible"},
		{name: "International Literacy Day", date: observance.DayMonth{Day: 8, Month: 9}, url: "https://example.org/literacy"},
	}, summarize(got))
}

func TestParsersReturnEmptyOnNoise(t *testing.T) {
	t.Parallel()

	for name, p := range parsers {
		got := p(Source{Name: name, URL: "https://example.org"}, "nothing to see here\n[Home](/)\n")
		require.NotNil(t, got, name)
		assert.Empty(t, got, name)
	}
}

func TestLookupParser(t *testing.T) {
	t.Parallel()

	src := Source{Name: observance.SourceUN, URL: UNURL}
	text := "[World Health Day [WHO]](https://www.who.int/x)\n7 Apr"
	assert.Len(t, LookupParser("UN")(src, text), 1)
	assert.Len(t, LookupParser("unknown")(src, "7 Apr [World Health Day](https://www.who.int/x)"), 1)
}
