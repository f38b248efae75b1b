package dedup

import (
	"regexp"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/observance"
)

func day(d, m int) observance.DayMonth {
	return observance.DayMonth{Day: d, Month: m}
}

func obs(date observance.DayMonth, name, source string) observance.Observance {
	return observance.Observance{Date: date, Name: name, Source: source, Enabled: true}
}

func newEngine() *Engine {
	return New(zap.NewNop(), DefaultOptions(), nil)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"International Day of Peace", "peace"},
		{"WORLD HEALTH DAY", "health"},
		{"World TB Day", "tuberculosis"},
		{"International Women's Day", "womens"},
		{"World No-Tobacco Day", "no tobacco"},
		{"World AIDS Day", "hiv aids"},
		{"HIV/AIDS Awareness", "hiv aids awareness"},
		{"International Day of the Girl Child", "girl child"},
		{"  Global   Handwashing Day ", "handwashing"},
		{"Journée de la Francophonie", "journée de la french language"},
		// No leading qualifier, so the trailing "day" stays.
		{"Christmas Day", "christmas day"},
		{"Christmas Eve", "christmas eve"},
		{"", ""},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeStripsStackedQualifiers(t *testing.T) {
	t.Parallel()

	// Each pass strips one leading qualifier and passes repeat to a fixed
	// point, so stacked qualifiers all go.
	assert.Equal(t, "oceans", Normalize("UN World Oceans Day"))
	assert.Equal(t, "oceans", Normalize("World Oceans Day"))
	assert.Equal(t, "health", Normalize("World World Health Day"))
	assert.Equal(t, "oceans", normalizeOnce("world oceans"), "a single pass strips one qualifier")
	assert.Equal(t, "world oceans", normalizeOnce("un world oceans day"))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	fixed := []string{
		"World World Health Day",
		"International Day of International Cooperation Week",
		"World's Oceans Day",
		"HIV & AIDS, HIV",
		"UN Global National Day",
	}
	faker := gofakeit.New(42)
	prefixes := []string{"", "World ", "International Day of the ", "Global ", "UN ", "national "}
	suffixes := []string{"", " Day", " Week", " Month", " Eve", "-Day"}
	for range 200 {
		fixed = append(fixed, faker.RandomString(prefixes)+faker.Adjective()+" "+faker.Noun()+faker.RandomString(suffixes))
	}

	for _, name := range fixed {
		once := Normalize(name)
		assert.Equal(t, once, Normalize(once), "name %q", name)
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		rule Rule
	}{
		{"case only", "World Health Day", "world health day", RuleExact},
		{"qualifier variants", "International Day of Peace", "World Peace Day", RuleNormalized},
		{"abbreviation", "World TB Day", "World Tuberculosis Day", RuleNormalized},
		{"contained short form", "World Health Day", "Health Day", RuleContainment},
		{"shared words", "World Day for Cultural Diversity for Dialogue and Development", "Cultural Diversity Day", RuleWordOverlap},
		{"connector words only", "Day of the Seafarer", "Seafarer Day", RuleSingleWord},
		{"prefix", "Ramadan", "Ramadan begins with prayers", RuleAffix},
		{"one shared word", "World Health Day", "Mental Health Day", RuleNone},
		{"day versus eve", "Christmas Day", "Christmas Eve", RuleNone},
		{"unrelated", "Swiss National Day", "World Health Day", RuleNone},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Match(tc.a, tc.b)
			assert.Equal(t, tc.rule, got.Rule)
			assert.Equal(t, tc.rule != RuleNone, got.Match)
			if got.Match {
				assert.Greater(t, got.Confidence, 0.0)
				assert.LessOrEqual(t, got.Confidence, 1.0)
			}
			// Matching is symmetric.
			assert.Equal(t, got.Match, Match(tc.b, tc.a).Match)
		})
	}
}

func TestMatcherHonoursRatio(t *testing.T) {
	t.Parallel()

	// "ramadan" is about a quarter of the longer name.
	a, b := "Ramadan", "Ramadan begins with prayers"
	assert.Equal(t, RuleAffix, Match(a, b).Rule)
	loose := NewMatcher(Options{ContainmentRatio: 0.25})
	assert.Equal(t, RuleContainment, loose.Match(a, b).Rule)
}

func TestDeduplicateEmptyAndSingle(t *testing.T) {
	t.Parallel()

	e := newEngine()
	got := e.Deduplicate(nil)
	require.NotNil(t, got)
	assert.Empty(t, got)

	one := []observance.Observance{obs(day(7, 4), "World Health Day", "WHO")}
	assert.Equal(t, one, e.Deduplicate(one))
}

func TestDeduplicateKeepsHigherPriority(t *testing.T) {
	t.Parallel()

	e := newEngine()
	un := obs(day(7, 4), "World Health Day", observance.SourceUN)
	api := obs(day(7, 4), "Health Day", observance.SourceCalendarific)

	for _, input := range [][]observance.Observance{{un, api}, {api, un}} {
		got := e.Deduplicate(input)
		require.Len(t, got, 1)
		assert.Equal(t, observance.SourceUN, got[0].Source)
		assert.Equal(t, "World Health Day", got[0].Name)
	}
}

func TestDeduplicateDifferentDates(t *testing.T) {
	t.Parallel()

	got := newEngine().Deduplicate([]observance.Observance{
		obs(day(1, 8), "Swiss National Day", observance.SourceCalendarific),
		obs(day(7, 4), "World Health Day", observance.SourceUN),
	})
	require.Len(t, got, 2)
	// Priority order, then input order.
	assert.Equal(t, observance.SourceUN, got[0].Source)
	assert.Equal(t, observance.SourceCalendarific, got[1].Source)

	same := newEngine().Deduplicate([]observance.Observance{
		obs(day(7, 4), "World Health Day", observance.SourceUN),
		obs(day(8, 4), "World Health Day", observance.SourceUN),
	})
	assert.Len(t, same, 2)
}

func TestDeduplicateManySources(t *testing.T) {
	t.Parallel()

	input := []observance.Observance{
		obs(day(24, 3), "world tuberculosis day", observance.SourceCustom),
		obs(day(24, 3), "Tuberculosis Day", observance.SourceCalendarific),
		obs(day(24, 3), "World TB Day", observance.SourceWHO),
		obs(day(24, 3), "World Tuberculosis Day", observance.SourceUN),
		obs(day(24, 3), "World Water Day", observance.SourceUN),
	}
	snapshot := observance.Clone(input)

	got := newEngine().Deduplicate(input)
	require.Len(t, got, 2)
	// Ties within a priority keep input order, so WHO precedes UN.
	assert.Equal(t, observance.SourceWHO, got[0].Source)
	assert.Equal(t, "World Water Day", got[1].Name)
	assert.Equal(t, snapshot, input, "input must not be reordered")
}

func TestDeduplicateCustomPriorities(t *testing.T) {
	t.Parallel()

	e := New(nil, Options{}, map[string]int{observance.SourceCustom: 0})
	got := e.Deduplicate([]observance.Observance{
		obs(day(7, 4), "World Health Day", observance.SourceUN),
		obs(day(7, 4), "world health day", observance.SourceCustom),
	})
	require.Len(t, got, 1)
	assert.Equal(t, observance.SourceCustom, got[0].Source)
	assert.Equal(t, PriorityFallback, e.Priority(observance.SourceUN))
}

var lowerWord = regexp.MustCompile(`^[a-z]{5,}$`)

// Nouns that are themselves qualifiers would be stripped away entirely.
var qualifierNouns = map[string]struct{}{"world": {}, "international": {}, "global": {}, "national": {}, "united": {}}

func randomReports(seed int64) []observance.Observance {
	faker := gofakeit.New(seed)
	seen := make(map[string]struct{})
	var nouns []string
	for len(nouns) < 15 {
		n := faker.Noun()
		if !lowerWord.MatchString(n) {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		if _, q := qualifierNouns[n]; q {
			continue
		}
		seen[n] = struct{}{}
		nouns = append(nouns, n)
	}

	var list []observance.Observance
	for _, n := range nouns {
		d := day(faker.Number(1, 3), 5)
		list = append(list,
			obs(d, "World "+n+" Day", observance.SourceUN),
			obs(d, n+" Day", observance.SourceCalendarific),
		)
	}
	faker.ShuffleAnySlice(list)
	return list
}

func TestDeduplicateProperties(t *testing.T) {
	t.Parallel()

	e := newEngine()
	for seed := int64(1); seed <= 20; seed++ {
		input := randomReports(seed)
		once := e.Deduplicate(input)

		assert.Equal(t, once, e.Deduplicate(once), "seed %d: dedup must be a fixed point", seed)
		for _, o := range once {
			assert.Equal(t, observance.SourceUN, o.Source, "seed %d: %q survived", seed, o.Name)
			assert.Regexp(t, `^\d{2}/\d{2}$`, o.Date.String())
		}
	}
}
