package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/specialdays/internal/keywords"
	"github.com/JakeFAU/specialdays/internal/observance"
)

var monthNumbers = func() map[string]int {
	names := []string{
		"january", "february", "march", "april", "may", "june",
		"july", "august", "september", "october", "november", "december",
	}
	m := make(map[string]int, 2*len(names)+1)
	for i, n := range names {
		m[n] = i + 1
		m[n[:3]] = i + 1
	}
	m["sept"] = 9
	return m
}()

// MonthNumber maps an English month name or its three-letter abbreviation,
// in any case, to 1-12. It returns 0 for anything else.
func MonthNumber(name string) int {
	return monthNumbers[strings.ToLower(strings.TrimSpace(strings.TrimSuffix(name, ".")))]
}

// ProcessStats counts item-level outcomes of ProcessItems.
type ProcessStats struct {
	Valid     int
	Invalid   int
	Duplicate int
}

// ProcessItems turns raw structured items into observances for src. Items
// with an unusable day, month or name are skipped, as are repeated names.
func ProcessItems(src Source, items []map[string]any) ([]observance.Observance, ProcessStats) {
	var stats ProcessStats
	seen := make(map[string]struct{})
	out := make([]observance.Observance, 0, len(items))

	for _, item := range items {
		day, ok := intField(item["day"])
		month := itemMonth(item)
		name := strings.TrimSpace(stringField(item["name"]))
		date := observance.DayMonth{Day: day, Month: month}
		if !ok || month == 0 || name == "" || !date.Valid() {
			stats.Invalid++
			continue
		}
		if _, dup := seen[name]; dup {
			stats.Duplicate++
			continue
		}
		seen[name] = struct{}{}

		link := strings.TrimSpace(stringField(item["url"]))
		if !strings.HasPrefix(link, "http") {
			link = src.URL
		}
		out = append(out, newObservance(src, date, name, link, strings.TrimSpace(stringField(item["emoji"]))))
	}
	stats.Valid = len(out)
	return out, stats
}

// newObservance fills category and, when missing, emoji from the name.
func newObservance(src Source, date observance.DayMonth, name, link, emoji string) observance.Observance {
	if emoji == "" {
		emoji = keywords.Emoji(name)
	}
	return observance.Observance{
		Date:     date,
		Name:     name,
		Category: keywords.Category(name),
		Emoji:    emoji,
		Enabled:  true,
		Source:   src.Name,
		URL:      link,
	}
}

// monthField accepts a month name or its number.
// itemMonth reads month_name, falling back to month for services that use
// the shorter key.
func itemMonth(item map[string]any) int {
	if m := monthField(item["month_name"]); m != 0 {
		return m
	}
	return monthField(item["month"])
}

func monthField(v any) int {
	if m := MonthNumber(stringField(v)); m != 0 {
		return m
	}
	if n, ok := intField(v); ok && n >= 1 && n <= 12 {
		return n
	}
	return 0
}

func intField(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil && f == float64(int(f)) {
			return int(f), true
		}
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case int:
		return n, true
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func stringField(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}
