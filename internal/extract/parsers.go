package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/specialdays/internal/observance"
)

// Parser extracts observances from the flattened text of a source page.
type Parser func(src Source, text string) []observance.Observance

// Parser names accepted in source configuration.
const (
	ParserUN      = "un"
	ParserWHO     = "who"
	ParserUNESCO  = "unesco"
	ParserGeneric = "generic"
)

var parsers = map[string]Parser{
	ParserUN:      ParseUN,
	ParserWHO:     ParseWHO,
	ParserUNESCO:  ParseUNESCO,
	ParserGeneric: ParseGeneric,
}

// LookupParser returns the named parser, or ParseGeneric for unknown names.
func LookupParser(name string) Parser {
	if p, ok := parsers[strings.ToLower(name)]; ok {
		return p
	}
	return ParseGeneric
}

const (
	monthAbbrPattern = `(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)`
	monthFullPattern = `(January|February|March|April|May|June|July|August|September|October|November|December)`
	minNameLen       = 5
)

var (
	// Link line followed by "DD Mon" on the next line. Names may carry a
	// bracketed agency tag such as "World Health Day [WHO]".
	unEntry = regexp.MustCompile(`(?i)\[([^\]]*(?:\[[^\]]*\][^\]]*)*)\]\((https?://[^)\s]+|/[^)\s]*)\)[^\n]*\n(\d{1,2})\s+` + monthAbbrPattern)
	// Resolution references share the link layout.
	resolutionRef = regexp.MustCompile(`^[A-Z]/RES/|^WHA/|^S/RES/|^A/C\.`)
	agencySuffix  = regexp.MustCompile(`\s*\[[A-Z]+\]\s*$`)

	whoBold = regexp.MustCompile(`(?i)\*\*([^*\n]+(?:Day|Week))\*\*[^\d*]*(\d{1,2})(?:-\d{1,2})?\s+` + monthFullPattern)
	whoCard = regexp.MustCompile(`(?i)(\d{1,2})(?:-\d{1,2})?\s+` + monthFullPattern + `[^\n]*\n[^\n]*\[([^\]]+Day[^\]]*)\]`)

	// Link-first patterns stop at the next link so one entry never borrows
	// the date of the entry after it.
	unescoDateFirst = regexp.MustCompile(`(?i)(\d{1,2})\s+` + monthAbbrPattern + `[^\[]*\[([^\]]+)\]\((/en/days/[^)]+)\)`)
	unescoLinkFirst = regexp.MustCompile(`(?i)\[([^\]]+)\]\((/en/days/[^)]+)\)[^\d\[]*(\d{1,2})\s+` + monthAbbrPattern)

	genericDateFirst = regexp.MustCompile(`(?i)(\d{1,2})\s+` + monthAbbrPattern + `[a-z]*\.?[^\[\n]*\[([^\]]+)\]\(([^)\s]+)\)`)
	genericLinkFirst = regexp.MustCompile(`(?i)\[([^\]]+)\]\(([^)\s]+)\)[^\d\n\[]*\n?[^\d\n\[]*(\d{1,2})\s+` + monthAbbrPattern)
)

var (
	listSkips = []string{"week,", "decade", "read more", "learn more", "see all"}
	whoSkips  = []string{"read more", "learn more", "see all", "view all"}
)

// ParseUN reads the UN list of international days.
func ParseUN(src Source, text string) []observance.Observance {
	var out []observance.Observance
	for _, m := range unEntry.FindAllStringSubmatch(text, -1) {
		name, link, day, month := m[1], m[2], m[3], m[4]
		if resolutionRef.MatchString(name) {
			continue
		}
		name = strings.TrimSpace(agencySuffix.ReplaceAllString(name, ""))
		if skipName(name, listSkips) {
			continue
		}
		if o, ok := build(src, name, resolve(src.URL, link), day, month); ok {
			out = append(out, o)
		}
	}
	return uniqueByName(out)
}

// ParseWHO reads the WHO campaigns page. Week-long campaigns are skipped
// unless their name also mentions a day.
func ParseWHO(src Source, text string) []observance.Observance {
	var out []observance.Observance
	add := func(name, day, month string) {
		name = strings.TrimSpace(name)
		lower := strings.ToLower(name)
		if strings.Contains(lower, "week") && !strings.Contains(lower, "day") {
			return
		}
		if skipName(name, whoSkips) {
			return
		}
		if o, ok := build(src, name, campaignURL(src.URL, name), day, month); ok {
			out = append(out, o)
		}
	}
	for _, m := range whoBold.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], m[3])
	}
	for _, m := range whoCard.FindAllStringSubmatch(text, -1) {
		add(m[3], m[1], m[2])
	}
	return uniqueByName(out)
}

// ParseUNESCO reads the UNESCO list of international days, where entries
// appear either date-first or link-first.
func ParseUNESCO(src Source, text string) []observance.Observance {
	var out []observance.Observance
	add := func(name, path, day, month string) {
		name = strings.TrimSpace(name)
		if skipName(name, listSkips) {
			return
		}
		if o, ok := build(src, name, resolve(src.URL, path), day, month); ok {
			out = append(out, o)
		}
	}
	for _, m := range unescoDateFirst.FindAllStringSubmatch(text, -1) {
		add(m[3], m[4], m[1], m[2])
	}
	for _, m := range unescoLinkFirst.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], m[3], m[4])
	}
	return uniqueByName(out)
}

// ParseGeneric handles any page listing "DD Month [Name](link)" or
// "[Name](link) DD Month" entries.
func ParseGeneric(src Source, text string) []observance.Observance {
	var out []observance.Observance
	add := func(name, link, day, month string) {
		name = strings.TrimSpace(name)
		if skipName(name, listSkips) {
			return
		}
		if o, ok := build(src, name, resolve(src.URL, link), day, month); ok {
			out = append(out, o)
		}
	}
	for _, m := range genericDateFirst.FindAllStringSubmatch(text, -1) {
		add(m[3], m[4], m[1], m[2])
	}
	for _, m := range genericLinkFirst.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], m[3], m[4])
	}
	return uniqueByName(out)
}

func skipName(name string, skips []string) bool {
	if len(name) < minNameLen {
		return true
	}
	lower := strings.ToLower(name)
	for _, s := range skips {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func build(src Source, name, link, day, month string) (observance.Observance, bool) {
	d, err := strconv.Atoi(day)
	if err != nil {
		return observance.Observance{}, false
	}
	date := observance.DayMonth{Day: d, Month: MonthNumber(month[:min(3, len(month))])}
	if !date.Valid() {
		return observance.Observance{}, false
	}
	return newObservance(src, date, name, link, ""), true
}

// resolve makes link absolute against the source page URL.
func resolve(base, link string) string {
	ref, err := url.Parse(link)
	if err != nil {
		return base
	}
	if ref.IsAbs() {
		return link
	}
	b, err := url.Parse(base)
	if err != nil {
		return link
	}
	return b.ResolveReference(ref).String()
}

// campaignURL derives the campaign page from the name, since the WHO layout
// does not always link it next to the date.
func campaignURL(base, name string) string {
	slug := strings.NewReplacer(" ", "-", "'", "", "’", "").Replace(strings.ToLower(name))
	return resolve(base, "/campaigns/"+slug)
}

func uniqueByName(list []observance.Observance) []observance.Observance {
	seen := make(map[string]struct{}, len(list))
	out := make([]observance.Observance, 0, len(list))
	for _, o := range list {
		if _, ok := seen[o.Name]; ok {
			continue
		}
		seen[o.Name] = struct{}{}
		out = append(out, o)
	}
	return out
}
