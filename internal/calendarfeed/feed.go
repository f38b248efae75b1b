// Package calendarfeed renders upcoming observances as an iCalendar feed of
// yearly recurring all-day events.
package calendarfeed

import (
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/JakeFAU/specialdays/internal/aggregate"
	"github.com/JakeFAU/specialdays/internal/observance"
)

// Defaults for the calendar header.
const (
	DefaultName      = "Special Days"
	DefaultProductID = "-//specialdays//observances//EN"
)

// uidNamespace scopes event UIDs so the same observance always gets the
// same UID across feed downloads.
var uidNamespace = uuid.MustParse("4f0c2d1e-5b8a-4c3e-9a7d-2e6f1b9c8d30")

// Options controls the calendar header.
type Options struct {
	Name      string
	ProductID string
	// Now stamps every event (DTSTAMP).
	Now time.Time
}

// UID returns the stable event UID of an observance.
func UID(o observance.Observance) string {
	key := o.Date.String() + "|" + strings.ToLower(strings.TrimSpace(o.Name))
	return uuid.NewSHA1(uidNamespace, []byte(key)).String() + "@specialdays"
}

// Rule returns the yearly recurrence of date. DTSTART is left out; the
// event carries it.
func Rule(date observance.DayMonth) (*rrule.RRule, error) {
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:       rrule.YEARLY,
		Bymonth:    []int{date.Month},
		Bymonthday: []int{date.Day},
	})
	if err != nil {
		return nil, fmt.Errorf("build rrule for %s: %w", date, err)
	}
	return r, nil
}

// Build turns a look-ahead window into a calendar. Each observance becomes
// one event anchored on its first date in the window; repeats are skipped.
func Build(days []aggregate.Day, opts Options) (*ical.Calendar, error) {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.ProductID == "" {
		opts.ProductID = DefaultProductID
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(opts.ProductID)
	cal.SetXWRCalName(opts.Name)

	seen := make(map[string]bool)
	for _, day := range days {
		start := time.Date(day.Date.Year(), day.Date.Month(), day.Date.Day(), 0, 0, 0, 0, time.UTC)
		for _, o := range day.Observances {
			uid := UID(o)
			if seen[uid] {
				continue
			}
			seen[uid] = true

			rule, err := Rule(o.Date)
			if err != nil {
				return nil, err
			}
			ev := cal.AddEvent(uid)
			ev.SetDtStampTime(opts.Now.UTC())
			ev.SetAllDayStartAt(start)
			ev.SetAllDayEndAt(start.AddDate(0, 0, 1))
			ev.SetSummary(summary(o))
			if o.Description != "" {
				ev.SetDescription(o.Description)
			}
			if o.URL != "" {
				ev.SetURL(o.URL)
			}
			ev.AddProperty(ical.ComponentPropertyCategories, string(o.Category))
			ev.AddProperty(ical.ComponentPropertyRrule, rule.OrigOptions.RRuleString())
		}
	}
	return cal, nil
}

func summary(o observance.Observance) string {
	if o.Emoji == "" {
		return o.Name
	}
	return o.Emoji + " " + o.Name
}

// Write builds the calendar and serializes it to w.
func Write(w io.Writer, days []aggregate.Day, opts Options) error {
	cal, err := Build(days, opts)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	return nil
}
