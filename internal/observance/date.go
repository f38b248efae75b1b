package observance

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var dayMonthPattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)

// DayMonth is a recurring calendar date with no year attached.
type DayMonth struct {
	Day   int
	Month int
}

// NewDayMonth validates day and month independently (1-31 / 1-12).
func NewDayMonth(day, month int) (DayMonth, error) {
	d := DayMonth{Day: day, Month: month}
	if !d.Valid() {
		return DayMonth{}, fmt.Errorf("%w: day=%d month=%d", ErrInvalidDate, day, month)
	}
	return d, nil
}

// ParseDayMonth parses "DD/MM" (single digits accepted on input).
func ParseDayMonth(s string) (DayMonth, error) {
	m := dayMonthPattern.FindStringSubmatch(s)
	if m == nil {
		return DayMonth{}, fmt.Errorf("%w: %q is not DD/MM", ErrInvalidDate, s)
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return NewDayMonth(day, month)
}

// FromTime returns the day/month of t in t's location.
func FromTime(t time.Time) DayMonth {
	return DayMonth{Day: t.Day(), Month: int(t.Month())}
}

// Valid reports whether day and month are in range.
func (d DayMonth) Valid() bool {
	return d.Day >= 1 && d.Day <= 31 && d.Month >= 1 && d.Month <= 12
}

// OnCalendar reports whether the date exists in a leap year, so 29/02 passes
// and 31/04 does not.
func (d DayMonth) OnCalendar() bool {
	if !d.Valid() {
		return false
	}
	t := time.Date(2024, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	return t.Day() == d.Day && int(t.Month()) == d.Month
}

// IsZero reports whether d is unset.
func (d DayMonth) IsZero() bool {
	return d.Day == 0 && d.Month == 0
}

// Before orders by month, then day.
func (d DayMonth) Before(o DayMonth) bool {
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// In returns the occurrence of d in the given year and location. Feb 29 in a
// non-leap year normalizes to Mar 1, matching time.Date.
func (d DayMonth) In(year int, loc *time.Location) time.Time {
	return time.Date(year, time.Month(d.Month), d.Day, 0, 0, 0, 0, loc)
}

func (d DayMonth) String() string {
	return fmt.Sprintf("%02d/%02d", d.Day, d.Month)
}

// MarshalText implements encoding.TextMarshaler.
func (d DayMonth) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: day=%d month=%d", ErrInvalidDate, d.Day, d.Month)
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DayMonth) UnmarshalText(b []byte) error {
	parsed, err := ParseDayMonth(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DateKey formats an absolute date as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// WeekKey formats the ISO year-week of t as YYYY-Www.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
