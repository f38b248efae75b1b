// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements observance.Clock. Times are reported in the clock's
// location so "today" follows the configured timezone.
type Clock struct {
	loc *time.Location
}

// New returns a clock in loc; nil means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Location returns the clock's location.
func (c *Clock) Location() *time.Location {
	return c.loc
}
