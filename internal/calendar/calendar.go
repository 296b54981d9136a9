package calendar

import (
	"time"
)

// DateLayout is the ISO date layout used for holiday tables and storage keys.
const DateLayout = "2006-01-02"

// maxSearchDays bounds NextWorkingDay. A week plus a generous holiday run.
const maxSearchDays = 366

// Calendar answers working-day questions for a fixed holiday set.
//
// It is pure: no I/O, no clock. The holiday set is data supplied by a
// HolidaySource; a Calendar never loads anything on its own.
type Calendar struct {
	holidays map[string]struct{}
}

// New builds a calendar from a list of holiday dates. Only the calendar date
// of each value is used.
func New(holidays []time.Time) *Calendar {
	c := &Calendar{holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		c.holidays[h.Format(DateLayout)] = struct{}{}
	}
	return c
}

// IsHoliday reports whether d's calendar date is in the holiday set.
func (c *Calendar) IsHoliday(d time.Time) bool {
	if c == nil {
		return false
	}
	_, ok := c.holidays[d.Format(DateLayout)]
	return ok
}

// IsWeekend reports whether d falls on Saturday or Sunday.
func IsWeekend(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (c *Calendar) IsWeekend(d time.Time) bool { return IsWeekend(d) }

func (c *Calendar) IsWorkingDay(d time.Time) bool {
	return !IsWeekend(d) && !c.IsHoliday(d)
}

// NextWorkingDay returns the first working day strictly after d, keeping d's
// clock time and location. Day arithmetic goes through time.Date so DST
// transitions do not shift the date.
func (c *Calendar) NextWorkingDay(d time.Time) time.Time {
	next := d
	for i := 0; i < maxSearchDays; i++ {
		next = AddDays(next, 1)
		if c.IsWorkingDay(next) {
			return next
		}
	}
	// Only reachable with a holiday table covering a full year.
	return next
}

// Holidays returns the number of configured holiday dates.
func (c *Calendar) Holidays() int {
	if c == nil {
		return 0
	}
	return len(c.holidays)
}

// AddDays moves t by n calendar days at the same wall-clock time.
func AddDays(t time.Time, n int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+n, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// At returns d's calendar date at hour:minute in d's location.
func At(d time.Time, hour, minute int) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, d.Location())
}

// DateKey formats t as YYYY-MM-DD in its own location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}
