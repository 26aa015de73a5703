package clockcal

import (
	"fmt"
	"time"
)

// WorkingHours is one weekday's local start/end, both minutes-since-midnight.
type WorkingHours struct {
	StartMinute int
	EndMinute   int
	Closed      bool
}

// DefaultWorkingHours mirrors the original's 09:00-18:00 local default.
var DefaultWorkingHours = WorkingHours{StartMinute: 9 * 60, EndMinute: 18 * 60}

// Calendar resolves local day/week windows for a single business timezone.
type Calendar struct {
	loc *time.Location
}

// NewCalendar loads the named IANA timezone once at construction.
func NewCalendar(tzName string) (*Calendar, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tzName, err)
	}
	return &Calendar{loc: loc}, nil
}

// DayWindow returns the UTC [start, end) instants covering the given local
// calendar date under the supplied working hours. Returns ok=false when the
// day is closed (Closed=true, or StartMinute >= EndMinute).
func (c *Calendar) DayWindow(date time.Time, wh WorkingHours) (start, end time.Time, ok bool) {
	if wh.Closed || wh.StartMinute >= wh.EndMinute {
		return time.Time{}, time.Time{}, false
	}
	y, m, d := date.In(c.loc).Date()
	localMidnight := time.Date(y, m, d, 0, 0, 0, 0, c.loc)
	start = localMidnight.Add(time.Duration(wh.StartMinute) * time.Minute).UTC()
	end = localMidnight.Add(time.Duration(wh.EndMinute) * time.Minute).UTC()
	return start, end, true
}

// LocalDate converts a UTC instant to its local calendar date in this
// business timezone, as midnight local time in the calendar's location.
func (c *Calendar) LocalDate(t time.Time) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// Weekday returns the local weekday (0=Sunday) for the given UTC instant,
// used to select the team's working-hours-for-weekday rule.
func (c *Calendar) Weekday(t time.Time) time.Weekday {
	return t.In(c.loc).Weekday()
}

// Location exposes the underlying *time.Location for callers that need it
// (e.g. formatting a local time-of-day window boundary).
func (c *Calendar) Location() *time.Location { return c.loc }
