// Package calendar holds the single definition of a calendar day used by
// attendance reconciliation and reporting.
package calendar

import (
	"errors"
	"strings"
	"time"
)

// DateLayout is the wire and storage format of a day.
const DateLayout = "2006-01-02"

const localDateTimeLayout = "2006-01-02T15:04:05"

var ErrInvalidDate = errors.New("date must be YYYY-MM-DD or 'today'")

// Day truncates t to midnight of its calendar day in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// FromDate re-anchors a DATE column value, which drivers hand back as
// midnight UTC, to the same wall-clock day in loc.
func FromDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Key formats a day as YYYY-MM-DD.
func Key(day time.Time) string {
	return day.Format(DateLayout)
}

// Window returns the days today-days..today inclusive, oldest first.
func Window(today time.Time, days int) []time.Time {
	if days < 0 {
		return nil
	}
	out := make([]time.Time, 0, days+1)
	for i := days; i >= 0; i-- {
		out = append(out, today.AddDate(0, 0, -i))
	}
	return out
}

// Calendar binds a location and a clock.
type Calendar struct {
	Location *time.Location
	Now      func() time.Time
}

// New returns a calendar on the wall clock.
func New(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.Local
	}
	return Calendar{Location: loc, Now: time.Now}
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Clock returns the current instant.
func (c Calendar) Clock() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Today is midnight of the current day.
func (c Calendar) Today() time.Time {
	return Day(c.Clock(), c.loc())
}

// Day truncates t in the calendar's location.
func (c Calendar) Day(t time.Time) time.Time {
	return Day(t, c.loc())
}

// FromDate re-anchors a scanned DATE value into the calendar's location.
func (c Calendar) FromDate(t time.Time) time.Time {
	return FromDate(t, c.loc())
}

// Parse reads YYYY-MM-DD, an RFC 3339 timestamp or "today". Empty input
// yields today.
func (c Calendar) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "today") {
		return c.Today(), nil
	}
	if t, err := time.ParseInLocation(DateLayout, s, c.loc()); err == nil {
		return t, nil
	}
	// Clients that send full timestamps get the day the instant falls on.
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return c.Day(t), nil
	}
	if t, err := time.ParseInLocation(localDateTimeLayout, s, c.loc()); err == nil {
		return c.Day(t), nil
	}
	return time.Time{}, ErrInvalidDate
}
