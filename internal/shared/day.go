package shared

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a calendar date without a time of day. The zero value is not a valid day.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar date of t in t's location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

// ParseDay parses an ISO date such as 2026-03-02.
func ParseDay(raw string) (Day, error) {
	t, err := time.Parse(dayLayout, raw)
	if err != nil {
		return Day{}, fmt.Errorf("shared: parse day %q: %w", raw, err)
	}
	return DayOf(t), nil
}

// IsZero reports whether d is unset.
func (d Day) IsZero() bool {
	return d == Day{}
}

// Time returns midnight UTC of the day.
func (d Day) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Before reports whether d is strictly earlier than other.
func (d Day) Before(other Day) bool {
	return d.Time().Before(other.Time())
}

// After reports whether d is strictly later than other.
func (d Day) After(other Day) bool {
	return d.Time().After(other.Time())
}

// AddDays returns the day n days away.
func (d Day) AddDays(n int) Day {
	return DayOf(d.Time().AddDate(0, 0, n))
}

func (d Day) String() string {
	return d.Time().Format(dayLayout)
}

// MarshalText implements encoding.TextMarshaler.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Day) UnmarshalText(b []byte) error {
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Clock reports the current day in a fixed location.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock returns a clock for loc; nil means UTC.
func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	if now != nil {
		c.now = now
	}
	return c
}

// Now returns the current instant in the clock's location.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns the current calendar day in the clock's location.
func (c *Clock) Today() Day {
	return DayOf(c.Now())
}
