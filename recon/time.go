package recon

import (
	"fmt"
	"time"
)

// =============================================================================
// ZONE - Fixed-offset local calendar
// =============================================================================

// DateLayout is the local calendar day format used as a bucket key.
const DateLayout = "2006-01-02"

// Zone converts instants to local calendar days under one constant UTC
// offset. There is no DST table: the business runs in a single timezone
// and callers choose the offset once.
type Zone struct {
	loc *time.Location
}

// NewZone returns a Zone for the given offset east of UTC.
func NewZone(offset time.Duration) Zone {
	return Zone{loc: time.FixedZone(formatOffset(offset), int(offset/time.Second))}
}

// ParseZone parses an offset such as "+01:00", "-05:30" or "Z".
func ParseZone(s string) (Zone, error) {
	if s == "" || s == "Z" {
		return NewZone(0), nil
	}
	t, err := time.Parse("-07:00", s)
	if err != nil {
		return Zone{}, fmt.Errorf("invalid zone offset %q: %w", s, err)
	}
	_, secs := t.Zone()
	return NewZone(time.Duration(secs) * time.Second), nil
}

// UTC is the zero-offset zone.
var UTC = NewZone(0)

func (z Zone) location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// Location exposes the fixed location, e.g. for cron.
func (z Zone) Location() *time.Location { return z.location() }

// Offset returns the zone's offset as "+hh:mm".
func (z Zone) Offset() string {
	_, secs := time.Time{}.In(z.location()).Zone()
	return formatOffset(time.Duration(secs) * time.Second)
}

// LocalDateOf returns the local calendar day of t as YYYY-MM-DD.
func (z Zone) LocalDateOf(t time.Time) string {
	return t.In(z.location()).Format(DateLayout)
}

// IsSameLocalDate reports whether t falls on the local day dateStr.
func (z Zone) IsSameLocalDate(t time.Time, dateStr string) bool {
	return z.LocalDateOf(t) == dateStr
}

// Today returns the local calendar day of now.
func (z Zone) Today(now time.Time) string {
	return z.LocalDateOf(now)
}

// StartOfMonth returns local midnight on the first day of t's local month.
func (z Zone) StartOfMonth(t time.Time) time.Time {
	l := t.In(z.location())
	return time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, z.location())
}

// =============================================================================
// DAY WINDOW
// =============================================================================

// DayWindow is one local calendar day, the half-open range [Start, End).
// Start is local midnight and End the next local midnight. Last is the
// final representable instant of the day (End - 1ns), for stores that
// take inclusive bounds. Membership uses these instants, not string
// prefixes of timestamps, because instants and local dates diverge near
// midnight.
type DayWindow struct {
	Date  string
	Start time.Time
	End   time.Time
	Last  time.Time
}

func newDayWindow(start time.Time) DayWindow {
	end := start.AddDate(0, 0, 1)
	return DayWindow{
		Date:  start.Format(DateLayout),
		Start: start,
		End:   end,
		Last:  end.Add(-time.Nanosecond),
	}
}

// Day returns the window for the local day dateStr.
func (z Zone) Day(dateStr string) (DayWindow, error) {
	start, err := time.ParseInLocation(DateLayout, dateStr, z.location())
	if err != nil {
		return DayWindow{}, fmt.Errorf("%w: %q", ErrInvalidDate, dateStr)
	}
	return newDayWindow(start), nil
}

// DayOf returns the window for the local day containing t.
func (z Zone) DayOf(t time.Time) DayWindow {
	w, _ := z.Day(z.LocalDateOf(t))
	return w
}

// Contains reports whether Start <= t < End.
func (w DayWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// AddDays shifts the window by n local days.
func (w DayWindow) AddDays(n int) DayWindow {
	return newDayWindow(w.Start.AddDate(0, 0, n))
}

func formatOffset(d time.Duration) string {
	sign := '+'
	if d < 0 {
		sign = '-'
		d = -d
	}
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%c%02d:%02d", sign, h, m)
}
