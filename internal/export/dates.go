package export

import (
	"errors"
	"fmt"
	"time"
)

// DayLayout is the date format accepted on the command line.
const DayLayout = "2006-01-02"

// ErrInvertedRange is returned when the start of a range is after its end.
var ErrInvertedRange = errors.New("from date is after to date")

// StartOfDay returns midnight at the start of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last representable instant of t's day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// YearRange returns the first and last instant of year in loc.
func YearRange(year int, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(1, 0, 0).Add(-time.Nanosecond)
}

// ParseDay parses a YYYY-MM-DD date in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// ResolveRange turns command line selectors into inclusive bounds. A non-zero
// year wins over from and to. Empty from or to leaves that side open.
func ResolveRange(year int, from, to string, loc *time.Location) (*time.Time, *time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if year != 0 {
		start, end := YearRange(year, loc)
		return &start, &end, nil
	}

	var start, end *time.Time
	if from != "" {
		t, err := ParseDay(from, loc)
		if err != nil {
			return nil, nil, err
		}
		t = StartOfDay(t)
		start = &t
	}
	if to != "" {
		t, err := ParseDay(to, loc)
		if err != nil {
			return nil, nil, err
		}
		t = EndOfDay(t)
		end = &t
	}
	if start != nil && end != nil && start.After(*end) {
		return nil, nil, ErrInvertedRange
	}
	return start, end, nil
}
