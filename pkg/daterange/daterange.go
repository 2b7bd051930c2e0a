// Package daterange provides the inclusive calendar-date window used to
// filter harvested records.
package daterange

import (
	"fmt"
	"strings"
	"time"

	errs "feedharvest/pkg/errors"
)

// DateLayout is the layout used for configured bounds
const DateLayout = "2006-01-02"

// Position describes where a date falls relative to a window
type Position int

const (
	Before Position = iota - 1
	Within
	After
)

func (p Position) String() string {
	switch p {
	case Before:
		return "before"
	case Within:
		return "within"
	case After:
		return "after"
	default:
		return "unknown"
	}
}

// Window is an inclusive [Start, End] range of calendar days
type Window struct {
	Start time.Time
	End   time.Time
}

// New builds a window from two dates in DateLayout form
func New(start, end string) (Window, error) {
	s, err := time.Parse(DateLayout, strings.TrimSpace(start))
	if err != nil {
		return Window{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse(DateLayout, strings.TrimSpace(end))
	if err != nil {
		return Window{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	return FromTimes(s, e)
}

// FromTimes builds a window from two instants, truncated to days
func FromTimes(start, end time.Time) (Window, error) {
	w := Window{Start: Day(start), End: Day(end)}
	if w.End.Before(w.Start) {
		return Window{}, fmt.Errorf("end date %s is before start date %s",
			w.End.Format(DateLayout), w.Start.Format(DateLayout))
	}
	return w, nil
}

// Parse reads a record date. The date part of RFC3339 timestamps is taken
// in UTC.
func Parse(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errs.Newf(errs.KindFilterParseError, "parse date", "empty date")
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Day(t), nil
	}
	return time.Time{}, errs.Newf(errs.KindFilterParseError, "parse date", "unrecognized date %q", raw)
}

// Day truncates t to midnight UTC of its UTC calendar day
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Classify reports where d falls relative to the window
func (w Window) Classify(d time.Time) Position {
	day := Day(d)
	switch {
	case day.Before(w.Start):
		return Before
	case day.After(w.End):
		return After
	default:
		return Within
	}
}

// Contains reports whether d falls within the window, bounds included
func (w Window) Contains(d time.Time) bool {
	return w.Classify(d) == Within
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", w.Start.Format(DateLayout), w.End.Format(DateLayout))
}

// InRange reports whether date lies within [start, end], inclusive
func InRange(date, start, end time.Time) bool {
	return Window{Start: Day(start), End: Day(end)}.Contains(date)
}
