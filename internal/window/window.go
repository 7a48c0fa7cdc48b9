// Package window models the requested capture time range and parses the
// user-facing timestamp forms that build it.
package window

import (
	"fmt"
	"strings"
	"time"

	"pcappuller/internal/errors"
)

// MaxMinutes is the longest window FromMinutes accepts.
const MaxMinutes = 1440

// Layout is the canonical local timestamp form, also used for trim tool arguments.
const Layout = "2006-01-02 15:04:05"

// Window is an immutable [Start, End] range of local wall-clock time.
type Window struct {
	Start time.Time
	End   time.Time
}

// New builds a Window. Start must be strictly before End.
func New(start, end time.Time) (Window, error) {
	if !start.Before(end) {
		return Window{}, errors.Argument("window start %s must be before end %s",
			start.Format(Layout), end.Format(Layout))
	}
	return Window{Start: start, End: end}, nil
}

// StartEpoch returns Start as UTC epoch seconds.
func (w Window) StartEpoch() float64 { return epoch(w.Start) }

// EndEpoch returns End as UTC epoch seconds.
func (w Window) EndEpoch() float64 { return epoch(w.End) }

// Duration returns End - Start.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Expand returns the inclusive modification-time range [Start-slop, End+slop].
func (w Window) Expand(slop time.Duration) (lo, hi time.Time) {
	return w.Start.Add(-slop), w.End.Add(slop)
}

// Contains reports whether t lies in the closed range [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return w.Start.Format(Layout) + " .. " + w.End.Format(Layout)
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromMinutes builds a window of the given length starting at start. A window
// that would run past midnight is clamped to the last microsecond of the day.
func FromMinutes(start time.Time, minutes int) (Window, error) {
	if minutes < 1 || minutes > MaxMinutes {
		return Window{}, errors.Argument("minutes must be between 1 and %d, got %d", MaxMinutes, minutes)
	}
	end := start.Add(time.Duration(minutes) * time.Minute)
	if !sameDay(start, end) {
		end = endOfDay(start)
	}
	return New(start, end)
}

// FromEnd builds a window from explicit start and end timestamps, which
// must fall on the same calendar day.
func FromEnd(start, end time.Time) (Window, error) {
	if !sameDay(start, end) {
		return Window{}, errors.Newf(errors.WindowRange,
			"window crosses midnight (%s to %s); choose a window within a single calendar day",
			start.Format(Layout), end.Format(Layout))
	}
	return New(start, end)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999999000, t.Location())
}

var localLayouts = []string{
	Layout,
	"2006-01-02 15:04",
}

// Parse reads a timestamp as local wall-clock time. Accepted forms:
//
//	2025-01-01 10:00:00
//	2025-01-01T10:00:00.250
//	2025-01-01 10:00
//	2025-01-01T09:00:00Z        (UTC, converted to local)
//	2025-01-01T10:00:00+01:00   (RFC 3339, converted to local)
func Parse(s string) (time.Time, error) {
	raw := strings.TrimSpace(s)
	norm := strings.Replace(raw, "T", " ", 1)

	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, norm, time.Local); err == nil {
			return t, nil
		}
	}

	if strings.HasSuffix(norm, "Z") {
		trimmed := strings.TrimSuffix(norm, "Z")
		for _, layout := range localLayouts {
			if t, err := time.ParseInLocation(layout, trimmed, time.UTC); err == nil {
				return t.In(time.Local), nil
			}
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, strings.Replace(raw, " ", "T", 1)); err == nil {
		return t.In(time.Local), nil
	}

	return time.Time{}, errors.New(errors.TimeParse,
		fmt.Sprintf("invalid datetime %q; use 'YYYY-MM-DD HH:MM:SS' or ISO 8601", raw), nil)
}

// Resolve parses start plus exactly one of minutes or end into a Window.
// minutes <= 0 means "not given".
func Resolve(start string, minutes int, end string) (Window, error) {
	if (minutes > 0) == (end != "") {
		return Window{}, errors.Argument("exactly one of minutes or an end time is required")
	}
	s, err := Parse(start)
	if err != nil {
		return Window{}, err
	}
	if end == "" {
		return FromMinutes(s, minutes)
	}
	e, err := Parse(end)
	if err != nil {
		return Window{}, err
	}
	return FromEnd(s, e)
}
