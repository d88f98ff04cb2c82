// Package grid places calendar events into a week of hourly cells and picks
// the next upcoming event.
package grid

import (
	"sort"
	"time"

	"github.com/cpuguy83/calgrid/internal/calendar"
)

const (
	// DaysPerWeek is the number of day columns in a grid.
	DaysPerWeek = 7

	day = 24 * time.Hour

	// lookbehind keeps events that started moments ago eligible as "next".
	lookbehind = 5 * time.Minute
)

// Cell addresses one bucket of the grid.
type Cell struct {
	Day  int // 0..6, offset from the week start
	Hour int // hour of day in the week's time zone
}

// Week is the displayed 7-day window.
type Week struct {
	Start time.Time
	End   time.Time
}

// WeekOf returns the week containing now. Start is midnight of the most
// recent first weekday (today included) in now's location.
func WeekOf(now time.Time, first time.Weekday) Week {
	offset := (int(now.Weekday()) - int(first) + DaysPerWeek) % DaysPerWeek
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -offset)
	return Week{Start: start, End: start.Add(DaysPerWeek * day)}
}

// Contains reports whether t falls within [Start, End).
func (w Week) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Title renders the week as "Feb 15 - Feb 21, 2026".
func (w Week) Title() string {
	last := w.End.Add(-day)
	return w.Start.Format("Jan 2") + " - " + last.Format("Jan 2, 2006")
}

// MapToCell returns the cell an event's start falls in. The day is the
// number of whole 24 hour periods between weekStart and the start, so an
// event on a day boundary lands on the later day. The hour is read in
// weekStart's location.
//
// All-day events and events outside [0,6] x [startHour,endHour] are
// excluded and reported with ok == false.
func MapToCell(e calendar.Event, weekStart time.Time, startHour, endHour int) (Cell, bool) {
	if e.AllDay {
		return Cell{}, false
	}
	return cellAt(e.Start, weekStart, startHour, endHour)
}

func cellAt(t, weekStart time.Time, startHour, endHour int) (Cell, bool) {
	offset := t.Sub(weekStart)
	if offset < 0 {
		return Cell{}, false
	}
	d := int(offset / day)
	if d >= DaysPerWeek {
		return Cell{}, false
	}
	h := t.In(weekStart.Location()).Hour()
	if h < startHour || h > endHour {
		return Cell{}, false
	}
	return Cell{Day: d, Hour: h}, true
}

// NextEvent returns the earliest timed event. The input is not assumed to
// be sorted; events sharing a start keep their input order. Candidates are
// expected to come from the Lookahead window for now.
func NextEvent(events []calendar.Event, now time.Time) (calendar.Event, bool) {
	timed := make([]calendar.Event, 0, len(events))
	for _, e := range events {
		if !e.AllDay {
			timed = append(timed, e)
		}
	}
	if len(timed) == 0 {
		return calendar.Event{}, false
	}
	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].Start.Before(timed[j].Start)
	})
	return timed[0], true
}

// Lookahead returns the query window for NextEvent.
func Lookahead(now time.Time, horizon time.Duration) (start, end time.Time) {
	return now.Add(-lookbehind), now.Add(horizon)
}
