// Package calendar provides calendar source interfaces and event types.
package calendar

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"
)

// Event represents a calendar event.
type Event struct {
	// UID is the unique identifier for this event (per occurrence).
	UID string

	// Summary is the event title.
	Summary string

	// Description is the full event description/body.
	Description string

	// Location is the event location (may contain meeting URLs).
	Location string

	// Start is when the event begins.
	Start time.Time

	// End is when the event ends.
	End time.Time

	// AllDay indicates this is an all-day event.
	AllDay bool

	// Organizer is the email of the event organizer.
	Organizer string

	// Source is the name of the calendar source this event came from.
	Source string

	// Calendar is the name of the calendar within the source.
	Calendar string

	// Color is the display color of the source calendar ("#rrggbb").
	Color string

	// URL is a URL associated with the event (if any).
	URL string
}

// Duration returns the duration of the event.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// IsOngoing returns true if the event is currently happening.
func (e *Event) IsOngoing(now time.Time) bool {
	return now.After(e.Start) && now.Before(e.End)
}

// Overlaps reports whether the event intersects the half-open range [start, end).
func (e *Event) Overlaps(start, end time.Time) bool {
	if e.End.Equal(e.Start) {
		return !e.Start.Before(start) && e.Start.Before(end)
	}
	return e.Start.Before(end) && e.End.After(start)
}

// Source is the interface that calendar sources must implement.
type Source interface {
	// Name returns the display name of this calendar source.
	Name() string

	// Fetch retrieves events overlapping [start, end).
	Fetch(ctx context.Context, start, end time.Time) ([]Event, error)
}

// Authorizer is implemented by sources that need the user to grant access
// before they can be read.
type Authorizer interface {
	RequestAccess(ctx context.Context) (bool, error)
}

// Watcher is implemented by sources backed by local files. A write to any
// returned path means the calendar data changed.
type Watcher interface {
	WatchPaths() []string
}

var palette = []string{
	"#1badf8", // blue
	"#63da38", // green
	"#fcc000", // yellow
	"#ff2968", // red
	"#cc73e1", // purple
	"#ff9500", // orange
	"#a2845e", // brown
}

// ColorFor returns a stable palette color for a calendar name.
func ColorFor(name string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	return palette[h.Sum32()%uint32(len(palette))]
}

// normalizeColor turns the color spellings calendar servers use
// (#rgb, #rrggbb, #rrggbbaa) into #rrggbb. Anything else yields "".
func normalizeColor(c string) string {
	if len(c) == 0 || c[0] != '#' {
		return ""
	}
	hex := c[1:]
	for _, r := range hex {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return ""
		}
	}
	switch len(hex) {
	case 3:
		return fmt.Sprintf("#%c%c%c%c%c%c", hex[0], hex[0], hex[1], hex[1], hex[2], hex[2])
	case 6:
		return c
	case 8:
		return "#" + hex[:6]
	default:
		return ""
	}
}

// colorize fills in Color on events that have none.
func colorize(events []Event, fallback string) {
	for i := range events {
		if events[i].Color != "" {
			continue
		}
		if fallback != "" {
			events[i].Color = fallback
			continue
		}
		name := events[i].Calendar
		if name == "" {
			name = events[i].Source
		}
		events[i].Color = ColorFor(name)
	}
}

// isEffectivelyAllDay reports whether a timed event spans whole local days.
func isEffectivelyAllDay(start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	ls, le := start.Local(), end.Local()
	return isMidnight(ls) && isMidnight(le)
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
