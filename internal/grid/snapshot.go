package grid

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cpuguy83/calgrid/internal/calendar"
)

// Config controls the shape of the grid.
type Config struct {
	StartHour  int
	EndHour    int
	WeekStart  time.Weekday
	Horizon    time.Duration
	TimeFormat string
}

// DefaultConfig returns a full-day grid starting on Sunday.
func DefaultConfig() Config {
	return Config{
		StartHour:  0,
		EndHour:    23,
		WeekStart:  time.Sunday,
		Horizon:    72 * time.Hour,
		TimeFormat: "3:04 PM",
	}
}

// Validate checks the hour bounds.
func (c Config) Validate() error {
	if c.StartHour < 0 || c.StartHour > 23 {
		return fmt.Errorf("start hour %d out of range 0-23", c.StartHour)
	}
	if c.EndHour < c.StartHour || c.EndHour > 23 {
		return fmt.Errorf("end hour %d out of range %d-23", c.EndHour, c.StartHour)
	}
	if c.WeekStart < time.Sunday || c.WeekStart > time.Saturday {
		return fmt.Errorf("invalid week start %d", c.WeekStart)
	}
	return nil
}

// Hours returns the number of hour rows.
func (c Config) Hours() int {
	return c.EndHour - c.StartHour + 1
}

// Item is one event bubble.
type Item struct {
	Label string
	Color string
	Event calendar.Event
}

// Bucket holds the items starting within one hour of one day.
type Bucket struct {
	Hour    int
	Current bool
	Items   []Item
}

// Day is one column of the grid.
type Day struct {
	Date  time.Time
	Today bool
	Hours []Bucket
}

// Snapshot is the complete display state for one refresh.
type Snapshot struct {
	Generated time.Time
	Week      Week
	StartHour int
	EndHour   int
	Days      [DaysPerWeek]Day

	Next      calendar.Event
	HasNext   bool
	Countdown string

	// Excluded counts week events that have no cell.
	Excluded int
}

// Bucket returns the bucket for c, or nil if c is outside the grid.
func (s *Snapshot) Bucket(c Cell) *Bucket {
	if c.Day < 0 || c.Day >= DaysPerWeek {
		return nil
	}
	i := c.Hour - s.StartHour
	hours := s.Days[c.Day].Hours
	if i < 0 || i >= len(hours) {
		return nil
	}
	return &hours[i]
}

// Len returns the number of placed items.
func (s *Snapshot) Len() int {
	var n int
	for _, d := range s.Days {
		for _, b := range d.Hours {
			n += len(b.Items)
		}
	}
	return n
}

// Build computes a fresh snapshot. weekEvents are placed into cells and
// upcoming feeds the next-event countdown. Nothing is carried over from
// earlier snapshots.
func Build(weekEvents, upcoming []calendar.Event, now time.Time, cfg Config) Snapshot {
	week := WeekOf(now, cfg.WeekStart)
	s := Snapshot{
		Generated: now,
		Week:      week,
		StartHour: cfg.StartHour,
		EndHour:   cfg.EndHour,
	}

	current, nowInGrid := cellAt(now, week.Start, cfg.StartHour, cfg.EndHour)
	for d := range s.Days {
		date := week.Start.Add(time.Duration(d) * day)
		s.Days[d] = Day{
			Date:  date,
			Today: !now.Before(date) && now.Before(date.Add(day)),
			Hours: make([]Bucket, cfg.Hours()),
		}
		for i := range s.Days[d].Hours {
			h := cfg.StartHour + i
			s.Days[d].Hours[i] = Bucket{
				Hour:    h,
				Current: nowInGrid && current.Day == d && current.Hour == h,
			}
		}
	}

	for _, e := range weekEvents {
		c, ok := MapToCell(e, week.Start, cfg.StartHour, cfg.EndHour)
		if !ok {
			s.Excluded++
			continue
		}
		b := s.Bucket(c)
		b.Items = append(b.Items, Item{
			Label: label(e, week.Start.Location(), cfg.TimeFormat),
			Color: e.Color,
			Event: e,
		})
	}

	if next, ok := NextEvent(upcoming, now); ok {
		s.Next = next
		s.HasNext = true
		s.Countdown = Countdown(next, now)
	}

	return s
}

func label(e calendar.Event, loc *time.Location, layout string) string {
	if layout == "" {
		return e.Summary
	}
	return e.Start.In(loc).Format(layout) + " " + e.Summary
}

// Countdown renders "Next event in 2 hours" style text.
func Countdown(e calendar.Event, now time.Time) string {
	rel := humanize.RelTime(e.Start, now, "ago", "from now")
	if after, ok := strings.CutSuffix(rel, " from now"); ok {
		rel = "in " + after
	}
	return "Next event " + rel
}

// Items returns every placed item ordered by day, then hour.
func (s *Snapshot) Items() []Item {
	var out []Item
	for _, d := range s.Days {
		for _, b := range d.Hours {
			out = append(out, b.Items...)
		}
	}
	return out
}

// Imminent reports whether the next event starts within d of the snapshot
// time. An event that already started is not imminent.
func (s *Snapshot) Imminent(d time.Duration) bool {
	if !s.HasNext {
		return false
	}
	until := s.Next.Start.Sub(s.Generated)
	return until >= 0 && until <= d
}

// Label renders a column heading such as "Mon 16".
func (d Day) Label() string {
	return d.Date.Format("Mon 2")
}

// HourLabel renders a row heading such as "9 AM".
func HourLabel(h int) string {
	return time.Date(2000, 1, 1, h, 0, 0, 0, time.UTC).Format("3 PM")
}
