package calendar

import (
	"testing"
	"time"
)

func TestIsEffectivelyAllDay(t *testing.T) {
	loc := time.Local

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  bool
	}{
		{
			name:  "single day midnight to midnight",
			start: time.Date(2026, 2, 17, 0, 0, 0, 0, loc),
			end:   time.Date(2026, 2, 18, 0, 0, 0, 0, loc),
			want:  true,
		},
		{
			name:  "multi-day midnight to midnight (5 days)",
			start: time.Date(2026, 2, 16, 0, 0, 0, 0, loc),
			end:   time.Date(2026, 2, 21, 0, 0, 0, 0, loc),
			want:  true,
		},
		{
			name:  "start not midnight",
			start: time.Date(2026, 2, 17, 9, 0, 0, 0, loc),
			end:   time.Date(2026, 2, 18, 0, 0, 0, 0, loc),
			want:  false,
		},
		{
			name:  "end not midnight",
			start: time.Date(2026, 2, 17, 0, 0, 0, 0, loc),
			end:   time.Date(2026, 2, 18, 17, 0, 0, 0, loc),
			want:  false,
		},
		{
			name:  "same time (zero duration)",
			start: time.Date(2026, 2, 17, 0, 0, 0, 0, loc),
			end:   time.Date(2026, 2, 17, 0, 0, 0, 0, loc),
			want:  false,
		},
		{
			name:  "end before start",
			start: time.Date(2026, 2, 18, 0, 0, 0, 0, loc),
			end:   time.Date(2026, 2, 17, 0, 0, 0, 0, loc),
			want:  false,
		},
		{
			name:  "start has seconds",
			start: time.Date(2026, 2, 17, 0, 0, 1, 0, loc),
			end:   time.Date(2026, 2, 18, 0, 0, 0, 0, loc),
			want:  false,
		},
		{
			name:  "normal timed event",
			start: time.Date(2026, 2, 17, 10, 30, 0, 0, loc),
			end:   time.Date(2026, 2, 17, 11, 30, 0, 0, loc),
			want:  false,
		},
		{
			name:  "non-local timezone midnight not local midnight",
			start: time.Date(2026, 2, 17, 5, 0, 0, 0, loc), // 5am local
			end:   time.Date(2026, 2, 18, 5, 0, 0, 0, loc), // 5am local
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isEffectivelyAllDay(tt.start, tt.end)
			if got != tt.want {
				t.Errorf("isEffectivelyAllDay(%v, %v) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	base := time.Date(2026, 2, 17, 10, 0, 0, 0, time.Local)
	rangeStart, rangeEnd := base, base.Add(2*time.Hour)

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", base.Add(30 * time.Minute), base.Add(time.Hour), true},
		{"straddles start", base.Add(-time.Hour), base.Add(time.Minute), true},
		{"ends at range start", base.Add(-time.Hour), base, false},
		{"starts at range end", rangeEnd, rangeEnd.Add(time.Hour), false},
		{"covers range", base.Add(-time.Hour), rangeEnd.Add(time.Hour), true},
		{"zero length at start", base, base, true},
		{"zero length at end", rangeEnd, rangeEnd, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Event{Start: tt.start, End: tt.end}
			if got := e.Overlaps(rangeStart, rangeEnd); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeColor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"#1BADF8", "#1BADF8"},
		{"#abc", "#aabbcc"},
		{"#1badf8ff", "#1badf8"},
		{"1badf8", ""},
		{"#12345", ""},
		{"#zzzzzz", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := normalizeColor(tt.in); got != tt.want {
			t.Errorf("normalizeColor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestColorize(t *testing.T) {
	events := []Event{
		{Summary: "has color", Color: "#000000"},
		{Summary: "calendar", Calendar: "Work", Source: "icloud"},
		{Summary: "source only", Source: "icloud"},
	}
	colorize(events, "")

	if events[0].Color != "#000000" {
		t.Errorf("existing color overwritten: %s", events[0].Color)
	}
	if events[1].Color != ColorFor("Work") {
		t.Errorf("calendar color = %s, want %s", events[1].Color, ColorFor("Work"))
	}
	if events[2].Color != ColorFor("icloud") {
		t.Errorf("source color = %s, want %s", events[2].Color, ColorFor("icloud"))
	}

	fallback := []Event{{Summary: "x"}}
	colorize(fallback, "#ff0000")
	if fallback[0].Color != "#ff0000" {
		t.Errorf("fallback color = %s", fallback[0].Color)
	}
}

func TestColorForStable(t *testing.T) {
	if ColorFor("Personal") != ColorFor("Personal") {
		t.Fatal("ColorFor is not deterministic")
	}
}
