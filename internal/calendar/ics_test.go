package calendar

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ics "github.com/emersion/go-ical"
)

func parseFirstEvent(t *testing.T, icsData string, start, end time.Time) []Event {
	t.Helper()

	cal, err := ics.NewDecoder(strings.NewReader(icsData)).Decode()
	if err != nil {
		t.Fatalf("failed to decode ICS: %v", err)
	}
	for _, child := range cal.Children {
		if child.Name != ics.CompEvent {
			continue
		}
		events, err := parseEvent(child, start, end)
		if err != nil {
			t.Fatalf("parseEvent error: %v", err)
		}
		return events
	}
	t.Fatal("no VEVENT in calendar")
	return nil
}

var (
	testRangeStart = time.Date(2026, 2, 1, 0, 0, 0, 0, time.Local)
	testRangeEnd   = time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)
)

func TestParseEvent_EffectivelyAllDay(t *testing.T) {
	// iCloud-style multi-day event encoded with full datetimes at midnight
	events := parseFirstEvent(t, `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:test-multiday-allday
SUMMARY:Mid-winter break (no school)
DTSTART:20260216T000000
DTEND:20260221T000000
END:VEVENT
END:VCALENDAR`, testRangeStart, testRangeEnd)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if !ev.AllDay {
		t.Errorf("expected AllDay=true for midnight-to-midnight multi-day event, got false")
	}
	if ev.Summary != "Mid-winter break (no school)" {
		t.Errorf("unexpected summary: %s", ev.Summary)
	}
}

func TestParseEvent_DateOnlyAllDay(t *testing.T) {
	events := parseFirstEvent(t, `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:test-dateonly-allday
SUMMARY:Holiday
DTSTART;VALUE=DATE:20260217
DTEND;VALUE=DATE:20260218
END:VEVENT
END:VCALENDAR`, testRangeStart, testRangeEnd)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].AllDay {
		t.Errorf("expected AllDay=true for date-only event, got false")
	}
	want := time.Date(2026, 2, 17, 0, 0, 0, 0, time.Local)
	if !events[0].Start.Equal(want) {
		t.Errorf("start = %v, want %v", events[0].Start, want)
	}
}

func TestParseEvent_TimedEventNotAllDay(t *testing.T) {
	events := parseFirstEvent(t, `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:test-timed
SUMMARY:Meeting
DTSTART:20260217T100000
DTEND:20260217T110000
END:VEVENT
END:VCALENDAR`, testRangeStart, testRangeEnd)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].AllDay {
		t.Errorf("expected AllDay=false for timed event, got true")
	}
	if got := events[0].Duration(); got != time.Hour {
		t.Errorf("duration = %v, want 1h", got)
	}
}

func TestParseEvent_Duration(t *testing.T) {
	events := parseFirstEvent(t, `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:test-duration
SUMMARY:Standup
DTSTART:20260217T093000
DURATION:PT15M
END:VEVENT
END:VCALENDAR`, testRangeStart, testRangeEnd)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if got := events[0].Duration(); got != 15*time.Minute {
		t.Errorf("duration = %v, want 15m", got)
	}
}

func TestParseEvent_DefaultLength(t *testing.T) {
	events := parseFirstEvent(t, `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:test-nolength
SUMMARY:Call
DTSTART:20260217T140000
END:VEVENT
END:VCALENDAR`, testRangeStart, testRangeEnd)

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if got := events[0].Duration(); got != defaultEventLength {
		t.Errorf("duration = %v, want %v", got, defaultEventLength)
	}
}

func TestParseEvent_Recurring(t *testing.T) {
	weekStart := time.Date(2026, 2, 16, 0, 0, 0, 0, time.Local)
	events := parseFirstEvent(t, `BEGIN:VCALENDAR
BEGIN:VEVENT
UID:test-daily
SUMMARY:Daily sync
DTSTART:20260201T090000
DTEND:20260201T093000
RRULE:FREQ=DAILY
END:VEVENT
END:VCALENDAR`, weekStart, weekStart.AddDate(0, 0, 7))

	if len(events) != 7 {
		t.Fatalf("expected 7 occurrences, got %d", len(events))
	}
	seen := map[string]bool{}
	for i, e := range events {
		want := weekStart.AddDate(0, 0, i).Add(9 * time.Hour)
		if !e.Start.Equal(want) {
			t.Errorf("occurrence %d start = %v, want %v", i, e.Start, want)
		}
		if seen[e.UID] {
			t.Errorf("duplicate occurrence UID %s", e.UID)
		}
		seen[e.UID] = true
	}
}

func TestParseEvent_MissingStart(t *testing.T) {
	cal, err := ics.NewDecoder(strings.NewReader(`BEGIN:VCALENDAR
BEGIN:VEVENT
UID:test-nostart
SUMMARY:Broken
END:VEVENT
END:VCALENDAR`)).Decode()
	if err != nil {
		t.Fatalf("failed to decode ICS: %v", err)
	}
	if _, err := parseEvent(cal.Children[0], testRangeStart, testRangeEnd); err == nil {
		t.Fatal("expected error for VEVENT without DTSTART")
	}
}

func TestICSSourceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.ics")
	data := `BEGIN:VCALENDAR
X-WR-CALNAME:Family
X-APPLE-CALENDAR-COLOR:#FF2968FF
BEGIN:VEVENT
UID:in-range
SUMMARY:Dinner
DTSTART:20260217T190000
DTEND:20260217T200000
END:VEVENT
BEGIN:VEVENT
UID:out-of-range
SUMMARY:Last year
DTSTART:20250217T190000
DTEND:20250217T200000
END:VEVENT
END:VCALENDAR`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewICSSource("home", "file://"+path, "", "", "")
	if got := s.WatchPaths(); len(got) != 1 || got[0] != path {
		t.Errorf("WatchPaths() = %v, want [%s]", got, path)
	}

	ok, err := s.RequestAccess(t.Context())
	if err != nil || !ok {
		t.Fatalf("RequestAccess() = %v, %v", ok, err)
	}

	events, err := s.Fetch(t.Context(), testRangeStart, testRangeEnd)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.UID != "in-range" {
		t.Errorf("UID = %s", e.UID)
	}
	if e.Source != "home" || e.Calendar != "Family" {
		t.Errorf("Source/Calendar = %s/%s", e.Source, e.Calendar)
	}
	if e.Color != "#FF2968" {
		t.Errorf("Color = %s, want #FF2968", e.Color)
	}
}

func TestICSSourceMissingFile(t *testing.T) {
	s := NewICSSource("missing", filepath.Join(t.TempDir(), "nope.ics"), "", "", "")
	if _, err := s.Fetch(t.Context(), testRangeStart, testRangeEnd); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWriteReadICSRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.ics")
	start := time.Date(2026, 2, 17, 10, 0, 0, 0, time.Local)
	in := []Event{
		{UID: "b", Summary: "Second", Start: start.Add(time.Hour), End: start.Add(2 * time.Hour), Source: "work", Calendar: "Team", Color: "#63da38"},
		{UID: "a", Summary: "First", Start: start, End: start.Add(time.Hour), Source: "home"},
	}
	if err := WriteICS(path, in); err != nil {
		t.Fatalf("WriteICS: %v", err)
	}

	out, err := ReadICS(path, testRangeStart, testRangeEnd)
	if err != nil {
		t.Fatalf("ReadICS: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 events, got %d", len(out))
	}
	if out[0].UID != "a" || out[1].UID != "b" {
		t.Errorf("events not sorted by start: %s, %s", out[0].UID, out[1].UID)
	}
	if out[1].Source != "work" || out[1].Calendar != "Team" || out[1].Color != "#63da38" {
		t.Errorf("export properties lost: %+v", out[1])
	}
	if !out[0].Start.Equal(start) {
		t.Errorf("start = %v, want %v", out[0].Start, start)
	}
}

func TestMergeStable(t *testing.T) {
	at := time.Date(2026, 2, 17, 10, 0, 0, 0, time.Local)
	merged := Merge(
		[]Event{{UID: "x", Start: at}, {UID: "late", Start: at.Add(time.Hour)}},
		[]Event{{UID: "y", Start: at}, {UID: "early", Start: at.Add(-time.Hour)}},
	)
	var got []string
	for _, e := range merged {
		got = append(got, e.UID)
	}
	want := "early,x,y,late"
	if strings.Join(got, ",") != want {
		t.Errorf("Merge order = %v, want %s", got, want)
	}
}
