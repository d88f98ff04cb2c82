package calendar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	duration "github.com/ChannelMeter/iso8601duration"
	ics "github.com/emersion/go-ical"
)

const (
	propCalendarName   = "X-WR-CALNAME"
	propAppleColor     = "X-APPLE-CALENDAR-COLOR"
	propColor          = "COLOR"
	propExportSource   = "X-CALGRID-SOURCE"
	propExportCalendar = "X-CALGRID-CALENDAR"
	defaultEventLength = time.Hour
)

// ICSSource fetches events from an ICS/iCal feed. The location may be an
// http(s) URL, a file:// URL or a plain filesystem path.
type ICSSource struct {
	name     string
	url      string
	path     string
	username string
	password string
	color    string
	client   *http.Client
}

// NewICSSource creates a new ICS calendar source.
func NewICSSource(name, location, username, password, color string) *ICSSource {
	s := &ICSSource{
		name:     name,
		username: username,
		password: password,
		color:    normalizeColor(color),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		s.url = location
	case strings.HasPrefix(location, "file://"):
		if u, err := url.Parse(location); err == nil {
			s.path = u.Path
		}
	default:
		s.path = location
	}
	return s
}

// Name returns the display name of this calendar source.
func (s *ICSSource) Name() string {
	return s.name
}

// WatchPaths returns the backing file for local feeds.
func (s *ICSSource) WatchPaths() []string {
	if s.path == "" {
		return nil
	}
	return []string{s.path}
}

// RequestAccess checks that a local feed is readable. Remote feeds are
// always considered accessible; fetch errors surface during sync.
func (s *ICSSource) RequestAccess(ctx context.Context) (bool, error) {
	if s.path == "" {
		return true, nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsPermission(err) {
			return false, nil
		}
		return false, fmt.Errorf("open ICS file: %w", err)
	}
	f.Close()
	return true, nil
}

// Fetch retrieves events from the ICS feed overlapping [start, end).
func (s *ICSSource) Fetch(ctx context.Context, start, end time.Time) ([]Event, error) {
	r, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	events, err := decodeICS(r, s.name, start, end)
	if err != nil {
		return nil, err
	}
	colorize(events, s.color)
	return events, nil
}

func (s *ICSSource) open(ctx context.Context) (io.ReadCloser, error) {
	if s.path != "" {
		f, err := os.Open(filepath.Clean(s.path))
		if err != nil {
			return nil, fmt.Errorf("open ICS file: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.username != "" && s.password != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ICS: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch ICS: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// decodeICS decodes every calendar in r and returns the occurrences that
// overlap [start, end).
func decodeICS(r io.Reader, source string, start, end time.Time) ([]Event, error) {
	dec := ics.NewDecoder(r)

	var events []Event
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode ICS: %w", err)
		}
		events = append(events, calendarEvents(cal, source, "", start, end)...)
	}
	return events, nil
}

// calendarEvents converts the VEVENTs of one calendar object, skipping
// components that cannot be parsed.
func calendarEvents(cal *ics.Calendar, source, calName string, start, end time.Time) []Event {
	if calName == "" {
		if prop := cal.Props.Get(propCalendarName); prop != nil {
			calName = prop.Value
		}
	}
	var calColor string
	if prop := cal.Props.Get(propAppleColor); prop != nil {
		calColor = normalizeColor(prop.Value)
	}

	var events []Event
	for _, comp := range cal.Children {
		if comp.Name != ics.CompEvent {
			continue
		}
		parsed, err := parseEvent(comp, start, end)
		if err != nil {
			continue
		}
		for _, e := range parsed {
			if e.Source == "" {
				e.Source = source
			}
			if e.Calendar == "" {
				e.Calendar = calName
			}
			if e.Color == "" {
				e.Color = calColor
			}
			if e.Overlaps(start, end) {
				events = append(events, e)
			}
		}
	}
	return events
}

// parseEvent converts a VEVENT into one event per occurrence in range.
func parseEvent(comp *ics.Component, rangeStart, rangeEnd time.Time) ([]Event, error) {
	var base Event

	if prop := comp.Props.Get(ics.PropUID); prop != nil {
		base.UID = prop.Value
	}
	if prop := comp.Props.Get(ics.PropSummary); prop != nil {
		base.Summary = prop.Value
	}
	if prop := comp.Props.Get(ics.PropDescription); prop != nil {
		base.Description = prop.Value
	}
	if prop := comp.Props.Get(ics.PropLocation); prop != nil {
		base.Location = prop.Value
	}
	if prop := comp.Props.Get(ics.PropURL); prop != nil {
		base.URL = prop.Value
	}
	if prop := comp.Props.Get(ics.PropOrganizer); prop != nil {
		base.Organizer = strings.TrimPrefix(prop.Value, "mailto:")
	}
	if prop := comp.Props.Get(propColor); prop != nil {
		base.Color = normalizeColor(prop.Value)
	}
	if prop := comp.Props.Get(propExportSource); prop != nil {
		base.Source = prop.Value
	}
	if prop := comp.Props.Get(propExportCalendar); prop != nil {
		base.Calendar = prop.Value
	}

	prop := comp.Props.Get(ics.PropDateTimeStart)
	if prop == nil {
		return nil, fmt.Errorf("missing %s", ics.PropDateTimeStart)
	}
	start, dateOnly, err := parseTime(prop)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}

	length := defaultEventLength
	if dateOnly {
		length = 24 * time.Hour
	}
	if prop := comp.Props.Get(ics.PropDateTimeEnd); prop != nil {
		t, _, err := parseTime(prop)
		if err != nil {
			return nil, fmt.Errorf("parse end time: %w", err)
		}
		length = t.Sub(start)
	} else if prop := comp.Props.Get(ics.PropDuration); prop != nil {
		if d, err := duration.FromString(prop.Value); err == nil {
			length = d.ToDuration()
		}
	}

	rset, err := comp.RecurrenceSet(time.Local)
	if err != nil {
		return nil, fmt.Errorf("parse recurrence: %w", err)
	}

	if rset == nil {
		base.Start = start
		base.End = start.Add(length)
		base.AllDay = dateOnly || isEffectivelyAllDay(base.Start, base.End)
		return []Event{base}, nil
	}

	// Look back by the event length to catch occurrences already in progress.
	var events []Event
	for _, occ := range rset.Between(rangeStart.Add(-length), rangeEnd, true) {
		e := base
		e.Start = occ
		e.End = occ.Add(length)
		e.AllDay = dateOnly || isEffectivelyAllDay(e.Start, e.End)
		e.UID = fmt.Sprintf("%s_%d", base.UID, occ.Unix())
		events = append(events, e)
	}
	return events, nil
}

// parseTime parses a DTSTART/DTEND value. dateOnly is true for VALUE=DATE.
func parseTime(prop *ics.Prop) (t time.Time, dateOnly bool, err error) {
	if len(prop.Value) == len("20060102") {
		t, err = time.ParseInLocation("20060102", prop.Value, time.Local)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}
	if t, err := prop.DateTime(time.Local); err == nil {
		return t, false, nil
	}
	// Floating time without TZID.
	t, err = time.ParseInLocation("20060102T150405", prop.Value, time.Local)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, false, nil
}

var (
	_ Source     = (*ICSSource)(nil)
	_ Watcher    = (*ICSSource)(nil)
	_ Authorizer = (*ICSSource)(nil)
)
