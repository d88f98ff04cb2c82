package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-webdav/caldav"
)

// iCloudCalDAVURL is the base URL for iCloud CalDAV.
const iCloudCalDAVURL = "https://caldav.icloud.com"

// CalDAVSource fetches events from a CalDAV server.
type CalDAVSource struct {
	name      string
	url       string
	username  string
	password  string
	color     string
	calendars []string // Optional: specific calendars to sync
}

// NewCalDAVSource creates a new CalDAV calendar source.
func NewCalDAVSource(name, url, username, password, color string, calendars []string) *CalDAVSource {
	return &CalDAVSource{
		name:      name,
		url:       url,
		username:  username,
		password:  password,
		color:     normalizeColor(color),
		calendars: calendars,
	}
}

// NewICloudSource creates a new iCloud calendar source.
// iCloud uses CalDAV with a specific server URL.
func NewICloudSource(name, username, password, color string, calendars []string) *CalDAVSource {
	return NewCalDAVSource(name, iCloudCalDAVURL, username, password, color, calendars)
}

// Name returns the display name of this calendar source.
func (s *CalDAVSource) Name() string {
	return s.name
}

func (s *CalDAVSource) client() (*caldav.Client, error) {
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &basicAuthTransport{
			username: s.username,
			password: s.password,
			base:     http.DefaultTransport,
		},
	}
	client, err := caldav.NewClient(httpClient, s.url)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}
	return client, nil
}

// Fetch retrieves events overlapping [start, end) from every selected calendar.
func (s *CalDAVSource) Fetch(ctx context.Context, start, end time.Time) ([]Event, error) {
	client, err := s.client()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var all []Event
	for _, cal := range cals {
		if !s.wants(cal.Name) {
			continue
		}

		events, err := s.query(ctx, client, cal, start, end)
		if err != nil {
			slog.Warn("skip calendar", "source", s.name, "calendar", cal.Name, "error", err)
			continue
		}

		color := s.color
		if color == "" {
			color = ColorFor(s.name + "/" + cal.Name)
		}
		colorize(events, color)
		all = append(all, events...)
	}

	return all, nil
}

// wants reports whether a calendar is selected by the source config.
func (s *CalDAVSource) wants(name string) bool {
	if len(s.calendars) == 0 {
		return true
	}
	for _, c := range s.calendars {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// query runs a time-ranged calendar-query against a single calendar.
func (s *CalDAVSource) query(ctx context.Context, client *caldav.Client, cal caldav.Calendar, start, end time.Time) ([]Event, error) {
	q := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{
				Name:     "VEVENT",
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: start,
				End:   end,
			}},
		},
	}

	objects, err := client.QueryCalendar(ctx, cal.Path, q)
	if err != nil {
		return nil, fmt.Errorf("query calendar %s: %w", cal.Name, err)
	}

	var events []Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		events = append(events, calendarEvents(obj.Data, s.name, cal.Name, start, end)...)
	}
	return events, nil
}

// RequestAccess verifies the credentials by resolving the user principal.
func (s *CalDAVSource) RequestAccess(ctx context.Context) (bool, error) {
	client, err := s.client()
	if err != nil {
		return false, err
	}
	if _, err := client.FindCurrentUserPrincipal(ctx); err != nil {
		if strings.Contains(err.Error(), "401") || strings.Contains(err.Error(), "403") {
			return false, nil
		}
		return false, fmt.Errorf("find principal: %w", err)
	}
	return true, nil
}

// basicAuthTransport adds basic auth to HTTP requests.
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(req)
}

var (
	_ Source     = (*CalDAVSource)(nil)
	_ Authorizer = (*CalDAVSource)(nil)
)
