package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/cpuguy83/calgrid/internal/auth"
)

const (
	graphCalendarEndpoint = "https://graph.microsoft.com/v1.0/me/calendarView"
	calendarReadScope     = "Calendars.Read"
)

// tokenProvider can acquire access tokens.
type tokenProvider interface {
	GetToken(ctx context.Context) (*auth.Token, error)
	Close() error
}

// MS365Source fetches events from a Microsoft 365 calendar via Graph API.
type MS365Source struct {
	name     string
	color    string
	endpoint string
	client   *http.Client

	initOnce sync.Once
	initErr  error
	auth     tokenProvider
}

// NewMS365Source creates a new MS365 calendar source.
func NewMS365Source(name, color string) *MS365Source {
	return &MS365Source{
		name:     name,
		color:    normalizeColor(color),
		endpoint: graphCalendarEndpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the display name of this calendar source.
func (s *MS365Source) Name() string {
	return s.name
}

func (s *MS365Source) initAuth() error {
	s.initOnce.Do(func() {
		if s.auth != nil {
			return
		}
		a, err := auth.NewDeviceCodeAuth("", []string{calendarReadScope}, os.Stderr)
		if err != nil {
			s.initErr = fmt.Errorf("initialize device code auth: %w", err)
			return
		}
		s.auth = a
	})
	return s.initErr
}

// RequestAccess signs in (interactively on first use) and reports whether a
// token could be obtained.
func (s *MS365Source) RequestAccess(ctx context.Context) (bool, error) {
	if err := s.initAuth(); err != nil {
		return false, err
	}
	if _, err := s.auth.GetToken(ctx); err != nil {
		if errors.Is(err, auth.ErrInteractionRequired) {
			return false, nil
		}
		return false, fmt.Errorf("get token: %w", err)
	}
	return true, nil
}

// Fetch retrieves events overlapping [start, end) from the calendar view,
// which expands recurring series server side.
func (s *MS365Source) Fetch(ctx context.Context, start, end time.Time) ([]Event, error) {
	if err := s.initAuth(); err != nil {
		return nil, err
	}
	token, err := s.auth.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	params := url.Values{}
	params.Set("startDateTime", start.UTC().Format(time.RFC3339))
	params.Set("endDateTime", end.UTC().Format(time.RFC3339))
	params.Set("$orderby", "start/dateTime")
	params.Set("$top", "500")
	params.Set("$select", "id,subject,bodyPreview,start,end,location,isAllDay,isCancelled,organizer,webLink,onlineMeeting")

	var events []Event
	for next := s.endpoint + "?" + params.Encode(); next != ""; {
		page, link, err := s.fetchPage(ctx, token.AccessToken, next)
		if err != nil {
			return nil, fmt.Errorf("fetch calendar: %w", err)
		}
		events = append(events, page...)
		next = link
	}

	colorize(events, s.color)
	slog.Debug("fetched MS365 events", "source", s.name, "count", len(events))
	return events, nil
}

// Close cleans up resources.
func (s *MS365Source) Close() error {
	if s.auth != nil {
		return s.auth.Close()
	}
	return nil
}

type graphPage struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink,omitempty"`
}

type graphEvent struct {
	ID          string        `json:"id"`
	Subject     string        `json:"subject"`
	BodyPreview string        `json:"bodyPreview"`
	Start       graphDateTime `json:"start"`
	End         graphDateTime `json:"end"`
	Location    *struct {
		DisplayName string `json:"displayName"`
	} `json:"location,omitempty"`
	IsAllDay    bool `json:"isAllDay"`
	IsCancelled bool `json:"isCancelled"`
	Organizer   *struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"organizer,omitempty"`
	WebLink       string `json:"webLink"`
	OnlineMeeting *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting,omitempty"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func (s *MS365Source) fetchPage(ctx context.Context, accessToken, reqURL string) ([]Event, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.timezone="UTC", outlook.body-content-type="text"`)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("graph API error: status %d: %s", resp.StatusCode, body)
	}

	var page graphPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("decode response: %w", err)
	}

	events := make([]Event, 0, len(page.Value))
	for _, ge := range page.Value {
		if ge.IsCancelled {
			continue
		}
		e, err := s.convert(ge)
		if err != nil {
			slog.Warn("skip event", "id", ge.ID, "error", err)
			continue
		}
		events = append(events, e)
	}
	return events, page.NextLink, nil
}

func (s *MS365Source) convert(ge graphEvent) (Event, error) {
	e := Event{
		UID:         ge.ID,
		Summary:     ge.Subject,
		Description: ge.BodyPreview,
		Source:      s.name,
		Calendar:    s.name,
		AllDay:      ge.IsAllDay,
		URL:         ge.WebLink,
	}

	start, err := parseGraphDateTime(ge.Start)
	if err != nil {
		return e, fmt.Errorf("parse start: %w", err)
	}
	end, err := parseGraphDateTime(ge.End)
	if err != nil {
		return e, fmt.Errorf("parse end: %w", err)
	}
	e.Start, e.End = start, end

	if ge.Location != nil {
		e.Location = ge.Location.DisplayName
	}
	if ge.Organizer != nil {
		e.Organizer = ge.Organizer.EmailAddress.Address
	}
	if ge.OnlineMeeting != nil && ge.OnlineMeeting.JoinURL != "" {
		if e.Location == "" {
			e.Location = ge.OnlineMeeting.JoinURL
		} else {
			e.Description = ge.OnlineMeeting.JoinURL + "\n" + e.Description
		}
	}
	return e, nil
}

// parseGraphDateTime parses a Graph datetime, which is UTC because of the
// Prefer header sent with every request.
func parseGraphDateTime(gdt graphDateTime) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02T15:04:05.0000000",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, gdt.DateTime, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime: %s", gdt.DateTime)
}

var (
	_ Source     = (*MS365Source)(nil)
	_ Authorizer = (*MS365Source)(nil)
)
