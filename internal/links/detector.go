// Package links finds meeting and web links in calendar events.
package links

import (
	"fmt"
	"os/exec"
	"regexp"
	"runtime"

	"github.com/cpuguy83/calgrid/internal/calendar"
)

// Link is a URL found in an event, tagged with the service it belongs to.
type Link struct {
	URL     string
	Service string
}

// IsMeeting reports whether the link belongs to a known meeting service.
func (l Link) IsMeeting() bool {
	return l.URL != "" && l.Service != genericService
}

const genericService = "Link"

type service struct {
	name    string
	pattern *regexp.Regexp
}

// Known services are tried in order before falling back to any URL.
var services = []service{
	{"Zoom", regexp.MustCompile(`https?://[\w.-]*zoom\.us/j/[\w?=&-]+`)},
	{"Teams", regexp.MustCompile(`https?://teams\.microsoft\.com/l/meetup-join/[\w%/.-]+`)},
	{"Meet", regexp.MustCompile(`https?://meet\.google\.com/[\w-]+`)},
	{"Webex", regexp.MustCompile(`https?://[\w.-]*\.webex\.com/[\w./-]+`)},
}

var anyURL = regexp.MustCompile(`https?://[^\s<>"]+`)

// ForEvent returns the best link for an event. An explicit URL wins when it
// points at a meeting service; otherwise location is searched before the
// description, meeting services before plain URLs. The zero Link means
// nothing was found.
func ForEvent(e calendar.Event) Link {
	if e.URL != "" {
		if name := Service(e.URL); name != genericService {
			return Link{URL: e.URL, Service: name}
		}
	}
	for _, text := range []string{e.Location, e.Description} {
		if l, ok := meetingIn(text); ok {
			return l
		}
	}
	for _, text := range []string{e.URL, e.Location, e.Description} {
		if u := anyURL.FindString(text); u != "" {
			return Link{URL: u, Service: genericService}
		}
	}
	return Link{}
}

func meetingIn(text string) (Link, bool) {
	if text == "" {
		return Link{}, false
	}
	for _, s := range services {
		if u := s.pattern.FindString(text); u != "" {
			return Link{URL: u, Service: s.name}, true
		}
	}
	return Link{}, false
}

// Service returns the meeting service name for a URL, or "Link".
func Service(url string) string {
	for _, s := range services {
		if s.pattern.MatchString(url) {
			return s.name
		}
	}
	return genericService
}

// Open opens url with the desktop's default handler.
func Open(url string) error {
	if url == "" {
		return fmt.Errorf("open link: empty url")
	}
	if err := openCommand(url).Start(); err != nil {
		return fmt.Errorf("open link: %w", err)
	}
	return nil
}

func openCommand(url string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return exec.Command("xdg-open", url)
	}
}
