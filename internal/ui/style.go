package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/cpuguy83/calgrid/internal/grid"
	"github.com/cpuguy83/calgrid/internal/links"
)

// colorClass returns the CSS class for a "#rrggbb" calendar color, or "" if
// the color is not usable.
func colorClass(color string) string {
	hex := strings.ToLower(strings.TrimPrefix(color, "#"))
	if len(hex) != 6 || strings.Trim(hex, "0123456789abcdef") != "" {
		return ""
	}
	return "cal-" + hex
}

// colorCSS renders one bubble rule per distinct calendar color in snap.
func colorCSS(snap grid.Snapshot) string {
	seen := make(map[string]bool)
	for _, item := range snap.Items() {
		if class := colorClass(item.Color); class != "" {
			seen[class] = true
		}
	}

	classes := make([]string, 0, len(seen))
	for class := range seen {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	var b strings.Builder
	for _, class := range classes {
		hex := strings.TrimPrefix(class, "cal-")
		fmt.Fprintf(&b, ".bubble.%s { background: alpha(#%s, 0.22); border-left: 3px solid #%s; }\n", class, hex, hex)
	}
	return b.String()
}

// statusText is the footer line under the grid.
func statusText(snap grid.Snapshot, rendered, stale bool) string {
	switch {
	case !rendered:
		return "Loading calendar..."
	case stale:
		return fmt.Sprintf("⚠ Data may be stale • Updated %s", snap.Generated.Format("3:04 PM"))
	default:
		text := fmt.Sprintf("%s • Updated %s", pluralEvents(snap.Len()), snap.Generated.Format("3:04 PM"))
		if snap.Excluded > 0 {
			text += fmt.Sprintf(" • %d outside the grid", snap.Excluded)
		}
		return text
	}
}

func pluralEvents(n int) string {
	if n == 1 {
		return "1 event"
	}
	return humanize.Comma(int64(n)) + " events"
}

// countdownText is the header line above the grid.
func countdownText(snap grid.Snapshot) string {
	if !snap.HasNext {
		return "No upcoming events"
	}
	return snap.Countdown + ": " + snap.Next.Summary
}

// tooltip describes an item in more detail than its bubble label.
func tooltip(item grid.Item) string {
	e := item.Event
	lines := []string{
		e.Summary,
		e.Start.Format("Mon Jan 2, 3:04 PM") + " - " + e.End.Format("3:04 PM"),
	}
	if e.Location != "" {
		lines = append(lines, e.Location)
	}
	if name := calendarName(item); name != "" {
		lines = append(lines, name)
	}
	if l := links.ForEvent(e); l.URL != "" {
		lines = append(lines, "Click to open "+l.Service)
	}
	return strings.Join(lines, "\n")
}

func calendarName(item grid.Item) string {
	e := item.Event
	switch {
	case e.Calendar != "" && e.Source != "" && e.Calendar != e.Source:
		return e.Source + " / " + e.Calendar
	case e.Calendar != "":
		return e.Calendar
	default:
		return e.Source
	}
}
