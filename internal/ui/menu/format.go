package menu

import (
	"fmt"
	"strings"
	"time"

	"github.com/cpuguy83/calgrid/internal/calendar"
	"github.com/cpuguy83/calgrid/internal/grid"
	"github.com/cpuguy83/calgrid/internal/links"
)

const (
	separatorPrefix = "━━━━"
	backLine        = "← Back"
	emptyLine       = "No events this week"
	refreshLine     = "↻ Refresh"
)

// formatWeek formats a snapshot for the main menu: the countdown, then each
// day that has events, then the refresh entry. Returns the lines to display and a map of trimmed
// line -> event for selection handling.
func formatWeek(snap grid.Snapshot) ([]string, map[string]calendar.Event) {
	var lines []string
	eventMap := make(map[string]calendar.Event)

	if snap.HasNext {
		lines = append(lines, fmt.Sprintf("%s %s: %s %s", separatorPrefix, snap.Countdown, snap.Next.Summary, separatorPrefix))
	}

	for _, day := range snap.Days {
		var dayLines []string
		for _, bucket := range day.Hours {
			for _, item := range bucket.Items {
				line := formatItemLine(item, bucket, snap)
				key := strings.TrimSpace(line)
				if _, dup := eventMap[key]; dup {
					continue
				}
				eventMap[key] = item.Event
				dayLines = append(dayLines, line)
			}
		}
		if len(dayLines) == 0 {
			continue
		}
		heading := day.Label()
		if day.Today {
			heading = "Today · " + heading
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", separatorPrefix, heading, separatorPrefix))
		lines = append(lines, dayLines...)
	}

	if len(eventMap) == 0 {
		lines = append(lines, emptyLine)
	}
	lines = append(lines, refreshLine)

	return lines, eventMap
}

// formatItemLine formats one bubble for the list.
func formatItemLine(item grid.Item, bucket grid.Bucket, snap grid.Snapshot) string {
	prefix := "  "
	switch {
	case snap.HasNext && item.Event.UID == snap.Next.UID && item.Event.Start.Equal(snap.Next.Start):
		prefix = "▶ "
	case bucket.Current:
		prefix = "• "
	}

	line := prefix + item.Label
	if d := item.Event.Duration(); d > 0 {
		line += fmt.Sprintf(" (%s)", formatDuration(d))
	}
	if item.Event.IsOngoing(snap.Generated) {
		line += " · now"
	}
	return line
}

// formatEventDetails formats event details for the details menu.
// Returns lines to display and a map of line -> action URL.
func formatEventDetails(e calendar.Event) ([]string, map[string]string) {
	var lines []string
	urlMap := make(map[string]string)

	lines = append(lines, fmt.Sprintf("%s %s %s", separatorPrefix, truncate(e.Summary, 40), separatorPrefix))

	timeRange := fmt.Sprintf("%s - %s", e.Start.Format("15:04"), e.End.Format("15:04"))
	lines = append(lines, fmt.Sprintf("  %s, %s (%s)", e.Start.Format("Mon, Jan 2"), timeRange, formatDuration(e.Duration())))

	if e.Location != "" {
		lines = append(lines, fmt.Sprintf("  📍 %s", truncate(e.Location, 50)))
	}
	if e.Organizer != "" {
		lines = append(lines, fmt.Sprintf("  👤 %s", e.Organizer))
	}
	if e.Source != "" {
		source := e.Source
		if e.Calendar != "" && e.Calendar != e.Source {
			source += " / " + e.Calendar
		}
		lines = append(lines, fmt.Sprintf("  📁 %s", source))
	}

	if link := links.ForEvent(e); link.URL != "" {
		label := "Open link"
		if link.IsMeeting() {
			label = "Join " + link.Service
		}
		line := fmt.Sprintf("  🔗 %s", label)
		lines = append(lines, line)
		// dmenu may strip leading whitespace
		urlMap[strings.TrimSpace(line)] = link.URL
	}

	lines = append(lines, "", backLine)
	return lines, urlMap
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	hours := d.Hours()
	if hours == float64(int(hours)) {
		return fmt.Sprintf("%dh", int(hours))
	}
	return fmt.Sprintf("%.1fh", hours)
}

// truncate truncates a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

// isSeparator returns true if the line is not selectable.
func isSeparator(line string) bool {
	return strings.HasPrefix(line, separatorPrefix) || line == "" || line == emptyLine
}

func isBackAction(line string) bool {
	return line == backLine
}

func isRefreshAction(line string) bool {
	return line == refreshLine
}
