// Package term renders the week grid as text for terminals.
package term

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/cpuguy83/calgrid/internal/grid"
)

const (
	hourWidth   = 7
	minColWidth = 10
)

// Options controls the text layout.
type Options struct {
	// Width is the total width in columns. Defaults to 120.
	Width int

	// Compact drops hour rows that have no events, except the current one.
	Compact bool

	// Clear clears the screen before each render, for live display.
	Clear bool
}

// Renderer draws snapshots to a writer. Colors are only emitted when the
// writer is a color-capable terminal.
type Renderer struct {
	opts Options

	mu sync.Mutex
	w  io.Writer

	heading lipgloss.Style
	today   lipgloss.Style
	hour    lipgloss.Style
	cell    lipgloss.Style
	next    lipgloss.Style
	dim     lipgloss.Style
	lg      *lipgloss.Renderer
}

// New creates a Renderer writing to w.
func New(w io.Writer, opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = 120
	}
	lg := lipgloss.NewRenderer(w)
	return &Renderer{
		opts:    opts,
		w:       w,
		lg:      lg,
		heading: lg.NewStyle().Bold(true),
		today:   lg.NewStyle().Bold(true).Underline(true).Foreground(lipgloss.Color("#1BADF8")),
		hour:    lg.NewStyle().Width(hourWidth).Align(lipgloss.Right).PaddingRight(1).Faint(true),
		cell:    lg.NewStyle().PaddingRight(1),
		next:    lg.NewStyle().Bold(true),
		dim:     lg.NewStyle().Faint(true),
	}
}

// Render implements refresh.Surface.
func (r *Renderer) Render(snap grid.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.Format(snap)
	if r.opts.Clear {
		out = "\x1b[H\x1b[2J" + out
	}
	if _, err := io.WriteString(r.w, out+"\n"); err != nil {
		slog.Debug("write grid", "error", err)
	}
}

// Format lays out the snapshot as a header line followed by an hour by day
// table.
func (r *Renderer) Format(snap grid.Snapshot) string {
	colWidth := max((r.opts.Width-hourWidth)/grid.DaysPerWeek, minColWidth)

	countdown := "No upcoming events"
	if snap.HasNext {
		countdown = snap.Countdown + ": " + snap.Next.Summary
	}
	lines := []string{
		r.heading.Render(snap.Week.Title()) + "  " + countdown,
		"",
	}

	headings := []string{r.hour.Render("")}
	for _, day := range snap.Days {
		style := r.heading
		if day.Today {
			style = r.today
		}
		headings = append(headings, r.cell.Width(colWidth).Render(style.Render(day.Label())))
	}
	lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, headings...))

	if len(snap.Days[0].Hours) == 0 {
		return strings.Join(lines, "\n")
	}

	for row := range snap.Days[0].Hours {
		if r.opts.Compact && !rowHasItems(snap, row) && !rowIsCurrent(snap, row) {
			continue
		}
		cells := []string{r.hour.Render(grid.HourLabel(snap.StartHour + row))}
		for _, day := range snap.Days {
			cells = append(cells, r.formatCell(snap, day.Hours[row], colWidth))
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}

	if snap.Excluded > 0 {
		lines = append(lines, "", r.dim.Render(fmt.Sprintf("%d outside the grid", snap.Excluded)))
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) formatCell(snap grid.Snapshot, b grid.Bucket, width int) string {
	textWidth := width - 3
	var lines []string
	for _, item := range b.Items {
		marker := "  "
		style := r.lg.NewStyle()
		if item.Color != "" {
			style = style.Foreground(lipgloss.Color(item.Color))
		}
		if snap.HasNext && item.Event.UID == snap.Next.UID && item.Event.Start.Equal(snap.Next.Start) {
			marker = "▶ "
			style = style.Inherit(r.next)
		}
		lines = append(lines, marker+style.Render(clip(item.Label, textWidth)))
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	if b.Current {
		lines[0] = "·" + strings.TrimPrefix(lines[0], " ")
	}
	return r.cell.Width(width).Render(strings.Join(lines, "\n"))
}

func rowHasItems(snap grid.Snapshot, row int) bool {
	for _, day := range snap.Days {
		if len(day.Hours[row].Items) > 0 {
			return true
		}
	}
	return false
}

func rowIsCurrent(snap grid.Snapshot, row int) bool {
	for _, day := range snap.Days {
		if day.Hours[row].Current {
			return true
		}
	}
	return false
}

// clip shortens s to n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
