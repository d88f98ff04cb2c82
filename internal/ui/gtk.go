//go:build !nogtk && cgo

package ui

import (
	"log/slog"

	"github.com/cpuguy83/calgrid/internal/grid"
	"github.com/cpuguy83/calgrid/internal/links"
)

// GTK wraps the WeekWindow to implement the Window interface.
type GTK struct {
	window   *WeekWindow
	onAction func(Action)
}

var _ Window = (*GTK)(nil)

// NewGTK creates a new GTK UI backend.
func NewGTK(cfg Config) *GTK {
	return &GTK{
		window: NewWeekWindow(cfg),
	}
}

// GTKAvailable reports whether this binary was built with GTK support.
// Use the 'nogtk' build tag to build without GTK for systems that don't
// have GTK4 installed.
func GTKAvailable() bool {
	return true
}

// Init initializes the GTK UI. Must be called from the GTK main thread.
func (g *GTK) Init() error {
	g.window.Init()
	g.window.OnOpen(func(url string) {
		if g.onAction != nil {
			g.onAction(Action{Type: ActionOpenURL, URL: url})
			return
		}
		if err := links.Open(url); err != nil {
			slog.Error("failed to open link", "url", url, "error", err)
		}
	})
	g.window.OnRefresh(func() {
		if g.onAction != nil {
			g.onAction(Action{Type: ActionRefresh})
		}
	})
	return nil
}

// Render replaces the displayed grid.
func (g *GTK) Render(snap grid.Snapshot) {
	g.window.Render(snap)
}

// SetStale marks the data as potentially stale.
func (g *GTK) SetStale(stale bool) {
	g.window.SetStale(stale)
}

// Show displays the window.
func (g *GTK) Show() {
	g.window.Show()
}

// Hide hides the window.
func (g *GTK) Hide() {
	g.window.Hide()
}

// Toggle shows or hides the window.
func (g *GTK) Toggle() {
	g.window.Toggle()
}

// OnAction sets the callback for user actions.
func (g *GTK) OnAction(fn func(Action)) {
	g.onAction = fn
}
