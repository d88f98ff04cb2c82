// Package ui provides the interactive display surfaces for calgrid: the GTK
// week grid and dmenu-style launchers.
package ui

import (
	"time"

	"github.com/cpuguy83/calgrid/internal/grid"
)

// Window is an interactive surface that displays grid snapshots.
type Window interface {
	// Init initializes the window. Must be called before other methods.
	Init() error

	// Render replaces the displayed grid.
	Render(snap grid.Snapshot)

	// SetStale marks the data as potentially stale.
	SetStale(stale bool)

	// Show displays the window.
	Show()

	// Hide hides the window.
	Hide()

	// Toggle shows or hides the window.
	Toggle()

	// OnAction sets the callback for when a user performs an action.
	OnAction(fn func(Action))
}

// Action represents a user action from the UI.
type Action struct {
	Type ActionType
	URL  string // For ActionOpenURL
}

// ActionType identifies the type of action.
type ActionType int

const (
	// ActionOpenURL indicates the user wants to open a URL.
	ActionOpenURL ActionType = iota

	// ActionRefresh asks for an immediate refresh.
	ActionRefresh
)

// Config holds GTK window configuration.
type Config struct {
	// Desktop places the grid on the desktop background layer instead of
	// in a regular window. Only honored on layer-shell compositors.
	Desktop bool

	// Theme is "system", "light" or "dark".
	Theme string

	Width  int
	Height int

	// ImminentWithin highlights the countdown when the next event is close.
	ImminentWithin time.Duration
}
