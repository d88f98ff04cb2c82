package menu

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/cpuguy83/calgrid/internal/calendar"
	"github.com/cpuguy83/calgrid/internal/grid"
	"github.com/cpuguy83/calgrid/internal/links"
	"github.com/cpuguy83/calgrid/internal/ui"
)

var errCancelled = errors.New("cancelled")

// Config holds menu UI configuration.
type Config struct {
	Program string   // dmenu program to use (auto-detect if empty)
	Args    []string // extra args to pass to the program
}

// Menu implements ui.Window using dmenu-style launchers.
type Menu struct {
	cfg      Config
	program  string
	onAction func(ui.Action)

	mu        sync.RWMutex
	snap      grid.Snapshot
	stale     bool
	isShowing bool
}

var _ ui.Window = (*Menu)(nil)

// New creates a new Menu UI backend.
func New(cfg Config) (*Menu, error) {
	program := cfg.Program
	if program == "" {
		var err error
		program, err = Detect()
		if err != nil {
			return nil, err
		}
		slog.Debug("auto-detected menu program", "program", program)
	} else if _, err := exec.LookPath(program); err != nil {
		return nil, fmt.Errorf("menu program %q not found: %w", program, err)
	}

	return &Menu{
		cfg:     cfg,
		program: program,
	}, nil
}

// Init initializes the menu UI.
func (m *Menu) Init() error {
	return nil
}

// Render stores the snapshot shown the next time the menu opens.
func (m *Menu) Render(snap grid.Snapshot) {
	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
}

// SetStale marks the data as potentially stale.
func (m *Menu) SetStale(stale bool) {
	m.mu.Lock()
	m.stale = stale
	m.mu.Unlock()
}

// Show displays the week menu.
func (m *Menu) Show() {
	m.mu.Lock()
	if m.isShowing {
		m.mu.Unlock()
		return
	}
	m.isShowing = true
	snap := m.snap
	stale := m.stale
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.isShowing = false
			m.mu.Unlock()
		}()

		m.showWeek(snap, stale)
	}()
}

// Hide is a no-op: dmenu closes itself on selection or Escape.
func (m *Menu) Hide() {}

// Toggle shows the menu if it is not already open. An open menu cannot be
// closed programmatically.
func (m *Menu) Toggle() {
	m.mu.RLock()
	isShowing := m.isShowing
	m.mu.RUnlock()

	if !isShowing {
		m.Show()
	}
}

// OnAction sets the callback for user actions.
func (m *Menu) OnAction(fn func(ui.Action)) {
	m.onAction = fn
}

func (m *Menu) showWeek(snap grid.Snapshot, stale bool) {
	lines, eventMap := formatWeek(snap)

	prompt := snap.Week.Title()
	if stale {
		prompt = "⚠ " + prompt
	}

	selected, err := m.runDmenu(lines, prompt)
	if err != nil {
		slog.Debug("menu closed without selection", "error", err)
		return
	}

	if event, ok := m.selectWeekLine(selected, eventMap); ok {
		m.showEventDetails(event, snap, stale)
	}
}

// selectWeekLine handles a choice from the week menu. It returns the event
// to show details for, if any.
func (m *Menu) selectWeekLine(selected string, eventMap map[string]calendar.Event) (calendar.Event, bool) {
	selected = strings.TrimSpace(selected)
	if selected == "" || isSeparator(selected) {
		return calendar.Event{}, false
	}

	if isRefreshAction(selected) {
		if m.onAction != nil {
			m.onAction(ui.Action{Type: ui.ActionRefresh})
		}
		return calendar.Event{}, false
	}

	event, ok := eventMap[selected]
	if !ok {
		slog.Debug("selected item not found in menu", "selected", selected)
	}
	return event, ok
}

func (m *Menu) showEventDetails(event calendar.Event, snap grid.Snapshot, stale bool) {
	lines, urlMap := formatEventDetails(event)

	selected, err := m.runDmenu(lines, "Details")
	if err != nil {
		slog.Debug("details menu closed without selection", "error", err)
		return
	}

	selected = strings.TrimSpace(selected)
	if selected == "" || isSeparator(selected) {
		return
	}

	if isBackAction(selected) {
		m.showWeek(snap, stale)
		return
	}

	if url, ok := urlMap[selected]; ok {
		slog.Debug("opening URL from menu", "url", url)
		if m.onAction != nil {
			m.onAction(ui.Action{Type: ui.ActionOpenURL, URL: url})
		} else if err := links.Open(url); err != nil {
			slog.Error("failed to open link", "url", url, "error", err)
		}
		return
	}

	copyToClipboard(selected)
}

// runDmenu runs the dmenu program with the given input lines.
// Returns the selected line or an error if the user cancelled.
func (m *Menu) runDmenu(lines []string, prompt string) (string, error) {
	args := m.buildArgs(prompt)
	cmd := exec.Command(m.program, args...)
	cmd.Stdin = strings.NewReader(strings.Join(lines, "\n"))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("running dmenu", "program", m.program, "args", args)

	if err := cmd.Run(); err != nil {
		// Exit code 1 usually means the user pressed Escape.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", errCancelled
		}
		return "", fmt.Errorf("dmenu failed: %w (stderr: %s)", err, stderr.String())
	}

	return stdout.String(), nil
}

// buildArgs builds command-line arguments for the dmenu program.
func (m *Menu) buildArgs(prompt string) []string {
	var args []string

	switch m.program {
	case "rofi":
		args = []string{"-dmenu", "-p", prompt, "-i"}
	case "wofi":
		args = []string{"--dmenu", "--prompt", prompt, "--insensitive"}
	case "fuzzel":
		args = []string{"--dmenu", "--prompt", prompt + ": "}
	case "bemenu":
		args = []string{"-p", prompt, "-i"}
	case "dmenu":
		args = []string{"-p", prompt, "-i", "-l", "20"}
	default:
		args = []string{"-p", prompt}
	}

	return append(args, m.cfg.Args...)
}

// copyToClipboard copies text to the system clipboard, trying the Wayland
// tool before the X11 ones.
func copyToClipboard(text string) {
	clean := strings.TrimSpace(text)
	for _, prefix := range []string{"📍 ", "👤 ", "📁 ", "🔗 "} {
		clean = strings.TrimPrefix(clean, prefix)
	}

	tools := [][]string{
		{"wl-copy"},
		{"xclip", "-selection", "clipboard"},
		{"xsel", "--clipboard", "--input"},
	}
	for _, tool := range tools {
		if _, err := exec.LookPath(tool[0]); err != nil {
			continue
		}
		cmd := exec.Command(tool[0], tool[1:]...)
		cmd.Stdin = strings.NewReader(clean)
		if err := cmd.Run(); err == nil {
			slog.Debug("copied to clipboard", "tool", tool[0])
			return
		}
	}

	slog.Debug("no clipboard tool available")
}
