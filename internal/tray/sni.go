// Package tray shows the next-event countdown in the system tray using
// StatusNotifierItem (SNI).
package tray

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/cpuguy83/calgrid/internal/grid"
)

const (
	// D-Bus interface names
	sniInterface     = "org.kde.StatusNotifierItem"
	sniPath          = "/StatusNotifierItem"
	watcherInterface = "org.kde.StatusNotifierWatcher"
	watcherPath      = "/StatusNotifierWatcher"
	watcherBusName   = "org.kde.StatusNotifierWatcher"

	appID    = "calgrid"
	appTitle = "Calgrid"
)

// Tray manages the system tray icon via StatusNotifierItem.
type Tray struct {
	conn    *dbus.Conn
	busName string
	props   *prop.Properties

	imminentWithin time.Duration

	mu      sync.Mutex
	state   State
	stale   bool
	last    grid.Snapshot
	hasLast bool
	tooltip toolTip

	onActivate func() // primary click
	onRefresh  func() // middle click

	// For clean shutdown of watcher goroutine
	stopCh chan struct{}
}

// New creates a new system tray icon. The icon turns to the imminent state
// when the next event starts within imminentWithin.
func New(imminentWithin time.Duration) (*Tray, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	t := &Tray{
		conn:           conn,
		imminentWithin: imminentWithin,
		state:          StateNormal,
		stopCh:         make(chan struct{}),
		tooltip: toolTip{
			Title: appTitle,
			Body:  "Loading calendar...",
		},
	}

	return t, nil
}

// Start registers the tray icon with the StatusNotifierWatcher.
func (t *Tray) Start() error {
	// Request a unique bus name using process ID
	busName := fmt.Sprintf("org.kde.StatusNotifierItem-%d-1", os.Getpid())
	reply, err := t.conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		// Fall back to a simpler name
		busName = "org.kde.StatusNotifierItem-" + appID
		reply, err = t.conn.RequestName(busName, dbus.NameFlagDoNotQueue)
		if err != nil {
			return fmt.Errorf("request bus name: %w", err)
		}
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name already taken")
	}

	t.busName = busName

	// Export the SNI object (methods)
	if err := t.conn.Export(t, sniPath, sniInterface); err != nil {
		return fmt.Errorf("export SNI interface: %w", err)
	}

	// Setup properties using godbus prop package
	propsSpec := prop.Map{
		sniInterface: {
			"Category":      {Value: "ApplicationStatus", Writable: false, Emit: prop.EmitFalse},
			"Id":            {Value: appID, Writable: false, Emit: prop.EmitFalse},
			"Title":         {Value: appTitle, Writable: false, Emit: prop.EmitFalse},
			"Status":        {Value: "Active", Writable: false, Emit: prop.EmitTrue},
			"IconName":      {Value: "", Writable: false, Emit: prop.EmitTrue},
			"IconPixmap":    {Value: pixmapFor(StateNormal), Writable: false, Emit: prop.EmitTrue},
			"IconThemePath": {Value: "", Writable: false, Emit: prop.EmitFalse},
			"Menu":          {Value: dbus.ObjectPath("/NO_DBUSMENU"), Writable: false, Emit: prop.EmitFalse},
			"ItemIsMenu":    {Value: false, Writable: false, Emit: prop.EmitFalse},
			"ToolTip":       {Value: t.currentToolTip(), Writable: false, Emit: prop.EmitTrue},
		},
	}

	props, err := prop.Export(t.conn, sniPath, propsSpec)
	if err != nil {
		return fmt.Errorf("export properties: %w", err)
	}
	t.props = props

	// Export introspection data
	node := &introspect.Node{
		Name: sniPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:    sniInterface,
				Methods: sniMethods,
				Signals: sniSignals,
			},
		},
	}
	if err := t.conn.Export(introspect.NewIntrospectable(node), sniPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	// Initial registration with the watcher
	t.registerWithWatcher()

	// Watch for StatusNotifierWatcher restarts (e.g., when waybar restarts)
	go t.handleWatcherSignals()

	slog.Info("tray icon registered", "bus_name", t.busName, "connection", t.conn.Names()[0])
	return nil
}

// registerWithWatcher registers this tray icon with the StatusNotifierWatcher.
// This is called on startup and whenever the watcher service restarts.
func (t *Tray) registerWithWatcher() {
	uniqueName := t.conn.Names()[0]
	watcher := t.conn.Object(watcherBusName, watcherPath)
	call := watcher.Call(watcherInterface+".RegisterStatusNotifierItem", 0, uniqueName)
	if call.Err != nil {
		slog.Warn("failed to register with StatusNotifierWatcher", "error", call.Err)
		// Continue anyway - some environments don't have a watcher
	} else {
		slog.Debug("registered with StatusNotifierWatcher", "connection", uniqueName)
	}
}

// handleWatcherSignals listens for D-Bus signals indicating the StatusNotifierWatcher
// service has restarted (e.g., when waybar restarts) and re-registers our tray icon.
func (t *Tray) handleWatcherSignals() {
	// Subscribe to NameOwnerChanged signals for the watcher bus name
	matchRule := fmt.Sprintf(
		"type='signal',interface='org.freedesktop.DBus',member='NameOwnerChanged',arg0='%s'",
		watcherBusName,
	)
	if err := t.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule).Err; err != nil {
		slog.Warn("failed to add D-Bus match rule for watcher monitoring", "error", err)
		return
	}

	// Channel for D-Bus signals - size 1 acts as a coalescing buffer
	// If multiple signals arrive while we're processing, we only need to
	// re-register once, so dropping intermediate signals is fine
	sigCh := make(chan *dbus.Signal, 1)
	t.conn.Signal(sigCh)

	defer t.conn.RemoveSignal(sigCh)

	for {
		select {
		case <-t.stopCh:
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			// NameOwnerChanged has args: (name string, old_owner string, new_owner string)
			if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" {
				continue
			}
			if len(sig.Body) < 3 {
				continue
			}
			name, ok := sig.Body[0].(string)
			if !ok || name != watcherBusName {
				continue
			}
			newOwner, ok := sig.Body[2].(string)
			if !ok {
				continue
			}
			// If the watcher has a new owner (non-empty), re-register
			if newOwner != "" {
				slog.Info("StatusNotifierWatcher restarted, re-registering tray icon")
				t.registerWithWatcher()
			}
		}
	}
}

// Stop removes the tray icon.
func (t *Tray) Stop() error {
	close(t.stopCh)
	return t.conn.Close()
}

// Render implements refresh.Surface.
func (t *Tray) Render(snap grid.Snapshot) {
	t.mu.Lock()
	t.last, t.hasLast = snap, true
	t.mu.Unlock()
	t.update()
}

// SetStale marks the data as potentially stale.
func (t *Tray) SetStale(stale bool) {
	t.mu.Lock()
	t.stale = stale
	t.mu.Unlock()
	t.update()
}

// OnActivate sets the callback for when the tray icon is clicked.
func (t *Tray) OnActivate(fn func()) {
	t.onActivate = fn
}

// OnRefresh sets the callback for a middle click on the tray icon.
func (t *Tray) OnRefresh(fn func()) {
	t.onRefresh = fn
}

func (t *Tray) update() {
	t.mu.Lock()
	prev := t.state
	if t.hasLast {
		t.state = stateFor(t.last, t.stale, t.imminentWithin)
		t.tooltip.Body = tooltipBody(t.last, t.stale)
	}
	state := t.state
	tip := t.tooltip
	t.mu.Unlock()

	if t.props != nil {
		t.props.SetMust(sniInterface, "ToolTip", tip)
		if state != prev {
			t.props.SetMust(sniInterface, "IconPixmap", pixmapFor(state))
		}
	}
	t.conn.Emit(sniPath, sniInterface+".NewToolTip")
	if state != prev {
		slog.Debug("tray state changed", "from", prev, "to", state)
		t.conn.Emit(sniPath, sniInterface+".NewIcon")
	}
}

func (t *Tray) currentToolTip() toolTip {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tooltip
}

// iconData represents a single icon in the pixmap array.
type iconData struct {
	Width  int32
	Height int32
	Data   []byte
}

// toolTip represents the StatusNotifierItem tooltip struct (sa(iiay)ss).
type toolTip struct {
	IconName   string     // Icon name (empty to use pixmap)
	IconPixmap []iconData // Icon pixmap (can be empty)
	Title      string     // Tooltip title
	Body       string     // Tooltip body/description
}

func pixmapFor(state State) []iconData {
	icon := iconNormalPixmap
	switch state {
	case StateImminent:
		icon = iconImminentPixmap
	case StateStale:
		icon = iconStalePixmap
	}
	return []iconData{{Width: iconSize, Height: iconSize, Data: icon}}
}

// SNI D-Bus method implementations

// Activate is called when the user clicks the tray icon (primary action).
func (t *Tray) Activate(x, y int32) *dbus.Error {
	slog.Debug("tray activated", "x", x, "y", y)
	if t.onActivate != nil {
		go t.onActivate()
	}
	return nil
}

// SecondaryActivate is called on middle-click.
func (t *Tray) SecondaryActivate(x, y int32) *dbus.Error {
	slog.Debug("tray secondary activated", "x", x, "y", y)
	if t.onRefresh != nil {
		go t.onRefresh()
	}
	return nil
}

// Scroll is called when the user scrolls on the tray icon.
func (t *Tray) Scroll(delta int32, orientation string) *dbus.Error {
	slog.Debug("tray scroll", "delta", delta, "orientation", orientation)
	return nil
}

// ContextMenu is called to show a context menu (right-click).
func (t *Tray) ContextMenu(x, y int32) *dbus.Error {
	slog.Debug("tray context menu", "x", x, "y", y)
	return nil
}

const iconSize = 22

// Week-grid icons in ARGB, network byte order.
var (
	iconNormalPixmap   = generateGridIcon(0xFF5294E2)
	iconImminentPixmap = generateGridIcon(0xFFF27835)
	iconStalePixmap    = generateGridIcon(0xFFCC575D)
)

// generateGridIcon draws a rounded tile with a colored header bar over a
// 7 by 3 grid of day cells, the middle column accented.
func generateGridIcon(accent uint32) []byte {
	pixels := make([]byte, iconSize*iconSize*4)

	setPixel := func(x, y int, argb uint32) {
		if x < 0 || x >= iconSize || y < 0 || y >= iconSize {
			return
		}
		i := (y*iconSize + x) * 4
		pixels[i] = byte(argb >> 24)
		pixels[i+1] = byte(argb >> 16)
		pixels[i+2] = byte(argb >> 8)
		pixels[i+3] = byte(argb)
	}
	fillRect := func(x1, y1, x2, y2 int, argb uint32) {
		for y := y1; y <= y2; y++ {
			for x := x1; x <= x2; x++ {
				setPixel(x, y, argb)
			}
		}
	}

	const (
		body   = uint32(0xFFF5F5F5)
		border = uint32(0xFF3D3D3D)
		cell   = uint32(0xFFB0B0B0)
	)

	fillRect(2, 3, 19, 19, border)
	fillRect(3, 4, 18, 18, body)
	fillRect(3, 4, 18, 6, accent)

	// Knock out the corners.
	for _, p := range [][2]int{{2, 3}, {19, 3}, {2, 19}, {19, 19}} {
		setPixel(p[0], p[1], 0)
	}

	// Day cells: 7 columns of 2px with no gap, 3 rows of 3px.
	for col := range 7 {
		x := 4 + col*2
		c := cell
		if col == 3 {
			c = accent
		}
		for row := range 3 {
			y := 8 + row*3
			fillRect(x, y, x, y+1, c)
		}
	}

	return pixels
}

// D-Bus interface definitions for introspection
var sniMethods = []introspect.Method{
	{Name: "Activate", Args: []introspect.Arg{{Name: "x", Type: "i", Direction: "in"}, {Name: "y", Type: "i", Direction: "in"}}},
	{Name: "SecondaryActivate", Args: []introspect.Arg{{Name: "x", Type: "i", Direction: "in"}, {Name: "y", Type: "i", Direction: "in"}}},
	{Name: "Scroll", Args: []introspect.Arg{{Name: "delta", Type: "i", Direction: "in"}, {Name: "orientation", Type: "s", Direction: "in"}}},
	{Name: "ContextMenu", Args: []introspect.Arg{{Name: "x", Type: "i", Direction: "in"}, {Name: "y", Type: "i", Direction: "in"}}},
}

var sniSignals = []introspect.Signal{
	{Name: "NewIcon"},
	{Name: "NewToolTip"},
	{Name: "NewStatus", Args: []introspect.Arg{{Name: "status", Type: "s"}}},
}
