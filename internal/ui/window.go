//go:build !nogtk && cgo

package ui

import (
	"log/slog"
	"sync"

	"github.com/diamondburned/gotk4-adwaita/pkg/adw"
	"github.com/diamondburned/gotk4-layer-shell/pkg/gtk4layershell"
	"github.com/diamondburned/gotk4/pkg/gdk/v4"
	"github.com/diamondburned/gotk4/pkg/glib/v2"
	"github.com/diamondburned/gotk4/pkg/gtk/v4"

	"github.com/cpuguy83/calgrid/internal/grid"
	"github.com/cpuguy83/calgrid/internal/links"
)

// WeekWindow shows the week grid: one column per day, one row per hour.
type WeekWindow struct {
	cfg Config

	window    *gtk.Window
	title     *gtk.Label
	countdown *gtk.Label
	table     *gtk.Grid
	statusBar *gtk.Label
	colors    *gtk.CSSProvider

	mu       sync.RWMutex
	snap     grid.Snapshot
	rendered bool
	stale    bool

	onOpen    func(url string)
	onRefresh func()
}

// NewWeekWindow creates the window. Widgets are built by Init.
func NewWeekWindow(cfg Config) *WeekWindow {
	if cfg.Width <= 0 {
		cfg.Width = 1100
	}
	if cfg.Height <= 0 {
		cfg.Height = 700
	}
	return &WeekWindow{cfg: cfg}
}

// Init initializes the GTK widgets. Must be called from GTK main thread.
func (w *WeekWindow) Init() {
	adw.Init()
	applyTheme(w.cfg.Theme)

	w.window = gtk.NewWindow()
	w.window.SetTitle("Calgrid")
	w.window.SetDefaultSize(w.cfg.Width, w.cfg.Height)

	if w.cfg.Desktop {
		if gtk4layershell.IsSupported() {
			slog.Debug("placing grid on desktop layer")
			gtk4layershell.InitForWindow(w.window)
			gtk4layershell.SetLayer(w.window, gtk4layershell.LayerShellLayerBackground)
			for _, edge := range []gtk4layershell.LayerShellEdge{
				gtk4layershell.LayerShellEdgeTop,
				gtk4layershell.LayerShellEdgeBottom,
				gtk4layershell.LayerShellEdgeLeft,
				gtk4layershell.LayerShellEdgeRight,
			} {
				gtk4layershell.SetAnchor(w.window, edge, true)
				gtk4layershell.SetMargin(w.window, edge, 24)
			}
			gtk4layershell.SetKeyboardMode(w.window, gtk4layershell.LayerShellKeyboardModeNone)
			gtk4layershell.SetNamespace(w.window, "calgrid")
			w.window.SetDecorated(false)
		} else {
			slog.Warn("desktop mode requested but layer shell is not supported, using a regular window")
		}
	}

	w.window.ConnectCloseRequest(func() bool {
		w.window.SetVisible(false)
		return true
	})

	keyController := gtk.NewEventControllerKey()
	keyController.ConnectKeyPressed(func(keyval, keycode uint, state gdk.ModifierType) bool {
		switch {
		case keyval == gdk.KEY_Escape && !w.cfg.Desktop:
			w.window.SetVisible(false)
			return true
		case keyval == gdk.KEY_F5, keyval == gdk.KEY_r && state&gdk.ControlMask != 0:
			w.requestRefresh()
			return true
		}
		return false
	})
	w.window.AddController(keyController)

	w.buildUI()
	w.applyCSS()
	w.update()
}

func applyTheme(theme string) {
	scheme := adw.ColorSchemeDefault
	switch theme {
	case "light":
		scheme = adw.ColorSchemeForceLight
	case "dark":
		scheme = adw.ColorSchemeForceDark
	}
	adw.StyleManagerGetDefault().SetColorScheme(scheme)
}

func (w *WeekWindow) buildUI() {
	content := gtk.NewBox(gtk.OrientationVertical, 0)
	content.AddCSSClass("grid-container")
	w.window.SetChild(content)

	header := gtk.NewBox(gtk.OrientationHorizontal, 0)
	header.AddCSSClass("grid-header")

	icon := gtk.NewImageFromIconName("x-office-calendar-symbolic")
	icon.AddCSSClass("header-icon")
	icon.SetPixelSize(20)
	header.Append(icon)

	w.title = gtk.NewLabel("")
	w.title.AddCSSClass("header-title")
	w.title.SetXAlign(0)
	header.Append(w.title)

	w.countdown = gtk.NewLabel("")
	w.countdown.AddCSSClass("countdown")
	w.countdown.SetHExpand(true)
	w.countdown.SetXAlign(1)
	w.countdown.SetEllipsize(3) // PANGO_ELLIPSIZE_END
	header.Append(w.countdown)

	refreshBtn := gtk.NewButtonFromIconName("view-refresh-symbolic")
	refreshBtn.AddCSSClass("flat")
	refreshBtn.SetTooltipText("Refresh (F5)")
	refreshBtn.ConnectClicked(w.requestRefresh)
	header.Append(refreshBtn)

	content.Append(header)

	scrolled := gtk.NewScrolledWindow()
	scrolled.SetVExpand(true)
	scrolled.SetPolicy(gtk.PolicyNever, gtk.PolicyAutomatic)
	content.Append(scrolled)

	w.table = gtk.NewGrid()
	w.table.AddCSSClass("week-grid")
	w.table.SetColumnHomogeneous(false)
	w.table.SetRowSpacing(1)
	w.table.SetColumnSpacing(1)
	scrolled.SetChild(w.table)

	w.statusBar = gtk.NewLabel("")
	w.statusBar.AddCSSClass("status-bar")
	w.statusBar.SetXAlign(0)
	content.Append(w.statusBar)
}

func (w *WeekWindow) applyCSS() {
	css := `
		.grid-container {
			background: @window_bg_color;
			border-radius: 12px;
			border: 1px solid alpha(@borders, 0.5);
		}

		.grid-header {
			padding: 14px 16px 10px 16px;
			border-bottom: 1px solid alpha(@borders, 0.3);
		}

		.header-icon {
			margin-right: 10px;
			color: @accent_color;
		}

		.header-title {
			font-size: 15px;
			font-weight: 600;
		}

		.countdown {
			font-size: 13px;
			color: alpha(@view_fg_color, 0.7);
		}

		.countdown.imminent {
			color: @warning_color;
			font-weight: 600;
		}

		.week-grid {
			background: alpha(@borders, 0.15);
		}

		.day-heading {
			padding: 6px 8px;
			font-size: 12px;
			font-weight: 600;
			color: alpha(@view_fg_color, 0.6);
			background: @window_bg_color;
		}

		.day-heading.today {
			color: @accent_color;
		}

		.hour-label {
			padding: 2px 8px;
			font-size: 11px;
			color: alpha(@view_fg_color, 0.5);
			background: @window_bg_color;
			min-width: 48px;
		}

		.cell {
			min-height: 36px;
			padding: 2px;
			background: @view_bg_color;
		}

		.cell.today {
			background: alpha(@accent_bg_color, 0.06);
		}

		.cell.current {
			box-shadow: inset 0 0 0 2px alpha(@accent_color, 0.6);
		}

		.bubble {
			padding: 2px 6px;
			margin: 1px 0;
			min-height: 0;
			border-radius: 6px;
			font-size: 11px;
			background: alpha(@accent_bg_color, 0.2);
			border-left: 3px solid @accent_bg_color;
		}

		.bubble.next {
			font-weight: 600;
		}

		.status-bar {
			padding: 8px 16px;
			font-size: 11px;
			color: alpha(@view_fg_color, 0.5);
			border-top: 1px solid alpha(@borders, 0.2);
			border-radius: 0 0 12px 12px;
		}

		.status-bar.stale {
			color: @warning_color;
		}
	`

	provider := gtk.NewCSSProvider()
	provider.LoadFromData(css)

	w.colors = gtk.NewCSSProvider()

	if display := gdk.DisplayGetDefault(); display != nil {
		gtk.StyleContextAddProviderForDisplay(display, provider, gtk.STYLE_PROVIDER_PRIORITY_APPLICATION)
		gtk.StyleContextAddProviderForDisplay(display, w.colors, gtk.STYLE_PROVIDER_PRIORITY_APPLICATION+1)
	}
}

// Render replaces the displayed grid.
func (w *WeekWindow) Render(snap grid.Snapshot) {
	w.mu.Lock()
	w.snap = snap
	w.rendered = true
	w.mu.Unlock()

	glib.IdleAdd(w.update)
}

// SetStale marks the data as potentially stale.
func (w *WeekWindow) SetStale(stale bool) {
	w.mu.Lock()
	w.stale = stale
	w.mu.Unlock()

	glib.IdleAdd(w.updateStatusBar)
}

// OnOpen sets the callback for when a bubble with a link is clicked.
func (w *WeekWindow) OnOpen(fn func(url string)) {
	w.onOpen = fn
}

// OnRefresh sets the callback for the refresh button and F5 / Ctrl+R.
func (w *WeekWindow) OnRefresh(fn func()) {
	w.onRefresh = fn
}

func (w *WeekWindow) requestRefresh() {
	slog.Debug("refresh requested from window")
	if w.onRefresh != nil {
		w.onRefresh()
	}
}

// Show shows the window.
func (w *WeekWindow) Show() {
	if w.window == nil {
		return
	}
	glib.IdleAdd(func() {
		w.window.SetVisible(true)
		w.window.Present()
	})
}

// Hide hides the window.
func (w *WeekWindow) Hide() {
	if w.window == nil {
		return
	}
	glib.IdleAdd(func() {
		w.window.SetVisible(false)
	})
}

// Toggle shows or hides the window.
func (w *WeekWindow) Toggle() {
	if w.window == nil {
		return
	}
	glib.IdleAdd(func() {
		if w.window.IsVisible() {
			w.window.SetVisible(false)
		} else {
			w.window.SetVisible(true)
			w.window.Present()
		}
	})
}

// update rebuilds the grid from the current snapshot.
func (w *WeekWindow) update() {
	if w.table == nil {
		return
	}

	w.mu.RLock()
	snap := w.snap
	rendered := w.rendered
	w.mu.RUnlock()

	for child := w.table.FirstChild(); child != nil; child = w.table.FirstChild() {
		w.table.Remove(child)
	}

	w.updateStatusBar()
	if !rendered {
		w.title.SetText("Calgrid")
		w.countdown.SetText("")
		return
	}

	w.colors.LoadFromData(colorCSS(snap))
	w.title.SetText(snap.Week.Title())

	w.countdown.SetText(countdownText(snap))
	w.countdown.RemoveCSSClass("imminent")
	if w.cfg.ImminentWithin > 0 && snap.Imminent(w.cfg.ImminentWithin) {
		w.countdown.AddCSSClass("imminent")
	}

	for d, day := range snap.Days {
		heading := gtk.NewLabel(day.Label())
		heading.AddCSSClass("day-heading")
		if day.Today {
			heading.AddCSSClass("today")
		}
		heading.SetHExpand(true)
		w.table.Attach(heading, d+1, 0, 1, 1)
	}

	for row := range len(snap.Days[0].Hours) {
		hour := gtk.NewLabel(grid.HourLabel(snap.StartHour + row))
		hour.AddCSSClass("hour-label")
		hour.SetXAlign(1)
		hour.SetYAlign(0)
		w.table.Attach(hour, 0, row+1, 1, 1)

		for d, day := range snap.Days {
			w.table.Attach(w.createCell(snap, day, day.Hours[row]), d+1, row+1, 1, 1)
		}
	}
}

func (w *WeekWindow) createCell(snap grid.Snapshot, day grid.Day, bucket grid.Bucket) *gtk.Box {
	cell := gtk.NewBox(gtk.OrientationVertical, 0)
	cell.AddCSSClass("cell")
	if day.Today {
		cell.AddCSSClass("today")
	}
	if bucket.Current {
		cell.AddCSSClass("current")
	}
	cell.SetHExpand(true)

	for _, item := range bucket.Items {
		isNext := snap.HasNext && item.Event.UID == snap.Next.UID && item.Event.Start.Equal(snap.Next.Start)
		cell.Append(w.createBubble(item, isNext))
	}
	return cell
}

func (w *WeekWindow) createBubble(item grid.Item, isNext bool) *gtk.Button {
	btn := gtk.NewButton()
	btn.AddCSSClass("bubble")
	btn.AddCSSClass("flat")
	if class := colorClass(item.Color); class != "" {
		btn.AddCSSClass(class)
	}
	if isNext {
		btn.AddCSSClass("next")
	}

	label := gtk.NewLabel(item.Label)
	label.SetXAlign(0)
	label.SetEllipsize(3) // PANGO_ELLIPSIZE_END
	btn.SetChild(label)
	btn.SetTooltipText(tooltip(item))

	link := links.ForEvent(item.Event)
	if link.URL == "" {
		return btn
	}
	btn.ConnectClicked(func() {
		slog.Debug("bubble clicked", "summary", item.Event.Summary, "url", link.URL)
		if w.onOpen != nil {
			w.onOpen(link.URL)
		} else if err := links.Open(link.URL); err != nil {
			slog.Error("failed to open link", "url", link.URL, "error", err)
		}
	})
	return btn
}

func (w *WeekWindow) updateStatusBar() {
	if w.statusBar == nil {
		return
	}

	w.mu.RLock()
	snap := w.snap
	rendered := w.rendered
	stale := w.stale
	w.mu.RUnlock()

	w.statusBar.RemoveCSSClass("stale")
	if stale && rendered {
		w.statusBar.AddCSSClass("stale")
	}
	w.statusBar.SetText(statusText(snap, rendered, stale))
}
