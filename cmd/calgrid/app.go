package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cpuguy83/calgrid/internal/config"
	"github.com/cpuguy83/calgrid/internal/grid"
	"github.com/cpuguy83/calgrid/internal/links"
	"github.com/cpuguy83/calgrid/internal/notify"
	"github.com/cpuguy83/calgrid/internal/refresh"
	"github.com/cpuguy83/calgrid/internal/sync"
	"github.com/cpuguy83/calgrid/internal/tray"
	"github.com/cpuguy83/calgrid/internal/ui"
	"github.com/cpuguy83/calgrid/internal/ui/menu"
	"github.com/cpuguy83/calgrid/internal/ui/term"
)

// imminentWithin is how close the next event must be for the tray icon to
// switch to its imminent state.
const imminentWithin = 15 * time.Minute

// App is the main calgrid application.
type App struct {
	cfg     *config.Config
	out     io.Writer
	backend string

	syncer    *sync.Syncer
	refresher *refresh.Refresher
	window    ui.Window // nil for the term backend
	tray      *tray.Tray
	notifier  *notify.Notifier
	reminders *notify.Reminders

	// Context for background goroutines
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newApp(cfg *config.Config, out io.Writer) *App {
	return &App{cfg: cfg, out: out, backend: cfg.UI.Backend}
}

// resolveBackend picks the display backend for this build and session.
func resolveBackend(backend string, available []string) (string, error) {
	switch backend {
	case config.BackendAuto, "":
		if ui.GTKAvailable() {
			return config.BackendGTK, nil
		}
		if len(available) > 0 {
			return config.BackendMenu, nil
		}
		return config.BackendTerm, nil
	case config.BackendGTK:
		if !ui.GTKAvailable() {
			return "", errors.New("gtk backend requested but calgrid was built without GTK")
		}
	}
	return backend, nil
}

// activate builds every component and starts the background loops. With
// the GTK backend it must run on the GTK main thread.
func (a *App) activate() error {
	var err error

	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.syncer, err = sync.NewSyncer(a.cfg)
	if err != nil {
		return fmt.Errorf("create syncer: %w", err)
	}
	if a.syncer.SourceCount() == 0 {
		return errors.New("no calendar sources configured")
	}

	schedule, err := a.cfg.Grid.Schedule()
	if err != nil {
		return err
	}
	// Created before anything that can trigger it; surfaces is filled in below.
	surfaces := refresh.Surfaces{refresh.SurfaceFunc(a.updateStale)}
	a.refresher = refresh.New(a.syncer, refresh.SurfaceFunc(func(s grid.Snapshot) {
		surfaces.Render(s)
	}), a.cfg.Grid.Layout(), schedule)

	a.window, err = a.newWindow()
	if err != nil {
		return err
	}

	if a.window != nil {
		if err := a.window.Init(); err != nil {
			return fmt.Errorf("init window: %w", err)
		}
		a.window.OnAction(a.handleAction)
		surfaces = append(surfaces, a.window)
		if a.backend == config.BackendGTK {
			a.window.Show()
		}
	} else {
		surfaces = append(surfaces, term.New(a.out, term.Options{Clear: true}))
	}

	// The tray is optional: many compositors have no StatusNotifierWatcher.
	if t, err := tray.New(imminentWithin); err != nil {
		slog.Warn("tray disabled", "error", err)
	} else if err := t.Start(); err != nil {
		slog.Warn("tray disabled", "error", err)
	} else {
		a.tray = t
		a.tray.OnActivate(func() {
			slog.Debug("tray activated")
			if a.window != nil {
				a.window.Toggle()
			}
		})
		a.tray.OnRefresh(func() {
			a.refreshNow("tray")
		})
		surfaces = append(surfaces, a.tray)
	}

	if a.cfg.Notifications.Enabled {
		a.notifier, err = notify.New("Calgrid")
		if err != nil {
			slog.Warn("failed to initialize notifications", "error", err)
		} else {
			a.reminders = notify.NewReminders(a.notifier, a.cfg.Notifications.Before)
			if err := a.notifier.WatchActions(a.ctx, a.handleNotification); err != nil {
				slog.Warn("notification actions disabled", "error", err)
			}
			surfaces = append(surfaces, a.reminders)
		}
	}

	a.done = make(chan struct{})
	go a.loop()

	slog.Info("calgrid running",
		"sources", a.syncer.SourceCount(),
		"sync_interval", a.syncer.Interval(),
		"backend", a.backend,
	)
	return nil
}

func (a *App) newWindow() (ui.Window, error) {
	switch a.backend {
	case config.BackendGTK:
		return ui.NewGTK(ui.Config{
			Desktop:        a.cfg.UI.Desktop,
			Theme:          a.cfg.UI.Theme,
			Width:          a.cfg.UI.Width,
			Height:         a.cfg.UI.Height,
			ImminentWithin: imminentWithin,
		}), nil
	case config.BackendMenu:
		m, err := menu.New(menu.Config{Program: a.cfg.UI.Menu, Args: a.cfg.UI.MenuArgs})
		if err != nil {
			return nil, fmt.Errorf("create menu: %w", err)
		}
		return m, nil
	default:
		return nil, nil
	}
}

// loop runs the sync loop and, once access is granted, the refresh loop.
func (a *App) loop() {
	defer close(a.done)

	state, err := a.refresher.Authorize(a.ctx)
	if state != refresh.Authorized {
		slog.Error("calendar access not granted, the grid will stay empty", "state", state, "error", err)
		return
	}

	go a.syncer.Run(a.ctx)

	if err := a.refresher.Run(a.ctx); err != nil {
		slog.Error("refresh loop stopped", "error", err)
	}
}

// refreshNow queues a refresh on the refresh loop.
func (a *App) refreshNow(trigger string) {
	slog.Debug("refresh requested", "trigger", trigger)
	a.refresher.Trigger()
}

// updateStale runs before the other surfaces so they draw the snapshot with
// the current sync state.
func (a *App) updateStale(grid.Snapshot) {
	stale := a.syncer.Stale()
	if a.window != nil {
		a.window.SetStale(stale)
	}
	if a.tray != nil {
		a.tray.SetStale(stale)
	}
}

func (a *App) handleAction(action ui.Action) {
	switch action.Type {
	case ui.ActionOpenURL:
		openLink(action.URL)
	case ui.ActionRefresh:
		a.refreshNow("window")
	}
}

func (a *App) handleNotification(id uint32, key string) {
	slog.Debug("notification action", "id", id, "action", key)
	if url, ok := a.reminders.HandleAction(id, key); ok {
		openLink(url)
	}
}

func openLink(url string) {
	slog.Debug("opening link", "url", url)
	if err := links.Open(url); err != nil {
		slog.Error("failed to open link", "url", url, "error", err)
	}
}

// cleanup releases resources when the app is shutting down.
func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		<-a.done
	}
	if a.tray != nil {
		a.tray.Stop()
	}
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.syncer != nil {
		a.syncer.Close()
	}
}
