//go:build !nogtk && cgo

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/diamondburned/gotk4/pkg/gio/v2"
	"github.com/diamondburned/gotk4/pkg/glib/v2"
	"github.com/diamondburned/gotk4/pkg/gtk/v4"

	"github.com/cpuguy83/calgrid/internal/config"
	"github.com/cpuguy83/calgrid/internal/ui/menu"
)

// Run starts the application with the main loop for its backend.
func (a *App) Run() error {
	backend, err := resolveBackend(a.backend, menu.Available())
	if err != nil {
		return err
	}
	a.backend = backend

	if backend == config.BackendGTK {
		return a.runWithGTK()
	}
	return a.runWithoutGTK()
}

// runWithGTK runs the application with GTK main loop.
func (a *App) runWithGTK() error {
	gtkApp := gtk.NewApplication("com.github.cpuguy83.calgrid", gio.ApplicationFlagsNone)

	var activateErr error
	gtkApp.ConnectActivate(func() {
		// Hold the application open while the window is hidden.
		gtkApp.Hold()

		if err := a.activate(); err != nil {
			activateErr = err
			gtkApp.Quit()
		}
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("received signal, shutting down")
		if a.cancel != nil {
			a.cancel()
		}
		glib.IdleAdd(func() {
			gtkApp.Quit()
		})
	}()

	// Blocks until Quit.
	code := gtkApp.Run(nil)
	a.cleanup()

	if activateErr != nil {
		return fmt.Errorf("activation failed: %w", activateErr)
	}
	if code != 0 {
		return fmt.Errorf("GTK application exited with code %d", code)
	}
	return nil
}
