package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// runWithoutGTK runs the menu or term backend until interrupted.
func (a *App) runWithoutGTK() error {
	if err := a.activate(); err != nil {
		a.cleanup()
		return fmt.Errorf("activation failed: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("received signal, shutting down")
	a.cleanup()
	return nil
}
