//go:build nogtk || !cgo

package main

import (
	"github.com/cpuguy83/calgrid/internal/ui/menu"
)

// Run starts the application without GTK.
func (a *App) Run() error {
	backend, err := resolveBackend(a.backend, menu.Available())
	if err != nil {
		return err
	}
	a.backend = backend
	return a.runWithoutGTK()
}
