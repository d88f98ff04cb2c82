// Package menu provides a dmenu-style UI backend for calgrid.
package menu

import (
	"fmt"
	"os/exec"
	"strings"
)

// Supported dmenu-compatible programs in order of preference.
var supportedPrograms = []string{
	"rofi",
	"wofi",
	"fuzzel",
	"bemenu",
	"dmenu",
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// Detect finds the first available dmenu-compatible program.
func Detect() (string, error) {
	if available := Available(); len(available) > 0 {
		return available[0], nil
	}
	return "", fmt.Errorf("no dmenu-compatible program found (tried: %s)", strings.Join(supportedPrograms, ", "))
}

// Supported returns the list of supported dmenu programs.
func Supported() []string {
	return supportedPrograms
}

// Available returns the supported programs that are installed, in order of
// preference.
func Available() []string {
	var available []string
	for _, prog := range supportedPrograms {
		if path, err := lookPath(prog); err == nil && path != "" {
			available = append(available, prog)
		}
	}
	return available
}
