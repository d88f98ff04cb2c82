// calgrid shows the current week of calendar events as an hour-by-day grid.
package main

import (
	"os"
)

func main() {
	if err := New().Execute(); err != nil {
		os.Exit(1)
	}
}
