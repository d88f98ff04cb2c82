package tray

import (
	"fmt"
	"time"

	"github.com/cpuguy83/calgrid/internal/grid"
)

// State represents the tray icon state.
type State int

const (
	StateNormal State = iota
	StateImminent
	StateStale
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateImminent:
		return "imminent"
	case StateStale:
		return "stale"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// stateFor picks the icon for a snapshot. Stale data wins over an imminent
// event.
func stateFor(snap grid.Snapshot, stale bool, imminentWithin time.Duration) State {
	switch {
	case stale:
		return StateStale
	case imminentWithin > 0 && snap.Imminent(imminentWithin):
		return StateImminent
	default:
		return StateNormal
	}
}

// tooltipBody is the countdown line with the next event's title.
func tooltipBody(snap grid.Snapshot, stale bool) string {
	body := "No upcoming events"
	if snap.HasNext {
		body = fmt.Sprintf("%s: %s", snap.Countdown, snap.Next.Summary)
		if snap.Next.Location != "" {
			body += "\n" + snap.Next.Location
		}
	}
	if stale {
		body += "\n⚠ Data may be stale"
	}
	return body
}
