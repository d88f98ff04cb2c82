// Package refresh rebuilds the grid snapshot on a schedule and whenever the
// calendar store reports a change.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cpuguy83/calgrid/internal/calendar"
	"github.com/cpuguy83/calgrid/internal/grid"
)

// ErrNotAuthorized is returned by Run when calendar access was not granted.
var ErrNotAuthorized = errors.New("calendar access not authorized")

// DefaultInterval is the time between scheduled refreshes.
const DefaultInterval = time.Minute

// State is the permission lifecycle of a Refresher.
type State int

const (
	Unauthorized State = iota
	Authorized
	Denied
)

func (s State) String() string {
	switch s {
	case Unauthorized:
		return "unauthorized"
	case Authorized:
		return "authorized"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Store is the calendar data the refresher reads.
type Store interface {
	RequestAccess(ctx context.Context) (bool, error)
	Events(ctx context.Context, start, end time.Time) ([]calendar.Event, error)
	Changes() <-chan struct{}
}

// Surface displays snapshots. Every snapshot replaces the previous one.
type Surface interface {
	Render(grid.Snapshot)
}

// SurfaceFunc adapts a function to a Surface.
type SurfaceFunc func(grid.Snapshot)

// Render calls f(s).
func (f SurfaceFunc) Render(s grid.Snapshot) { f(s) }

// Surfaces renders to each surface in order.
type Surfaces []Surface

// Render implements Surface.
func (ss Surfaces) Render(s grid.Snapshot) {
	for _, surface := range ss {
		surface.Render(s)
	}
}

// Refresher owns the permission lifecycle and the refresh loop.
type Refresher struct {
	store    Store
	surface  Surface
	cfg      grid.Config
	schedule cron.Schedule
	now      func() time.Time
	manual   chan struct{}

	// running serializes refreshes, so renders follow build order.
	running sync.Mutex

	mu      sync.Mutex
	state   State
	last    grid.Snapshot
	hasLast bool
}

// New creates a Refresher. A nil schedule refreshes every DefaultInterval.
func New(store Store, surface Surface, cfg grid.Config, schedule cron.Schedule) *Refresher {
	if schedule == nil {
		schedule = cron.Every(DefaultInterval)
	}
	return &Refresher{
		store:    store,
		surface:  surface,
		cfg:      cfg,
		schedule: schedule,
		now:      time.Now,
		manual:   make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (r *Refresher) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Authorize requests calendar access from the store. It only asks once:
// later calls return the settled state. A failed request counts as a
// denial.
func (r *Refresher) Authorize(ctx context.Context) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Unauthorized {
		return r.state, nil
	}

	granted, err := r.store.RequestAccess(ctx)
	switch {
	case err != nil:
		r.state = Denied
		slog.Error("calendar access request failed", "error", err)
		return r.state, fmt.Errorf("request calendar access: %w", err)
	case !granted:
		r.state = Denied
		slog.Warn("calendar access denied")
	default:
		r.state = Authorized
		slog.Debug("calendar access granted")
	}
	return r.state, nil
}

// Snapshot returns the most recently rendered snapshot.
func (r *Refresher) Snapshot() (grid.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

// Trigger asks Run for a refresh. It never blocks; triggers that arrive
// while one is already pending are merged into it.
func (r *Refresher) Trigger() {
	select {
	case r.manual <- struct{}{}:
	default:
	}
}

// Run refreshes once immediately, then on every scheduled tick, store change
// and Trigger call, until ctx is cancelled. All refreshes run on the calling
// goroutine one after another; a trigger that fires during a refresh waits
// for it to finish. Run returns ErrNotAuthorized unless Authorize granted
// access.
func (r *Refresher) Run(ctx context.Context) error {
	if r.State() != Authorized {
		return ErrNotAuthorized
	}

	ticks := make(chan struct{})
	c := cron.New()
	c.Schedule(r.schedule, cron.FuncJob(func() {
		select {
		case ticks <- struct{}{}:
		case <-ctx.Done():
		}
	}))
	c.Start()
	defer c.Stop()

	changes := r.store.Changes()

	r.refreshLogged(ctx, "start")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			r.refreshLogged(ctx, "timer")
		case <-r.manual:
			r.refreshLogged(ctx, "manual")
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			r.refreshLogged(ctx, "change")
		}
	}
}

func (r *Refresher) refreshLogged(ctx context.Context, trigger string) {
	if err := r.Refresh(ctx); err != nil {
		slog.Warn("refresh failed, keeping previous grid", "trigger", trigger, "error", err)
		return
	}
	slog.Debug("refreshed grid", "trigger", trigger)
}

// Refresh recomputes the snapshot from the store and renders it. On error
// nothing is rendered and the previous snapshot stays current. Concurrent
// calls run one at a time; while Run is active use Trigger instead.
func (r *Refresher) Refresh(ctx context.Context) error {
	if r.State() != Authorized {
		return ErrNotAuthorized
	}

	r.running.Lock()
	defer r.running.Unlock()

	snap, err := r.build(ctx, r.now())
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.last, r.hasLast = snap, true
	r.mu.Unlock()

	r.surface.Render(snap)
	return nil
}

func (r *Refresher) build(ctx context.Context, now time.Time) (grid.Snapshot, error) {
	week := grid.WeekOf(now, r.cfg.WeekStart)
	weekEvents, err := r.store.Events(ctx, week.Start, week.End)
	if err != nil {
		return grid.Snapshot{}, fmt.Errorf("query week: %w", err)
	}

	from, to := grid.Lookahead(now, r.cfg.Horizon)
	upcoming, err := r.store.Events(ctx, from, to)
	if err != nil {
		return grid.Snapshot{}, fmt.Errorf("query lookahead: %w", err)
	}

	return grid.Build(weekEvents, upcoming, now, r.cfg), nil
}
