// Package sync keeps a cache of calendar events fetched from multiple
// sources and reports when it changes.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cpuguy83/calgrid/internal/calendar"
	"github.com/cpuguy83/calgrid/internal/filter"
	"github.com/cpuguy83/calgrid/internal/grid"
)

// sourceWithFilter pairs a calendar source with its optional filter.
type sourceWithFilter struct {
	source calendar.Source
	filter *filter.Filter
}

// Options control the fetch window and schedule.
type Options struct {
	Interval  time.Duration // time between periodic syncs
	Horizon   time.Duration // how far past now the next-event lookahead reaches
	WeekStart time.Weekday
	Filter    *filter.Filter // applied to every source after its own filter
}

// Syncer handles calendar synchronization from multiple sources.
type Syncer struct {
	opts Options
	now  func() time.Time

	mu       sync.RWMutex
	sources  []sourceWithFilter
	cache    map[string][]calendar.Event
	merged   []calendar.Event
	from, to time.Time // window of the last attempted sync
	synced   bool      // a sync was attempted, even if every source failed
	lastSync time.Time
	lastErr  error

	syncMu  sync.Mutex
	changes chan struct{}
}

func newSyncer(sources []sourceWithFilter, opts Options) *Syncer {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 72 * time.Hour
	}
	return &Syncer{
		opts:    opts,
		now:     time.Now,
		sources: sources,
		cache:   make(map[string][]calendar.Event),
		changes: make(chan struct{}, 1),
	}
}

// Interval returns the configured sync interval.
func (s *Syncer) Interval() time.Duration {
	return s.opts.Interval
}

// SourceCount returns the number of active sources.
func (s *Syncer) SourceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sources)
}

// SourceNames returns the names of the active sources.
func (s *Syncer) SourceNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sources))
	for _, swf := range s.sources {
		names = append(names, swf.source.Name())
	}
	return names
}

// Changes returns a channel that receives a value after every sync that
// updated the cache. Notifications coalesce while nobody is reading.
func (s *Syncer) Changes() <-chan struct{} {
	return s.changes
}

// Stale reports whether the most recent sync had failing sources.
func (s *Syncer) Stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr != nil
}

// LastSync returns the time of the last successful sync.
func (s *Syncer) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// RequestAccess asks every source that needs permission. Sources that are
// denied are dropped for the rest of the session. Access is granted if at
// least one source remains.
func (s *Syncer) RequestAccess(ctx context.Context) (bool, error) {
	s.mu.RLock()
	sources := s.sources
	s.mu.RUnlock()

	var (
		kept []sourceWithFilter
		errs []error
	)
	for _, swf := range sources {
		a, ok := swf.source.(calendar.Authorizer)
		if !ok {
			kept = append(kept, swf)
			continue
		}

		granted, err := a.RequestAccess(ctx)
		switch {
		case err != nil:
			slog.Warn("access request failed", "source", swf.source.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", swf.source.Name(), err))
		case !granted:
			slog.Warn("access denied", "source", swf.source.Name())
		default:
			slog.Debug("access granted", "source", swf.source.Name())
			kept = append(kept, swf)
		}
	}

	s.mu.Lock()
	s.sources = kept
	s.mu.Unlock()

	if len(kept) == 0 {
		return false, errors.Join(errs...)
	}
	return true, nil
}

// window returns the range fetched from sources: the displayed week and
// the lookahead, padded by a day on both sides.
func (s *Syncer) window(now time.Time) (time.Time, time.Time) {
	week := grid.WeekOf(now, s.opts.WeekStart)
	end := week.End
	if ahead := now.Add(s.opts.Horizon); ahead.After(end) {
		end = ahead
	}
	return week.Start.AddDate(0, 0, -1), end.AddDate(0, 0, 1)
}

// Sync fetches all sources, applies filters, and returns the merged events.
// A failing source keeps its previously cached events. An error is returned
// only if every source failed.
func (s *Syncer) Sync(ctx context.Context) ([]calendar.Event, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.RLock()
	sources := s.sources
	s.mu.RUnlock()

	from, to := s.window(s.now())
	slog.Info("starting sync", "sources", len(sources), "from", from.Format(time.DateOnly), "to", to.Format(time.DateOnly))

	type result struct {
		events   []calendar.Event
		name     string
		fetched  int // count before filtering
		filtered int // count after filtering
		err      error
	}

	results := make(chan result, len(sources))
	var wg sync.WaitGroup

	for _, swf := range sources {
		wg.Go(func() {
			name := swf.source.Name()
			slog.Debug("fetching source", "name", name)

			events, err := swf.source.Fetch(ctx, from, to)
			if err != nil {
				results <- result{name: name, err: err}
				return
			}

			fetched := len(events)
			events = s.opts.Filter.Apply(swf.filter.Apply(events))

			results <- result{
				events:   events,
				name:     name,
				fetched:  fetched,
				filtered: len(events),
			}
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		errs      []error
		succeeded int
	)
	fresh := make(map[string][]calendar.Event, len(sources))
	for r := range results {
		if r.err != nil {
			slog.Warn("failed to fetch source", "name", r.name, "error", r.err)
			errs = append(errs, fmt.Errorf("fetch %s: %w", r.name, r.err))
			continue
		}
		slog.Debug("fetched source", "name", r.name, "fetched", r.fetched, "after_filter", r.filtered)
		fresh[r.name] = r.events
		succeeded++
	}

	s.mu.Lock()
	for name, events := range fresh {
		s.cache[name] = events
	}
	active := make(map[string]bool, len(s.sources))
	sets := make([][]calendar.Event, 0, len(s.sources))
	for _, swf := range s.sources {
		name := swf.source.Name()
		active[name] = true
		sets = append(sets, s.cache[name])
	}
	for name := range s.cache {
		if !active[name] {
			delete(s.cache, name)
		}
	}
	s.merged = calendar.Merge(sets...)
	s.lastErr = errors.Join(errs...)
	s.from, s.to = from, to
	s.synced = true
	if succeeded > 0 {
		s.lastSync = s.now()
	}
	merged := s.merged
	s.mu.Unlock()

	slog.Info("sync complete", "events", len(merged), "failed", len(errs))

	if succeeded == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	s.notify()
	return merged, nil
}

func (s *Syncer) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Events returns cached events overlapping [start, end), sorted by start.
// If the range reaches outside what was last fetched, a sync runs first.
func (s *Syncer) Events(ctx context.Context, start, end time.Time) ([]calendar.Event, error) {
	s.mu.RLock()
	covered := s.synced && !start.Before(s.from) && !end.After(s.to)
	s.mu.RUnlock()

	if !covered {
		if _, err := s.Sync(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Nothing was ever fetched: report the failure until Run retries.
	if s.lastSync.IsZero() && s.lastErr != nil {
		return nil, s.lastErr
	}

	var out []calendar.Event
	for _, e := range s.merged {
		if e.Overlaps(start, end) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Run syncs immediately, then on every interval and whenever a watched
// source file changes. Run blocks until the context is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	if _, err := s.Sync(ctx); err != nil {
		slog.Error("sync failed", "error", err)
	}

	fileChanges, err := s.watch(ctx)
	if err != nil {
		slog.Warn("file watching disabled", "error", err)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-fileChanges:
			slog.Debug("source file changed")
		case <-ctx.Done():
			return
		}
		if _, err := s.Sync(ctx); err != nil {
			slog.Error("sync failed", "error", err)
		}
	}
}
