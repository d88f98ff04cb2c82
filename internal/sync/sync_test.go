package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cpuguy83/calgrid/internal/calendar"
	"github.com/cpuguy83/calgrid/internal/config"
	"github.com/cpuguy83/calgrid/internal/filter"
)

type fakeSource struct {
	name    string
	events  []calendar.Event
	err     error
	granted bool
	authErr error
	fetches atomic.Int32

	from, to time.Time
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, start, end time.Time) ([]calendar.Event, error) {
	f.fetches.Add(1)
	f.from, f.to = start, end
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

type authSource struct {
	*fakeSource
}

func (a authSource) RequestAccess(ctx context.Context) (bool, error) {
	return a.granted, a.authErr
}

// Wednesday 2026-02-18 10:00 local; the Sunday week starts 2026-02-15.
var testNow = time.Date(2026, 2, 18, 10, 0, 0, 0, time.Local)

func ev(summary, source string, start time.Time) calendar.Event {
	return calendar.Event{UID: summary, Summary: summary, Source: source, Start: start, End: start.Add(time.Hour)}
}

func newTestSyncer(sources ...calendar.Source) *Syncer {
	var swfs []sourceWithFilter
	for _, src := range sources {
		swfs = append(swfs, sourceWithFilter{source: src})
	}
	s := newSyncer(swfs, Options{Interval: time.Hour, Horizon: 72 * time.Hour, WeekStart: time.Sunday})
	s.now = func() time.Time { return testNow }
	return s
}

func TestSyncMergesSources(t *testing.T) {
	a := &fakeSource{name: "a", events: []calendar.Event{ev("a2", "a", testNow.Add(2*time.Hour)), ev("a1", "a", testNow.Add(-time.Hour))}}
	b := &fakeSource{name: "b", events: []calendar.Event{ev("b1", "b", testNow.Add(time.Hour))}}
	s := newTestSyncer(a, b)

	events, err := s.Sync(t.Context())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	var got []string
	for _, e := range events {
		got = append(got, e.Summary)
	}
	if len(got) != 3 || got[0] != "a1" || got[1] != "b1" || got[2] != "a2" {
		t.Errorf("merged order = %v, want [a1 b1 a2]", got)
	}

	wantFrom := time.Date(2026, 2, 14, 0, 0, 0, 0, time.Local)
	wantTo := time.Date(2026, 2, 23, 0, 0, 0, 0, time.Local)
	if !a.from.Equal(wantFrom) || !a.to.Equal(wantTo) {
		t.Errorf("fetch window = %v - %v, want %v - %v", a.from, a.to, wantFrom, wantTo)
	}

	select {
	case <-s.Changes():
	default:
		t.Error("expected change notification after sync")
	}
}

func TestSyncWindowCoversLookahead(t *testing.T) {
	a := &fakeSource{name: "a"}
	s := newTestSyncer(a)
	// Saturday night: now+72h runs past the week end.
	s.now = func() time.Time { return time.Date(2026, 2, 21, 22, 0, 0, 0, time.Local) }

	if _, err := s.Sync(t.Context()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	want := time.Date(2026, 2, 25, 22, 0, 0, 0, time.Local)
	if !a.to.Equal(want) {
		t.Errorf("fetch end = %v, want %v", a.to, want)
	}
}

func TestSyncPartialFailureKeepsCache(t *testing.T) {
	a := &fakeSource{name: "a", events: []calendar.Event{ev("a1", "a", testNow)}}
	b := &fakeSource{name: "b", events: []calendar.Event{ev("b1", "b", testNow.Add(time.Hour))}}
	s := newTestSyncer(a, b)

	if _, err := s.Sync(t.Context()); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	b.err = errors.New("network down")
	events, err := s.Sync(t.Context())
	if err != nil {
		t.Fatalf("partial Sync returned error: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected cached events from failed source to survive, got %d events", len(events))
	}
	if !s.Stale() {
		t.Error("expected Stale() after a source failed")
	}

	b.err = nil
	if _, err := s.Sync(t.Context()); err != nil {
		t.Fatalf("recovery Sync: %v", err)
	}
	if s.Stale() {
		t.Error("expected Stale() to clear after recovery")
	}
}

func TestSyncAllFail(t *testing.T) {
	s := newTestSyncer(&fakeSource{name: "a", err: errors.New("boom")})
	if _, err := s.Sync(t.Context()); err == nil {
		t.Fatal("expected error when every source fails")
	}
	select {
	case <-s.Changes():
		t.Error("unexpected change notification after failed sync")
	default:
	}
}

func TestEvents(t *testing.T) {
	a := &fakeSource{name: "a", events: []calendar.Event{
		ev("monday", "a", time.Date(2026, 2, 16, 9, 0, 0, 0, time.Local)),
		ev("friday", "a", time.Date(2026, 2, 20, 9, 0, 0, 0, time.Local)),
	}}
	s := newTestSyncer(a)

	// First query syncs on demand.
	events, err := s.Events(t.Context(), time.Date(2026, 2, 16, 0, 0, 0, 0, time.Local), time.Date(2026, 2, 17, 0, 0, 0, 0, time.Local))
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].Summary != "monday" {
		t.Errorf("Events() = %+v, want monday only", events)
	}
	if n := a.fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}

	// Covered range is served from cache.
	if _, err := s.Events(t.Context(), time.Date(2026, 2, 19, 0, 0, 0, 0, time.Local), time.Date(2026, 2, 21, 0, 0, 0, 0, time.Local)); err != nil {
		t.Fatalf("Events: %v", err)
	}
	if n := a.fetches.Load(); n != 1 {
		t.Errorf("fetches = %d after cached query, want 1", n)
	}
}

func TestEventsAfterFailedSyncDoesNotRefetch(t *testing.T) {
	a := &fakeSource{name: "a", err: errors.New("offline")}
	s := newTestSyncer(a)

	week := [2]time.Time{time.Date(2026, 2, 15, 0, 0, 0, 0, time.Local), time.Date(2026, 2, 22, 0, 0, 0, 0, time.Local)}
	ahead := [2]time.Time{testNow.Add(-5 * time.Minute), testNow.Add(72 * time.Hour)}

	for _, r := range [][2]time.Time{week, ahead, week} {
		if _, err := s.Events(t.Context(), r[0], r[1]); err == nil {
			t.Fatal("expected an error while every source is failing")
		}
	}
	if n := a.fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1 until the next sync", n)
	}

	// The next sync retries and a success is served normally.
	a.err = nil
	a.events = []calendar.Event{ev("standup", "a", testNow.Add(time.Hour))}
	if _, err := s.Sync(t.Context()); err != nil {
		t.Fatal(err)
	}
	events, err := s.Events(t.Context(), ahead[0], ahead[1])
	if err != nil || len(events) != 1 {
		t.Errorf("Events() after recovery = %+v, %v", events, err)
	}
	if n := a.fetches.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
}

func TestSyncAppliesFilters(t *testing.T) {
	a := &fakeSource{name: "a", events: []calendar.Event{ev("Standup", "a", testNow), ev("Lunch", "a", testNow)}}
	perSource, err := filter.New(config.FilterConfig{Rules: []config.FilterRule{{Field: "title", Exact: "Standup"}}})
	if err != nil {
		t.Fatal(err)
	}
	s := newSyncer([]sourceWithFilter{{source: a, filter: perSource}}, Options{})
	s.now = func() time.Time { return testNow }

	events, err := s.Sync(t.Context())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(events) != 1 || events[0].Summary != "Standup" {
		t.Errorf("filtered events = %+v", events)
	}
}

func TestRequestAccess(t *testing.T) {
	plain := &fakeSource{name: "plain"}
	granted := authSource{&fakeSource{name: "granted", granted: true}}
	denied := authSource{&fakeSource{name: "denied", granted: false}}
	broken := authSource{&fakeSource{name: "broken", authErr: errors.New("no keychain")}}

	s := newTestSyncer(plain, granted, denied, broken)
	ok, err := s.RequestAccess(t.Context())
	if err != nil || !ok {
		t.Fatalf("RequestAccess() = %v, %v; want true, nil", ok, err)
	}
	names := s.SourceNames()
	if len(names) != 2 || names[0] != "plain" || names[1] != "granted" {
		t.Errorf("remaining sources = %v, want [plain granted]", names)
	}
}

func TestRequestAccessAllDenied(t *testing.T) {
	s := newTestSyncer(authSource{&fakeSource{name: "denied"}})
	ok, err := s.RequestAccess(t.Context())
	if ok {
		t.Fatal("expected access to be denied")
	}
	if err != nil {
		t.Errorf("plain denial should not be an error: %v", err)
	}
	if s.SourceCount() != 0 {
		t.Errorf("denied source kept")
	}
}

func TestRunWatchesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.ics")
	if err := os.WriteFile(path, []byte("BEGIN:VCALENDAR\nEND:VCALENDAR\n"), 0644); err != nil {
		t.Fatal(err)
	}
	src := &watchedSource{fakeSource: &fakeSource{name: "file"}, path: path}
	s := newTestSyncer(src)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go s.Run(ctx)

	waitChange(t, s)

	// Allow the watcher to subscribe before writing.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("BEGIN:VCALENDAR\nEND:VCALENDAR\n"), 0644); err != nil {
		t.Fatal(err)
	}

	waitChange(t, s)
	if n := src.fetches.Load(); n < 2 {
		t.Errorf("fetches = %d, want a re-sync after the file changed", n)
	}
}

type watchedSource struct {
	*fakeSource
	path string
}

func (w *watchedSource) WatchPaths() []string { return []string{w.path} }

func waitChange(t *testing.T, s *Syncer) {
	t.Helper()
	select {
	case <-s.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}
