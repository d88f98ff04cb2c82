package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cpuguy83/calgrid/internal/calendar"
	"github.com/cpuguy83/calgrid/internal/grid"
)

type fakeStore struct {
	granted bool
	authErr error
	changes chan struct{}

	mu       sync.Mutex
	events   []calendar.Event
	err      error
	requests int
	queries  int
}

func newFakeStore(granted bool) *fakeStore {
	return &fakeStore{granted: granted, changes: make(chan struct{}, 1)}
}

func (f *fakeStore) RequestAccess(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return f.granted, f.authErr
}

func (f *fakeStore) Events(ctx context.Context, start, end time.Time) ([]calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	var out []calendar.Event
	for _, e := range f.events {
		if e.Overlaps(start, end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) Changes() <-chan struct{} { return f.changes }

func (f *fakeStore) set(events []calendar.Event, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events, f.err = events, err
}

type recorder struct {
	snaps chan grid.Snapshot
}

func newRecorder() *recorder {
	return &recorder{snaps: make(chan grid.Snapshot, 16)}
}

func (r *recorder) Render(s grid.Snapshot) { r.snaps <- s }

func (r *recorder) next(t *testing.T) grid.Snapshot {
	t.Helper()
	select {
	case s := <-r.snaps:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for render")
		return grid.Snapshot{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case s := <-r.snaps:
		t.Fatalf("unexpected render with %d items", s.Len())
	case <-time.After(wait):
	}
}

// never is a schedule that does not fire during a test.
type never struct{}

func (never) Next(t time.Time) time.Time { return t.Add(24 * time.Hour) }

// every fires at a sub-second period, which cron.Every does not allow.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

var testNow = time.Date(2026, 2, 18, 10, 0, 0, 0, time.Local)

func event(summary string, start time.Time) calendar.Event {
	return calendar.Event{Summary: summary, Start: start, End: start.Add(time.Hour)}
}

func newTestRefresher(store Store, surface Surface, schedule cron.Schedule) *Refresher {
	r := New(store, surface, grid.DefaultConfig(), schedule)
	r.now = func() time.Time { return testNow }
	return r
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		granted bool
		authErr error
		want    State
		wantErr bool
	}{
		{"granted", true, nil, Authorized, false},
		{"denied", false, nil, Denied, false},
		{"error is denial", false, errors.New("tcc"), Denied, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(tt.granted)
			store.authErr = tt.authErr
			r := newTestRefresher(store, newRecorder(), never{})

			if r.State() != Unauthorized {
				t.Fatalf("initial state = %v", r.State())
			}
			got, err := r.Authorize(t.Context())
			if (err != nil) != tt.wantErr {
				t.Errorf("Authorize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want || r.State() != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}

			// The request is never repeated.
			if again, err := r.Authorize(t.Context()); again != tt.want || err != nil {
				t.Errorf("second Authorize() = %v, %v", again, err)
			}
			if store.requests != 1 {
				t.Errorf("access requested %d times, want 1", store.requests)
			}
		})
	}
}

func TestRunWithoutAccess(t *testing.T) {
	store := newFakeStore(false)
	rec := newRecorder()
	r := newTestRefresher(store, rec, every(10*time.Millisecond))

	if err := r.Run(t.Context()); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("Run() before Authorize = %v, want ErrNotAuthorized", err)
	}

	r.Authorize(t.Context())
	if err := r.Run(t.Context()); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("Run() after denial = %v, want ErrNotAuthorized", err)
	}
	if err := r.Refresh(t.Context()); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("Refresh() after denial = %v, want ErrNotAuthorized", err)
	}

	store.changes <- struct{}{}
	rec.none(t, 50*time.Millisecond)
	if store.queries != 0 {
		t.Errorf("store queried %d times while denied", store.queries)
	}
}

func TestRunRefreshesImmediatelyAndOnChange(t *testing.T) {
	store := newFakeStore(true)
	store.set([]calendar.Event{event("standup", testNow.Add(time.Hour))}, nil)
	rec := newRecorder()
	r := newTestRefresher(store, rec, never{})

	if _, err := r.Authorize(t.Context()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	first := rec.next(t)
	if first.Len() != 1 || !first.HasNext || first.Next.Summary != "standup" {
		t.Fatalf("initial snapshot: %d items, next %q", first.Len(), first.Next.Summary)
	}

	store.set([]calendar.Event{
		event("standup", testNow.Add(time.Hour)),
		event("review", testNow.Add(30*time.Minute)),
	}, nil)
	store.changes <- struct{}{}

	second := rec.next(t)
	if second.Len() != 2 || second.Next.Summary != "review" {
		t.Errorf("after change: %d items, next %q", second.Len(), second.Next.Summary)
	}

	if snap, ok := r.Snapshot(); !ok || snap.Len() != 2 {
		t.Errorf("Snapshot() = %d items, %v", snap.Len(), ok)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v after cancel, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunRefreshesOnTimer(t *testing.T) {
	store := newFakeStore(true)
	rec := newRecorder()
	r := newTestRefresher(store, rec, every(20*time.Millisecond))
	r.Authorize(t.Context())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go r.Run(ctx)

	// Initial refresh plus at least two timer ticks.
	for range 3 {
		rec.next(t)
	}
}

func TestRefreshErrorKeepsPreviousSnapshot(t *testing.T) {
	store := newFakeStore(true)
	store.set([]calendar.Event{event("standup", testNow.Add(time.Hour))}, nil)
	rec := newRecorder()
	r := newTestRefresher(store, rec, never{})
	r.Authorize(t.Context())

	if err := r.Refresh(t.Context()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	rec.next(t)

	store.set(nil, errors.New("database locked"))
	if err := r.Refresh(t.Context()); err == nil {
		t.Fatal("expected Refresh error")
	}
	rec.none(t, 20*time.Millisecond)

	snap, ok := r.Snapshot()
	if !ok || snap.Len() != 1 {
		t.Errorf("previous snapshot lost: %d items, %v", snap.Len(), ok)
	}
}

func TestRefreshExcludesAllDayFromNext(t *testing.T) {
	store := newFakeStore(true)
	holiday := calendar.Event{Summary: "holiday", Start: testNow.Add(time.Hour), End: testNow.Add(25 * time.Hour), AllDay: true}
	store.set([]calendar.Event{holiday, event("call", testNow.Add(2*time.Hour))}, nil)
	rec := newRecorder()
	r := newTestRefresher(store, rec, never{})
	r.Authorize(t.Context())

	if err := r.Refresh(t.Context()); err != nil {
		t.Fatal(err)
	}
	snap := rec.next(t)
	if snap.Next.Summary != "call" {
		t.Errorf("next = %q, want call", snap.Next.Summary)
	}
	if snap.Excluded != 1 {
		t.Errorf("excluded = %d, want 1", snap.Excluded)
	}
}

func TestSurfaces(t *testing.T) {
	var got []string
	ss := Surfaces{
		SurfaceFunc(func(grid.Snapshot) { got = append(got, "a") }),
		SurfaceFunc(func(grid.Snapshot) { got = append(got, "b") }),
	}
	ss.Render(grid.Snapshot{})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("render order = %v", got)
	}
}

// gatedStore blocks every query until release is closed and records how
// many queries ran at once.
type gatedStore struct {
	*fakeStore
	entered chan struct{}
	release chan struct{}

	gate     sync.Mutex
	inFlight int
	peak     int
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		fakeStore: newFakeStore(true),
		entered:   make(chan struct{}, 16),
		release:   make(chan struct{}),
	}
}

func (g *gatedStore) Events(ctx context.Context, start, end time.Time) ([]calendar.Event, error) {
	g.gate.Lock()
	g.inFlight++
	g.peak = max(g.peak, g.inFlight)
	g.gate.Unlock()
	defer func() {
		g.gate.Lock()
		g.inFlight--
		g.gate.Unlock()
	}()

	g.entered <- struct{}{}
	<-g.release
	return g.fakeStore.Events(ctx, start, end)
}

func (g *gatedStore) maxInFlight() int {
	g.gate.Lock()
	defer g.gate.Unlock()
	return g.peak
}

// tickingClock returns a later instant on every call.
func tickingClock() func() time.Time {
	var (
		mu sync.Mutex
		n  int
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return testNow.Add(time.Duration(n) * time.Second)
	}
}

func TestTriggerQueuesBehindRunningRefresh(t *testing.T) {
	store := newGatedStore()
	rec := newRecorder()
	r := newTestRefresher(store, rec, never{})
	r.now = tickingClock()
	r.Authorize(t.Context())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go r.Run(ctx)

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("initial refresh never queried the store")
	}
	r.Trigger()
	r.Trigger() // merged with the pending one
	close(store.release)

	first := rec.next(t)
	second := rec.next(t)
	rec.none(t, 50*time.Millisecond)

	if !second.Generated.After(first.Generated) {
		t.Errorf("renders out of order: %v then %v", first.Generated, second.Generated)
	}
	if n := store.maxInFlight(); n != 1 {
		t.Errorf("%d store queries ran at once, want 1", n)
	}
}

func TestConcurrentRefreshesDoNotOverlap(t *testing.T) {
	store := newGatedStore()
	rec := newRecorder()
	r := newTestRefresher(store, rec, never{})
	r.now = tickingClock()
	r.Authorize(t.Context())

	var wg sync.WaitGroup
	for range 2 {
		wg.Go(func() {
			if err := r.Refresh(t.Context()); err != nil {
				t.Error(err)
			}
		})
	}
	<-store.entered
	close(store.release)
	wg.Wait()

	first, second := rec.next(t), rec.next(t)
	if !second.Generated.After(first.Generated) {
		t.Errorf("renders out of order: %v then %v", first.Generated, second.Generated)
	}
	if n := store.maxInFlight(); n != 1 {
		t.Errorf("%d store queries ran at once, want 1", n)
	}
}
