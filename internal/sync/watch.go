package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cpuguy83/calgrid/internal/calendar"
)

const watchDelay = 100 * time.Millisecond

// watchPaths collects the files backing local sources.
func (s *Syncer) watchPaths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var paths []string
	for _, swf := range s.sources {
		if w, ok := swf.source.(calendar.Watcher); ok {
			paths = append(paths, w.WatchPaths()...)
		}
	}
	return paths
}

// watch streams a value for every burst of writes to a source file. The
// parent directories are watched so files replaced by rename are still
// seen. A nil channel is returned when there is nothing to watch.
func (s *Syncer) watch(ctx context.Context) (<-chan struct{}, error) {
	paths := s.watchPaths()
	if len(paths) == 0 {
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	files := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		p = filepath.Clean(p)
		files[p] = struct{}{}
		dir := filepath.Dir(p)
		if _, ok := dirs[dir]; ok {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = struct{}{}
		slog.Debug("watching directory", "dir", dir)
	}

	out := make(chan struct{}, 1)
	send := func() {
		select {
		case out <- struct{}{}:
		default:
		}
	}

	go func() {
		defer watcher.Close()

		throttle := newThrottle(watchDelay)
		defer throttle.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Debug("watcher error", "error", err)
				throttle.Enqueue(send)
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, ok := files[filepath.Clean(evt.Name)]; !ok {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				throttle.Enqueue(send)
			}
		}
	}()

	return out, nil
}

// throttle coalesces rapid notifications into a single call per delay.
type throttle struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration
}

func newThrottle(delay time.Duration) *throttle {
	return &throttle{delay: delay}
}

func (t *throttle) Enqueue(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		return
	}
	t.timer = time.AfterFunc(t.delay, func() {
		t.mu.Lock()
		t.timer = nil
		t.mu.Unlock()
		fn()
	})
}

func (t *throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
