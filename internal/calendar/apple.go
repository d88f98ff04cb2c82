package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// cocoaEpochOffset is the number of seconds between the Unix epoch and the
// Core Data reference date (2001-01-01 UTC).
const cocoaEpochOffset = int64(978307200)

const appleEventsQuery = `
SELECT
  COALESCE(ci.unique_identifier, ci.UUID, CAST(ci.ROWID AS TEXT)) || '@' || CAST(oc.occurrence_start_date AS INTEGER),
  COALESCE(c.title, ''),
  COALESCE(c.color, ''),
  COALESCE(ci.summary, ''),
  CAST(oc.occurrence_start_date AS INTEGER),
  CAST(COALESCE(oc.occurrence_end_date, oc.occurrence_start_date) AS INTEGER),
  COALESCE(ci.all_day, 0),
  COALESCE(l.title, ''),
  COALESCE(ci.description, ''),
  COALESCE(ci.url, '')
FROM OccurrenceCache oc
JOIN CalendarItem ci ON ci.ROWID = oc.event_id
JOIN Calendar c ON c.ROWID = oc.calendar_id
LEFT JOIN Location l ON l.item_owner_id = ci.ROWID
WHERE oc.next_reminder_date IS NULL
  AND oc.occurrence_start_date < ?
  AND COALESCE(oc.occurrence_end_date, oc.occurrence_start_date) >= ?
ORDER BY oc.occurrence_start_date ASC`

// AppleSource reads the macOS Calendar database directly. It sees every
// account configured in Calendar.app (iCloud, Exchange, local, subscribed).
type AppleSource struct {
	name      string
	path      string
	calendars []string

	mu sync.Mutex
	db *sql.DB
}

// NewAppleSource creates a source for the Calendar database at path. An
// empty path searches the default locations.
func NewAppleSource(name, path string, calendars []string) *AppleSource {
	return &AppleSource{
		name:      name,
		path:      path,
		calendars: calendars,
	}
}

// Name returns the display name of this calendar source.
func (s *AppleSource) Name() string {
	return s.name
}

// WatchPaths returns the database and its write-ahead log; Calendar.app
// writes to the WAL first so it changes on every edit.
func (s *AppleSource) WatchPaths() []string {
	path, err := s.resolve()
	if err != nil {
		return nil
	}
	return []string{path, path + "-wal"}
}

// RequestAccess opens the database and runs a trivial query. On macOS the
// process needs Full Disk Access (or Calendar access) for this to succeed;
// a permission failure is reported as a denial rather than an error.
func (s *AppleSource) RequestAccess(ctx context.Context) (bool, error) {
	db, err := s.open()
	if err != nil {
		if isAccessDenied(err) {
			return false, nil
		}
		return false, err
	}
	if _, err := db.ExecContext(ctx, "SELECT 1"); err != nil {
		if isAccessDenied(err) {
			return false, nil
		}
		return false, fmt.Errorf("query calendar database: %w", err)
	}
	return true, nil
}

// Fetch retrieves occurrences overlapping [start, end).
func (s *AppleSource) Fetch(ctx context.Context, start, end time.Time) ([]Event, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, appleEventsQuery,
		end.Unix()-cocoaEpochOffset,
		start.Unix()-cocoaEpochOffset,
	)
	if err != nil {
		return nil, fmt.Errorf("query calendar database: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e            Event
			color        string
			startS, endS int64
			allDay       int
		)
		if err := rows.Scan(&e.UID, &e.Calendar, &color, &e.Summary, &startS, &endS, &allDay, &e.Location, &e.Description, &e.URL); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if !s.wants(e.Calendar) {
			continue
		}
		e.Source = s.name
		e.Start = time.Unix(startS+cocoaEpochOffset, 0)
		e.End = time.Unix(endS+cocoaEpochOffset, 0)
		e.AllDay = allDay != 0
		e.Color = normalizeColor(color)
		if !e.Overlaps(start, end) {
			continue
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	colorize(events, "")
	return events, nil
}

// Close releases the database handle.
func (s *AppleSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *AppleSource) wants(calendar string) bool {
	if len(s.calendars) == 0 {
		return true
	}
	for _, c := range s.calendars {
		if strings.EqualFold(c, calendar) {
			return true
		}
	}
	return false
}

// open returns the cached read-only handle, opening it on first use.
func (s *AppleSource) open() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	path, err := s.resolve()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat calendar database: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open calendar database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db
	return db, nil
}

func (s *AppleSource) resolve() (string, error) {
	if s.path != "" {
		return s.path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	candidates := []string{
		filepath.Join(home, "Library", "Group Containers", "group.com.apple.calendar", "Calendar.sqlitedb"),
		filepath.Join(home, "Library", "Calendars", "Calendar.sqlitedb"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil || errors.Is(err, os.ErrPermission) {
			return p, nil
		}
	}
	return "", errors.New("calendar database not found")
}

// isAccessDenied matches the errors macOS privacy protection produces.
func isAccessDenied(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "operation not permitted") ||
		strings.Contains(msg, "authorization denied") ||
		strings.Contains(msg, "permission denied")
}

var (
	_ Source     = (*AppleSource)(nil)
	_ Watcher    = (*AppleSource)(nil)
	_ Authorizer = (*AppleSource)(nil)
)
