package notify

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cpuguy83/calgrid/internal/calendar"
	"github.com/cpuguy83/calgrid/internal/grid"
	"github.com/cpuguy83/calgrid/internal/links"
)

const (
	actionDefault = "default"
	actionOpen    = "open"
)

// Sender delivers a notification. *Notifier is the D-Bus implementation.
type Sender interface {
	Send(Notification) (uint32, error)
}

// Reminders sends one notification per configured offset before each
// upcoming timed event. It is fed snapshots like any other display surface,
// so reminders are checked on every refresh.
type Reminders struct {
	sender Sender
	before []time.Duration // ascending

	mu   sync.Mutex
	sent map[reminderKey]bool
	urls map[uint32]string
}

// occurrence identifies one instance of an event. Recurring events share a
// UID in some sources, so the start time is part of the key.
type occurrence struct {
	uid   string
	start int64
}

type reminderKey struct {
	occurrence
	offset time.Duration
}

// NewReminders creates a Reminders firing at each of the before offsets.
// Non-positive offsets are ignored.
func NewReminders(sender Sender, before []time.Duration) *Reminders {
	var offsets []time.Duration
	for _, d := range before {
		if d > 0 && !slices.Contains(offsets, d) {
			offsets = append(offsets, d)
		}
	}
	slices.Sort(offsets)

	return &Reminders{
		sender: sender,
		before: offsets,
		sent:   make(map[reminderKey]bool),
		urls:   make(map[uint32]string),
	}
}

// Render implements refresh.Surface.
func (r *Reminders) Render(snap grid.Snapshot) {
	if len(r.before) == 0 {
		return
	}
	now := snap.Generated

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range candidates(snap) {
		until := e.Start.Sub(now)
		if until <= 0 {
			continue
		}
		i, _ := slices.BinarySearch(r.before, until)
		if i == len(r.before) {
			continue // not yet inside any reminder window
		}
		offset := r.before[i]
		id := occurrenceOf(e)
		if r.sent[reminderKey{id, offset}] {
			continue
		}

		// Wider windows already passed are not sent late.
		for _, o := range r.before[i:] {
			r.sent[reminderKey{id, o}] = true
		}
		r.send(e, now)
	}

	r.prune(now)
}

// HandleAction resolves a notification action to the link it should open.
func (r *Reminders) HandleAction(id uint32, key string) (string, bool) {
	if key != actionOpen && key != actionDefault {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	url, ok := r.urls[id]
	return url, ok
}

func (r *Reminders) send(e calendar.Event, now time.Time) {
	notif := reminderFor(e, now)
	id, err := r.sender.Send(notif)
	if err != nil {
		slog.Warn("failed to send reminder", "summary", e.Summary, "error", err)
		return
	}
	slog.Debug("sent reminder", "summary", e.Summary, "id", id)
	if link := links.ForEvent(e); link.URL != "" {
		r.urls[id] = link.URL
	}
}

// prune forgets events that started more than an hour ago.
func (r *Reminders) prune(now time.Time) {
	cutoff := now.Add(-time.Hour).Unix()
	for k := range r.sent {
		if k.start < cutoff {
			delete(r.sent, k)
		}
	}
}

// candidates returns the snapshot's timed events plus the next event, which
// may fall outside the displayed week.
func candidates(snap grid.Snapshot) []calendar.Event {
	seen := make(map[occurrence]bool)
	var out []calendar.Event
	add := func(e calendar.Event) {
		k := occurrenceOf(e)
		if e.AllDay || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, e)
	}
	for _, item := range snap.Items() {
		add(item.Event)
	}
	if snap.HasNext {
		add(snap.Next)
	}
	return out
}

func occurrenceOf(e calendar.Event) occurrence {
	return occurrence{uid: e.UID, start: e.Start.Unix()}
}

func reminderFor(e calendar.Event, now time.Time) Notification {
	when := strings.TrimPrefix(grid.Countdown(e, now), "Next event ")
	body := fmt.Sprintf("%s, %s", e.Start.Format("3:04 PM"), when)
	if e.Location != "" {
		body += "\n" + e.Location
	}

	notif := Notification{
		Summary: e.Summary,
		Body:    body,
		Urgency: UrgencyNormal,
	}
	if e.Start.Sub(now) <= 5*time.Minute {
		notif.Urgency = UrgencyCritical
	}
	if link := links.ForEvent(e); link.URL != "" {
		label := "Open"
		if link.IsMeeting() {
			label = "Join " + link.Service
		}
		notif.Actions = []Action{
			{Key: actionDefault, Label: label},
			{Key: actionOpen, Label: label},
		}
	}
	return notif
}
