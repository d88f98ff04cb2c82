package notify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/cpuguy83/calgrid/internal/calendar"
	"github.com/cpuguy83/calgrid/internal/grid"
)

type fakeSender struct {
	sent []Notification
	err  error
}

func (f *fakeSender) Send(n Notification) (uint32, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.sent = append(f.sent, n)
	return uint32(len(f.sent)), nil
}

var meetingStart = time.Date(2026, 2, 17, 10, 0, 0, 0, time.UTC)

func snapshotAt(now time.Time, events ...calendar.Event) grid.Snapshot {
	return grid.Build(events, events, now, grid.DefaultConfig())
}

func meeting() calendar.Event {
	return calendar.Event{
		UID:      "m1",
		Summary:  "Planning",
		Start:    meetingStart,
		End:      meetingStart.Add(time.Hour),
		Location: "https://acme.zoom.us/j/42",
	}
}

func TestRemindersFireOncePerOffset(t *testing.T) {
	sender := &fakeSender{}
	r := NewReminders(sender, []time.Duration{15 * time.Minute, 5 * time.Minute})

	steps := []struct {
		before time.Duration
		want   int
	}{
		{30 * time.Minute, 0},
		{15 * time.Minute, 1},
		{14 * time.Minute, 1},
		{10 * time.Minute, 1},
		{5 * time.Minute, 2},
		{4 * time.Minute, 2},
		{-time.Minute, 2},
	}
	for _, step := range steps {
		r.Render(snapshotAt(meetingStart.Add(-step.before), meeting()))
		if len(sender.sent) != step.want {
			t.Fatalf("at T-%v: %d notifications sent, want %d", step.before, len(sender.sent), step.want)
		}
	}

	if sender.sent[0].Urgency != UrgencyNormal || sender.sent[1].Urgency != UrgencyCritical {
		t.Errorf("urgencies = %d, %d", sender.sent[0].Urgency, sender.sent[1].Urgency)
	}
	if !strings.HasPrefix(sender.sent[0].Body, "10:00 AM, in 15 minutes") {
		t.Errorf("body = %q", sender.sent[0].Body)
	}
}

func TestRemindersSkipMissedWindows(t *testing.T) {
	sender := &fakeSender{}
	r := NewReminders(sender, []time.Duration{15 * time.Minute, 5 * time.Minute})

	// Started late: only the tightest window that applies is sent.
	r.Render(snapshotAt(meetingStart.Add(-3*time.Minute), meeting()))
	r.Render(snapshotAt(meetingStart.Add(-2*time.Minute), meeting()))
	if len(sender.sent) != 1 {
		t.Fatalf("%d notifications sent, want 1", len(sender.sent))
	}
}

func TestRemindersRecurringOccurrences(t *testing.T) {
	sender := &fakeSender{}
	r := NewReminders(sender, []time.Duration{10 * time.Minute})

	first := meeting()
	second := meeting()
	second.Start = first.Start.Add(24 * time.Hour)
	second.End = first.End.Add(24 * time.Hour)

	r.Render(snapshotAt(first.Start.Add(-5*time.Minute), first, second))
	r.Render(snapshotAt(second.Start.Add(-5*time.Minute), first, second))
	if len(sender.sent) != 2 {
		t.Fatalf("%d notifications sent, want one per occurrence", len(sender.sent))
	}
}

func TestRemindersIgnoreAllDay(t *testing.T) {
	sender := &fakeSender{}
	r := NewReminders(sender, []time.Duration{time.Hour})

	holiday := calendar.Event{UID: "h", Summary: "Holiday", Start: meetingStart, End: meetingStart.Add(24 * time.Hour), AllDay: true}
	r.Render(snapshotAt(meetingStart.Add(-30*time.Minute), holiday))
	if len(sender.sent) != 0 {
		t.Errorf("all-day event triggered a reminder")
	}
}

func TestRemindersSendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("no bus")}
	r := NewReminders(sender, []time.Duration{15 * time.Minute})
	r.Render(snapshotAt(meetingStart.Add(-10*time.Minute), meeting()))

	sender.err = nil
	r.Render(snapshotAt(meetingStart.Add(-9*time.Minute), meeting()))
	if len(sender.sent) != 0 {
		t.Errorf("failed reminder was retried: %d sent", len(sender.sent))
	}
}

func TestHandleAction(t *testing.T) {
	sender := &fakeSender{}
	r := NewReminders(sender, []time.Duration{15 * time.Minute})
	r.Render(snapshotAt(meetingStart.Add(-10*time.Minute), meeting()))

	if len(sender.sent) != 1 || len(sender.sent[0].Actions) != 2 || sender.sent[0].Actions[0].Label != "Join Zoom" {
		t.Fatalf("actions = %+v", sender.sent)
	}
	if url, ok := r.HandleAction(1, actionOpen); !ok || url != "https://acme.zoom.us/j/42" {
		t.Errorf("HandleAction(open) = %q, %v", url, ok)
	}
	if _, ok := r.HandleAction(1, "dismiss"); ok {
		t.Error("unknown action resolved")
	}
	if _, ok := r.HandleAction(99, actionDefault); ok {
		t.Error("unknown notification resolved")
	}
}

func TestNewRemindersNormalizesOffsets(t *testing.T) {
	r := NewReminders(&fakeSender{}, []time.Duration{5 * time.Minute, 0, 15 * time.Minute, 5 * time.Minute, -time.Minute})
	if len(r.before) != 2 || r.before[0] != 5*time.Minute || r.before[1] != 15*time.Minute {
		t.Errorf("offsets = %v", r.before)
	}
}

func TestNotifyArgs(t *testing.T) {
	args := notifyArgs("calgrid", Notification{
		Summary: "Planning",
		Body:    "soon",
		Timeout: 5 * time.Second,
		Actions: []Action{{Key: "open", Label: "Join"}},
		Urgency: UrgencyCritical,
	})
	if len(args) != 8 {
		t.Fatalf("got %d args", len(args))
	}
	if args[2] != "x-office-calendar" {
		t.Errorf("default icon = %v", args[2])
	}
	if actions := args[5].([]string); len(actions) != 2 || actions[0] != "open" || actions[1] != "Join" {
		t.Errorf("actions = %v", actions)
	}
	hints := args[6].(map[string]dbus.Variant)
	if hints["urgency"].Value() != byte(UrgencyCritical) {
		t.Errorf("urgency hint = %v", hints["urgency"])
	}
	if args[7] != int32(5000) {
		t.Errorf("timeout = %v", args[7])
	}

	if persistent := notifyArgs("calgrid", Notification{Timeout: -1}); persistent[7] != int32(0) {
		t.Errorf("persistent timeout = %v", persistent[7])
	}
	none := notifyArgs("calgrid", Notification{})
	if actions := none[5].([]string); actions == nil || len(actions) != 0 {
		t.Errorf("empty actions should be an empty array, got %#v", actions)
	}
}
