// Package notify sends event reminders as desktop notifications over D-Bus.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	notifyInterface = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
)

// Notifier sends desktop notifications via D-Bus.
type Notifier struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string
}

// New creates a new notifier.
func New(appName string) (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	return &Notifier{
		conn:    conn,
		obj:     conn.Object(notifyInterface, notifyPath),
		appName: appName,
	}, nil
}

// Close closes the D-Bus connection.
func (n *Notifier) Close() error {
	return n.conn.Close()
}

// Notification represents a desktop notification.
type Notification struct {
	Summary string
	Body    string
	Icon    string
	Timeout time.Duration // 0 = default, -1 = persistent
	Actions []Action
	Urgency Urgency
}

// Action represents a notification action button.
type Action struct {
	Key   string
	Label string
}

// Urgency levels for notifications.
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// Send sends a notification and returns the notification ID.
func (n *Notifier) Send(notif Notification) (uint32, error) {
	args := notifyArgs(n.appName, notif)
	call := n.obj.Call(notifyInterface+".Notify", 0, args...)
	if call.Err != nil {
		return 0, fmt.Errorf("send notification: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("get notification id: %w", err)
	}

	slog.Debug("sent notification", "id", id, "summary", notif.Summary)
	return id, nil
}

// notifyArgs builds the Notify call arguments: app_name, replaces_id,
// app_icon, summary, body, actions, hints, expire_timeout.
func notifyArgs(appName string, notif Notification) []any {
	// [key1, label1, key2, label2, ...]
	actions := []string{}
	for _, a := range notif.Actions {
		actions = append(actions, a.Key, a.Label)
	}

	hints := map[string]dbus.Variant{
		"urgency":  dbus.MakeVariant(byte(notif.Urgency)),
		"category": dbus.MakeVariant("x-calendar.reminder"),
	}

	timeout := int32(-1) // server default
	if notif.Timeout > 0 {
		timeout = int32(notif.Timeout.Milliseconds())
	} else if notif.Timeout < 0 {
		timeout = 0 // persistent
	}

	icon := notif.Icon
	if icon == "" {
		icon = "x-office-calendar"
	}

	return []any{appName, uint32(0), icon, notif.Summary, notif.Body, actions, hints, timeout}
}

// WatchActions listens for notification action invocations until ctx is
// done. The callback receives the notification ID and action key.
func (n *Notifier) WatchActions(ctx context.Context, callback func(id uint32, actionKey string)) error {
	if err := n.conn.AddMatchSignal(
		dbus.WithMatchInterface(notifyInterface),
		dbus.WithMatchMember("ActionInvoked"),
	); err != nil {
		return fmt.Errorf("add match signal: %w", err)
	}

	ch := make(chan *dbus.Signal, 10)
	n.conn.Signal(ch)

	go func() {
		defer n.conn.RemoveSignal(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-ch:
				if !ok {
					return
				}
				if sig.Name != notifyInterface+".ActionInvoked" || len(sig.Body) < 2 {
					continue
				}
				id, ok1 := sig.Body[0].(uint32)
				key, ok2 := sig.Body[1].(string)
				if ok1 && ok2 {
					callback(id, key)
				}
			}
		}
	}()

	return nil
}
