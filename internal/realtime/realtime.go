// Package realtime is the live channel: push delivery of newly inserted
// notification records to subscribers filtered by table and user.
package realtime

import (
	"context"
	"errors"

	"github.com/nhle/notifier/internal/model"
)

// TableNotifications is the only table the client subscribes to.
const TableNotifications = "notifications"

// ErrClosed is reported by subscriptions whose channel shut down, and by
// Subscribe on a closed channel.
var ErrClosed = errors.New("realtime: channel closed")

// ErrOverflow is reported by a subscription that fell too far behind and was
// dropped by its channel.
var ErrOverflow = errors.New("realtime: subscriber too slow")

// EventType is the change kind carried by an Event.
type EventType string

// EventInsert is the only change kind delivered to clients.
const EventInsert EventType = "INSERT"

// Event is a single change delivered on the live channel.
type Event struct {
	Type   EventType          `json:"type"`
	Table  string             `json:"table"`
	Record model.Notification `json:"record"`
}

// InsertEvent wraps a newly inserted notification.
func InsertEvent(n model.Notification) Event {
	return Event{Type: EventInsert, Table: TableNotifications, Record: n}
}

// Filter scopes a subscription. An empty Table matches every table.
type Filter struct {
	Table  string
	UserID string
}

// NotificationsFor returns the filter for one user's notification inserts.
func NotificationsFor(userID string) Filter {
	return Filter{Table: TableNotifications, UserID: userID}
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev Event) bool {
	if f.Table != "" && ev.Table != f.Table {
		return false
	}
	return ev.Record.UserID == f.UserID
}

// Subscription is an open live stream.
type Subscription interface {
	// Events delivers matching events in arrival order. It is closed after
	// Cancel, or when the underlying channel fails.
	Events() <-chan Event

	// Err returns why Events was closed. It is nil after Cancel.
	Err() error

	// Cancel releases the subscription. It is safe to call more than once.
	Cancel()
}

// Channel opens subscriptions.
type Channel interface {
	Subscribe(ctx context.Context, f Filter) (Subscription, error)
}

// Publisher delivers events to every matching subscriber.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
