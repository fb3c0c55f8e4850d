package model

import (
	"encoding/json"
	"time"
)

// Kind identifies what a notification is about. The set is closed; see the
// Kind* constants.
type Kind string

const (
	KindEventCreated  Kind = "new_event"
	KindEventUpdated  Kind = "event_updated"
	KindEventDeleted  Kind = "event_deleted"
	KindEventReminder Kind = "event_reminder"
	KindSystem        Kind = "system"
	KindAdmin         Kind = "admin"
)

// Metadata keys with a known meaning.
const (
	// MetaOffsetMinutes holds N for reminder-at-N-offset notifications.
	MetaOffsetMinutes = "offset_minutes"

	// MetaProject holds the project identifier of the related event.
	MetaProject = "project"
)

// kindAliases maps alternative wire names to their kind.
var kindAliases = map[string]Kind{
	"event_created": KindEventCreated,
}

// ParseKind maps a wire value to its Kind, resolving aliases. Unknown values
// are returned unchanged so they still render as system messages.
func ParseKind(s string) Kind {
	if k, ok := kindAliases[s]; ok {
		return k
	}
	return Kind(s)
}

// UnmarshalJSON decodes a kind, resolving aliases.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*k = ParseKind(s)
	return nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := kindStyles[k]
	return ok
}

// KindStyle is the fixed presentation of a notification kind.
type KindStyle struct {
	Icon  string
	Color string
}

// kindStyles maps every kind to its icon and color class.
var kindStyles = map[Kind]KindStyle{
	KindEventCreated:  {Icon: "📅", Color: "blue"},
	KindEventUpdated:  {Icon: "✏️", Color: "yellow"},
	KindEventDeleted:  {Icon: "🗑️", Color: "red"},
	KindEventReminder: {Icon: "⏰", Color: "orange"},
	KindSystem:        {Icon: "ℹ️", Color: "gray"},
	KindAdmin:         {Icon: "📢", Color: "magenta"},
}

// KindStyleFor returns the icon and color class for k. Unknown kinds render
// like system messages.
func KindStyleFor(k Kind) KindStyle {
	if s, ok := kindStyles[k]; ok {
		return s
	}
	return kindStyles[KindSystem]
}

// Notification is a record created by the remote side and cached locally for
// the current user.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	// UserID is the owner. All operations are scoped to it.
	UserID string `json:"user_id"`

	// Type is the notification kind.
	Type Kind `json:"type"`

	Title   string `json:"title"`
	Message string `json:"message"`

	// EventID optionally points at a calendar event. Lookup only.
	EventID *string `json:"event_id,omitempty"`

	// IsRead indicates whether the user has seen this notification.
	IsRead bool `json:"is_read"`

	// Metadata holds kind-specific extra data.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is immutable and defines the default (newest first) order.
	CreatedAt time.Time `json:"created_at"`

	// ScheduledFor is only displayed; the remote scheduler interprets it.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
}

// Project returns the project the notification belongs to, or "" when the
// metadata does not carry one.
func (n Notification) Project() string {
	if n.Metadata == nil {
		return ""
	}
	p, _ := n.Metadata[MetaProject].(string)
	return p
}

// Style returns the fixed presentation for the notification's kind.
func (n Notification) Style() KindStyle {
	return KindStyleFor(n.Type)
}

// CountUnread returns the number of unread notifications in ns.
func CountUnread(ns []Notification) int {
	count := 0
	for _, n := range ns {
		if !n.IsRead {
			count++
		}
	}
	return count
}
