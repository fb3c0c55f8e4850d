package store

import (
	"context"
	"errors"

	"github.com/nhle/notifier/internal/model"
)

// ErrNotFound is returned when the addressed record does not exist for the
// given user.
var ErrNotFound = errors.New("record not found")

// NotificationStore persists notification records. Every operation is scoped
// to a single user.
type NotificationStore interface {
	// ListNotifications returns up to limit records, newest first.
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)

	// InsertNotification stores a new record and returns it with its
	// assigned id and creation time. Only producers call it.
	InsertNotification(ctx context.Context, n model.Notification) (model.Notification, error)

	UpdateNotificationRead(ctx context.Context, userID, id string, read bool) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DeleteNotification(ctx context.Context, userID, id string) error
}

// SettingsStore persists one notification settings record per user.
type SettingsStore interface {
	// GetSettings returns ErrNotFound when the user has no record yet.
	GetSettings(ctx context.Context, userID string) (*model.SettingsRecord, error)

	// UpsertSettings creates or replaces the user's record. The user id is
	// unique, so concurrent upserts never create duplicates.
	UpsertSettings(ctx context.Context, userID string, s model.Settings) (*model.SettingsRecord, error)
}

// Store is the full persistence contract of the notification subsystem.
type Store interface {
	NotificationStore
	SettingsStore
}
