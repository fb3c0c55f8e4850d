package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nhle/notifier/internal/model"
)

// notificationRow mirrors the notifications table.
type notificationRow struct {
	ID           string         `db:"id"`
	UserID       string         `db:"user_id"`
	Type         string         `db:"type"`
	Title        string         `db:"title"`
	Message      string         `db:"message"`
	EventID      sql.NullString `db:"event_id"`
	IsRead       int            `db:"is_read"`
	Metadata     string         `db:"metadata"`
	CreatedAt    string         `db:"created_at"`
	ScheduledFor sql.NullString `db:"scheduled_for"`
}

func (r notificationRow) toModel() (model.Notification, error) {
	n := model.Notification{
		ID:      r.ID,
		UserID:  r.UserID,
		Type:    model.ParseKind(r.Type),
		Title:   r.Title,
		Message: r.Message,
		IsRead:  r.IsRead != 0,
	}
	if r.EventID.Valid {
		id := r.EventID.String
		n.EventID = &id
	}

	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return model.Notification{}, err
	}
	n.CreatedAt = createdAt

	if r.ScheduledFor.Valid {
		at, err := parseTime(r.ScheduledFor.String)
		if err != nil {
			return model.Notification{}, err
		}
		n.ScheduledFor = &at
	}

	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &n.Metadata); err != nil {
			return model.Notification{}, fmt.Errorf("unmarshaling metadata of %s: %w", r.ID, err)
		}
		if len(n.Metadata) == 0 {
			n.Metadata = nil
		}
	}

	return n, nil
}

// ListNotifications returns the newest limit notifications of userID.
func (s *SQLiteStore) ListNotifications(
	ctx context.Context,
	userID string,
	limit int,
) ([]model.Notification, error) {
	query := `
		SELECT id, user_id, type, title, message, event_id, is_read,
			metadata, created_at, scheduled_for
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}

	notifications := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.toModel()
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, nil
}

// InsertNotification inserts n. Generates a UUID if ID is empty and stamps
// CreatedAt when it is zero.
func (s *SQLiteStore) InsertNotification(
	ctx context.Context,
	n model.Notification,
) (model.Notification, error) {
	if strings.TrimSpace(n.UserID) == "" {
		return model.Notification{}, fmt.Errorf("notification user_id must not be empty")
	}
	if strings.TrimSpace(n.Title) == "" {
		return model.Notification{}, fmt.Errorf("notification title must not be empty")
	}
	if !n.Type.Valid() {
		return model.Notification{}, fmt.Errorf("unknown notification type %q", n.Type)
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	n.CreatedAt = n.CreatedAt.UTC()

	metadata := "{}"
	if len(n.Metadata) > 0 {
		b, err := json.Marshal(n.Metadata)
		if err != nil {
			return model.Notification{}, fmt.Errorf("marshaling metadata: %w", err)
		}
		metadata = string(b)
	}

	var eventID sql.NullString
	if n.EventID != nil {
		eventID = sql.NullString{String: *n.EventID, Valid: true}
	}
	var scheduledFor sql.NullString
	if n.ScheduledFor != nil {
		scheduledFor = sql.NullString{String: formatTime(*n.ScheduledFor), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, user_id, type, title, message, event_id,
			is_read, metadata, created_at, scheduled_for
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, eventID,
		boolToInt(n.IsRead), metadata, formatTime(n.CreatedAt), scheduledFor,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("inserting notification: %w", err)
	}
	return n, nil
}

// UpdateNotificationRead sets the read flag of one notification.
func (s *SQLiteStore) UpdateNotificationRead(
	ctx context.Context,
	userID, id string,
	read bool,
) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = ? WHERE id = ? AND user_id = ?",
		boolToInt(read), id, userID,
	)
	if err != nil {
		return fmt.Errorf("updating notification %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification of userID as read.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0",
		userID,
	)
	if err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// DeleteNotification removes one notification.
func (s *SQLiteStore) DeleteNotification(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE id = ? AND user_id = ?", id, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}
