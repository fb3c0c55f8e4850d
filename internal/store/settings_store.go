package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nhle/notifier/internal/model"
)

type settingsRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Settings  string `db:"settings"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r settingsRow) toRecord() (*model.SettingsRecord, error) {
	rec := &model.SettingsRecord{ID: r.ID, UserID: r.UserID}
	if r.Settings != "" {
		if err := json.Unmarshal([]byte(r.Settings), &rec.Values); err != nil {
			return nil, fmt.Errorf("unmarshaling settings of %s: %w", r.UserID, err)
		}
	}

	var err error
	if rec.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetSettings returns the stored settings body of userID, which may lack
// fields added after it was written.
func (s *SQLiteStore) GetSettings(ctx context.Context, userID string) (*model.SettingsRecord, error) {
	var row settingsRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, settings, created_at, updated_at
		FROM notification_settings
		WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settings for %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	return row.toRecord()
}

// UpsertSettings writes the full settings object of userID. An existing
// record keeps its id and creation time.
func (s *SQLiteStore) UpsertSettings(
	ctx context.Context,
	userID string,
	settings model.Settings,
) (*model.SettingsRecord, error) {
	body, err := json.Marshal(settings.Patch())
	if err != nil {
		return nil, fmt.Errorf("marshaling settings: %w", err)
	}
	now := formatTime(s.now())

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_settings (id, user_id, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			settings = excluded.settings,
			updated_at = excluded.updated_at`,
		uuid.New().String(), userID, string(body), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting settings: %w", err)
	}

	return s.GetSettings(ctx, userID)
}
