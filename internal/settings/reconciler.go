// Package settings loads and updates per-user notification settings, filling
// missing persisted fields from defaults.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/logging"
	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/store"
)

// ErrInvalidReminder is returned by Update for negative reminder offsets.
var ErrInvalidReminder = errors.New("reminder minutes must not be negative")

// Reconciler produces complete settings objects from persisted records and
// defaults, and persists merged updates.
type Reconciler struct {
	store store.SettingsStore
	log   *zap.Logger

	mu     sync.Mutex
	loaded map[string]model.Settings
}

// NewReconciler constructs a reconciler over s.
func NewReconciler(s store.SettingsStore, log *zap.Logger) *Reconciler {
	return &Reconciler{
		store:  s,
		log:    logging.OrNop(log),
		loaded: make(map[string]model.Settings),
	}
}

// Load returns the user's settings with every field populated. A user without
// a record gets the defaults, which are persisted first.
func (r *Reconciler) Load(ctx context.Context, userID string) (model.Settings, error) {
	rec, err := r.store.GetSettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		r.log.Info("creating default notification settings", zap.String("user_id", userID))
		rec, err = r.store.UpsertSettings(ctx, userID, model.DefaultSettings())
		if err != nil {
			return model.Settings{}, fmt.Errorf("creating default settings: %w", err)
		}
	} else if err != nil {
		r.log.Error("loading notification settings", zap.String("user_id", userID), zap.Error(err))
		return model.Settings{}, fmt.Errorf("loading settings: %w", err)
	}

	s := fromRecord(rec)
	r.mu.Lock()
	r.loaded[userID] = s
	r.mu.Unlock()
	return s, nil
}

// Update merges patch over the user's loaded settings, persists the full
// result and returns it. Concurrent updates are last-write-wins.
func (r *Reconciler) Update(ctx context.Context, userID string, patch model.SettingsPatch) (model.Settings, error) {
	for _, m := range patch.ReminderMinutes {
		if m < 0 {
			return model.Settings{}, fmt.Errorf("reminder %d: %w", m, ErrInvalidReminder)
		}
	}

	base, ok := r.Current(userID)
	if !ok {
		var err error
		if base, err = r.Load(ctx, userID); err != nil {
			return model.Settings{}, err
		}
	}

	merged := model.Reconcile(base, patch)
	rec, err := r.store.UpsertSettings(ctx, userID, merged)
	if err != nil {
		r.log.Error("saving notification settings", zap.String("user_id", userID), zap.Error(err))
		return model.Settings{}, fmt.Errorf("saving settings: %w", err)
	}

	s := fromRecord(rec)
	r.mu.Lock()
	r.loaded[userID] = s
	r.mu.Unlock()
	return s, nil
}

// Current returns the last loaded or saved settings of userID.
func (r *Reconciler) Current(userID string) (model.Settings, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.loaded[userID]
	return s, ok
}

func fromRecord(rec *model.SettingsRecord) model.Settings {
	s := model.Reconcile(model.DefaultSettings(), rec.Values)
	s.ID = rec.ID
	s.UserID = rec.UserID
	s.CreatedAt = rec.CreatedAt
	s.UpdatedAt = rec.UpdatedAt
	return s
}
