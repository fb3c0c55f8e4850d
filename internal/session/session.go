// Package session ties the notification components together for one
// signed-in user: settings, the inbox cache, the toast queue and host alerts.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/inbox"
	"github.com/nhle/notifier/internal/logging"
	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/permission"
	"github.com/nhle/notifier/internal/realtime"
	"github.com/nhle/notifier/internal/settings"
	"github.com/nhle/notifier/internal/store"
	"github.com/nhle/notifier/internal/toast"
)

// Session is one instance of the notification subsystem.
type Session struct {
	inbox    *inbox.Inbox
	toasts   *toast.Queue
	settings *settings.Reconciler
	gate     *permission.Gate
	log      *zap.Logger

	mu     sync.Mutex
	userID string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a session. gate may wrap a nil host when alerts are unsupported.
func New(
	st store.Store,
	ch realtime.Channel,
	gate *permission.Gate,
	cfg *model.AppConfig,
	log *zap.Logger,
) *Session {
	log = logging.OrNop(log)
	s := &Session{
		inbox:    inbox.New(st, ch, inbox.OptionsFrom(cfg.Inbox), log.Named("inbox")),
		toasts:   toast.New(toast.OptionsFrom(cfg.Toast), log.Named("toast")),
		settings: settings.NewReconciler(st, log.Named("settings")),
		gate:     gate,
		log:      log,
	}
	s.inbox.OnInsert(s.alert)
	return s
}

// Start loads settings and the inbox of userID and begins live delivery. A
// previous user's subscription and toasts are dropped first. Failures are
// returned but leave the session usable in a degraded state.
func (s *Session) Start(ctx context.Context, userID string) error {
	s.stopLoops()
	s.toasts.Clear()

	s.mu.Lock()
	s.userID = userID
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.toasts.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.deriveToasts(runCtx, userID)
	}()

	var errs []error
	if _, err := s.settings.Load(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	if err := s.inbox.Open(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("session started degraded", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("starting session for %s: %w", userID, err)
	}

	s.log.Info("session started", zap.String("user_id", userID))
	return nil
}

// deriveToasts feeds every ready inbox snapshot of userID to the toast queue.
func (s *Session) deriveToasts(ctx context.Context, userID string) {
	stream, stop := s.inbox.Watch()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-stream:
			if !ok {
				return
			}
			if snap.State == inbox.StateReady && snap.UserID == userID {
				s.toasts.Derive(snap.Notifications)
			}
		}
	}
}

// alert raises a host alert for a live insert when the user enabled push
// notifications and the settings allow this notification.
func (s *Session) alert(n model.Notification) {
	cur, ok := s.settings.Current(n.UserID)
	if !ok {
		cur = model.DefaultSettings()
	}
	if !cur.PushNotifications || !cur.Allows(n) {
		return
	}

	err := s.gate.Alert(n)
	if err != nil && !errors.Is(err, permission.ErrNotGranted) {
		s.log.Warn("raising host alert", zap.String("notification_id", n.ID), zap.Error(err))
	}
}

// EnablePush asks for host permission and, only when granted, turns push
// notifications on.
func (s *Session) EnablePush(ctx context.Context) (bool, error) {
	granted, err := s.gate.Request(ctx)
	if err != nil || !granted {
		return false, err
	}
	if _, err := s.UpdateSettings(ctx, model.SettingsPatch{PushNotifications: model.BoolPtr(true)}); err != nil {
		return true, err
	}
	return true, nil
}

// UpdateSettings persists patch for the current user. Push can only be
// switched on while permission is granted.
func (s *Session) UpdateSettings(ctx context.Context, patch model.SettingsPatch) (model.Settings, error) {
	userID := s.UserID()
	if userID == "" {
		return model.Settings{}, inbox.ErrNotInitialized
	}
	if patch.PushNotifications != nil && *patch.PushNotifications &&
		s.gate.CurrentState() != permission.StateGranted {
		return model.Settings{}, permission.ErrNotGranted
	}
	return s.settings.Update(ctx, userID, patch)
}

// Settings returns the current user's settings.
func (s *Session) Settings() (model.Settings, bool) {
	return s.settings.Current(s.UserID())
}

// UserID returns the signed-in user.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Inbox returns the notification cache.
func (s *Session) Inbox() *inbox.Inbox { return s.inbox }

// Toasts returns the toast queue.
func (s *Session) Toasts() *toast.Queue { return s.toasts }

// Gate returns the permission gate.
func (s *Session) Gate() *permission.Gate { return s.gate }

// SignOut drops the current user's subscription, cache and toasts.
func (s *Session) SignOut() {
	s.stopLoops()
	s.inbox.Teardown()
	s.toasts.Clear()

	s.mu.Lock()
	s.userID = ""
	s.mu.Unlock()
}

// Close releases every resource of the session.
func (s *Session) Close() {
	s.stopLoops()
	s.inbox.Close()
	s.toasts.Close()
}

func (s *Session) stopLoops() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
