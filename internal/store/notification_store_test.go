package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/store"
	"github.com/nhle/notifier/tests/testutil"
)

func insert(t *testing.T, s store.Store, userID, title string, createdAt time.Time, read bool) model.Notification {
	t.Helper()
	n, err := s.InsertNotification(context.Background(), model.Notification{
		UserID:    userID,
		Type:      model.KindSystem,
		Title:     title,
		IsRead:    read,
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
	return n
}

func TestListNotificationsNewestFirstWithLimit(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		insert(t, s, "u1", fmt.Sprintf("n%d", i), base.Add(time.Duration(i)*time.Minute), false)
	}
	insert(t, s, "u2", "other user", base.Add(time.Hour), false)

	got, err := s.ListNotifications(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "n4", got[0].Title)
	assert.Equal(t, "n3", got[1].Title)
	assert.Equal(t, "n2", got[2].Title)
	for _, n := range got {
		assert.Equal(t, "u1", n.UserID)
	}
}

func TestInsertNotificationRoundTripsOptionalFields(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	eventID := "evt-1"
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	stored, err := s.InsertNotification(ctx, model.Notification{
		UserID:       "u1",
		Type:         model.KindEventReminder,
		Title:        "Standup",
		Message:      "in 15 minutes",
		EventID:      &eventID,
		Metadata:     map[string]any{model.MetaOffsetMinutes: 15.0, model.MetaProject: "p1"},
		ScheduledFor: &at,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.CreatedAt.IsZero())

	got, err := s.ListNotifications(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	n := got[0]
	assert.Equal(t, stored.ID, n.ID)
	require.NotNil(t, n.EventID)
	assert.Equal(t, eventID, *n.EventID)
	require.NotNil(t, n.ScheduledFor)
	assert.True(t, at.Equal(*n.ScheduledFor))
	assert.Equal(t, "p1", n.Project())
	assert.Equal(t, 15.0, n.Metadata[model.MetaOffsetMinutes])
}

func TestInsertNotificationValidates(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.InsertNotification(ctx, model.Notification{Type: model.KindSystem, Title: "x"})
	assert.Error(t, err)

	_, err = s.InsertNotification(ctx, model.Notification{UserID: "u1", Type: model.KindSystem})
	assert.Error(t, err)

	_, err = s.InsertNotification(ctx, model.Notification{UserID: "u1", Type: "bogus", Title: "x"})
	assert.Error(t, err)
}

func TestReadFlagUpdates(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	now := time.Now()

	a := insert(t, s, "u1", "a", now, false)
	insert(t, s, "u1", "b", now.Add(time.Second), false)
	other := insert(t, s, "u2", "c", now, false)

	require.NoError(t, s.UpdateNotificationRead(ctx, "u1", a.ID, true))
	got, err := s.ListNotifications(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, model.CountUnread(got))

	// Scoped to the owner.
	err = s.UpdateNotificationRead(ctx, "u1", other.ID, true)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.MarkAllNotificationsRead(ctx, "u1"))
	got, err = s.ListNotifications(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Equal(t, 0, model.CountUnread(got))

	others, err := s.ListNotifications(ctx, "u2", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, model.CountUnread(others))
}

func TestDeleteNotification(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	n := insert(t, s, "u1", "a", time.Now(), false)
	require.NoError(t, s.DeleteNotification(ctx, "u1", n.ID))

	got, err := s.ListNotifications(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, s.DeleteNotification(ctx, "u1", n.ID), store.ErrNotFound)
}
