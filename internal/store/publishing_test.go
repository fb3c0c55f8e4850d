package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/realtime"
	"github.com/nhle/notifier/internal/store"
	"github.com/nhle/notifier/tests/testutil"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, realtime.Event) error {
	return errors.New("broker down")
}

func TestPublishingAnnouncesInserts(t *testing.T) {
	hub := realtime.NewHub()
	defer hub.Close()
	s := store.NewPublishing(testutil.NewTestStore(t), hub)
	ctx := context.Background()

	sub, err := hub.Subscribe(ctx, realtime.NotificationsFor("u1"))
	require.NoError(t, err)
	defer sub.Cancel()

	stored, err := s.InsertNotification(ctx, model.Notification{
		UserID: "u1", Type: model.KindAdmin, Title: "maintenance",
	})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, realtime.EventInsert, ev.Type)
		assert.Equal(t, realtime.TableNotifications, ev.Table)
		assert.Equal(t, stored.ID, ev.Record.ID)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestPublishingReportsPublishFailureAfterCommit(t *testing.T) {
	base := testutil.NewTestStore(t)
	s := store.NewPublishing(base, failingPublisher{})
	ctx := context.Background()

	stored, err := s.InsertNotification(ctx, model.Notification{
		UserID: "u1", Type: model.KindSystem, Title: "x",
	})
	require.Error(t, err)
	assert.NotEmpty(t, stored.ID)

	got, err := base.ListNotifications(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
