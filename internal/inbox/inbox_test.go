package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/realtime"
	"github.com/nhle/notifier/internal/store"
	"github.com/nhle/notifier/tests/testutil"
)

const wait = time.Second
const tick = 5 * time.Millisecond

var testOpts = Options{
	Limit:              50,
	MutationRetries:    2,
	RetryBackoff:       time.Millisecond,
	ResubscribeBackoff: time.Millisecond,
}

func note(id string, read bool) model.Notification {
	return model.Notification{
		ID: id, UserID: "u1", Type: model.KindSystem, Title: id, IsRead: read,
		CreatedAt: time.Now(),
	}
}

func ids(ns []model.Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

// openLive opens an inbox for u1 over a SQLite store whose inserts are
// published on an in-process hub.
func openLive(t *testing.T) (*Inbox, store.Store, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub()
	st := store.NewPublishing(testutil.NewTestStore(t), hub)
	in := New(st, hub, testOpts, nil)
	t.Cleanup(func() {
		in.Close()
		hub.Close()
	})
	require.NoError(t, in.Open(context.Background(), "u1"))
	return in, st, hub
}

func TestInitializeLoadsNewestWindow(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		_, err := st.InsertNotification(ctx, model.Notification{
			UserID:    "u1",
			Type:      model.KindEventCreated,
			Title:     fmt.Sprintf("n%02d", i),
			IsRead:    i%2 == 0,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	in := New(st, realtime.NewHub(), testOpts, nil)
	defer in.Close()
	require.NoError(t, in.Initialize(ctx, "u1"))

	snap := in.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.False(t, snap.Loading)
	require.Len(t, snap.Notifications, 50)
	assert.Equal(t, "n59", snap.Notifications[0].Title)
	assert.Equal(t, "n10", snap.Notifications[49].Title)
	assert.Equal(t, model.CountUnread(snap.Notifications), snap.UnreadCount)
	assert.Equal(t, 25, snap.UnreadCount)
}

func TestLiveInsertIsPrependedAndCounted(t *testing.T) {
	in, st, _ := openLive(t)
	ctx := context.Background()

	before := in.Snapshot()
	assert.Empty(t, before.Notifications)
	assert.Zero(t, before.UnreadCount)

	n1, err := st.InsertNotification(ctx, model.Notification{
		UserID: "u1", Type: model.KindEventReminder, Title: "Standup",
		Metadata: map[string]any{model.MetaOffsetMinutes: 15},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return in.Snapshot().UnreadCount == 1 }, wait, tick)
	snap := in.Snapshot()
	require.Len(t, snap.Notifications, 1)
	assert.Equal(t, n1.ID, snap.Notifications[0].ID)

	// Other users' inserts never reach this inbox.
	_, err = st.InsertNotification(ctx, model.Notification{UserID: "u2", Type: model.KindSystem, Title: "x"})
	require.NoError(t, err)
	n2, err := st.InsertNotification(ctx, model.Notification{UserID: "u1", Type: model.KindSystem, Title: "y"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return in.Snapshot().UnreadCount == 2 }, wait, tick)
	assert.Equal(t, []string{n2.ID, n1.ID}, ids(in.Snapshot().Notifications))
}

func TestDuplicateLiveInsertIgnored(t *testing.T) {
	ch := &fakeChannel{}
	in := New(&fakeStore{}, ch, testOpts, nil)
	defer in.Close()
	require.NoError(t, in.Open(context.Background(), "u1"))

	sub := ch.latest()
	sub.send(note("a", false))
	sub.send(note("a", false))
	sub.send(note("b", false))

	require.Eventually(t, func() bool { return len(in.Snapshot().Notifications) == 2 }, wait, tick)
	time.Sleep(20 * time.Millisecond)
	snap := in.Snapshot()
	assert.Equal(t, []string{"b", "a"}, ids(snap.Notifications))
	assert.Equal(t, 2, snap.UnreadCount)
}

func TestMarkAllThenInsert(t *testing.T) {
	in, st, _ := openLive(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := st.InsertNotification(ctx, model.Notification{UserID: "u1", Type: model.KindSystem, Title: "x"})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return in.Snapshot().UnreadCount == 3 }, wait, tick)

	require.NoError(t, in.MarkAllAsRead(ctx))
	assert.Zero(t, in.Snapshot().UnreadCount)

	remote, err := st.ListNotifications(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Zero(t, model.CountUnread(remote))

	_, err = st.InsertNotification(ctx, model.Notification{UserID: "u1", Type: model.KindAdmin, Title: "new"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return in.Snapshot().UnreadCount == 1 }, wait, tick)
}

func TestMarkAsRead(t *testing.T) {
	fs := &fakeStore{items: []model.Notification{note("b", false), note("a", true)}}
	in := New(fs, &fakeChannel{}, testOpts, nil)
	defer in.Close()
	ctx := context.Background()
	require.NoError(t, in.Initialize(ctx, "u1"))
	require.Equal(t, 1, in.Snapshot().UnreadCount)

	require.NoError(t, in.MarkAsRead(ctx, "b"))
	snap := in.Snapshot()
	assert.Zero(t, snap.UnreadCount)
	assert.True(t, snap.Notifications[0].IsRead)

	// Already read: nothing to do remotely.
	require.NoError(t, in.MarkAsRead(ctx, "a"))
	require.NoError(t, in.MarkAsRead(ctx, "b"))
	update, _, _ := fs.calls()
	assert.Equal(t, 1, update)
	assert.Zero(t, in.Snapshot().UnreadCount)
}

func TestMarkAsReadUnknownIDStillCallsRemote(t *testing.T) {
	fs := &fakeStore{}
	in := New(fs, &fakeChannel{}, testOpts, nil)
	defer in.Close()
	ctx := context.Background()
	require.NoError(t, in.Initialize(ctx, "u1"))

	err := in.MarkAsRead(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	update, _, _ := fs.calls()
	assert.Equal(t, 1, update, "not found is never retried")
	assert.Zero(t, in.Snapshot().UnreadCount)
}

func TestDeleteAdjustsUnread(t *testing.T) {
	fs := &fakeStore{items: []model.Notification{note("c", false), note("b", true), note("a", false)}}
	in := New(fs, &fakeChannel{}, testOpts, nil)
	defer in.Close()
	ctx := context.Background()
	require.NoError(t, in.Initialize(ctx, "u1"))
	require.Equal(t, 2, in.Snapshot().UnreadCount)

	require.NoError(t, in.Delete(ctx, "b"))
	assert.Equal(t, 2, in.Snapshot().UnreadCount)

	require.NoError(t, in.Delete(ctx, "c"))
	snap := in.Snapshot()
	assert.Equal(t, 1, snap.UnreadCount)
	assert.Equal(t, []string{"a"}, ids(snap.Notifications))

	// Already gone remotely counts as deleted.
	require.NoError(t, in.Delete(ctx, "c"))
	assert.False(t, in.Snapshot().Stale)
}

func TestMutationFailureKeepsLocalChangeAndMarksStale(t *testing.T) {
	fs := &fakeStore{
		items:     []model.Notification{note("a", false)},
		updateErr: errors.New("network down"),
	}
	in := New(fs, &fakeChannel{}, testOpts, nil)
	defer in.Close()
	ctx := context.Background()
	require.NoError(t, in.Initialize(ctx, "u1"))

	err := in.MarkAsRead(ctx, "a")
	require.Error(t, err)

	update, _, _ := fs.calls()
	assert.Equal(t, 3, update, "one attempt plus two retries")

	snap := in.Snapshot()
	assert.True(t, snap.Notifications[0].IsRead, "optimistic change is not reverted")
	assert.Zero(t, snap.UnreadCount)
	assert.True(t, snap.Stale)

	// A reload resynchronizes with the remote store.
	fs.mu.Lock()
	fs.updateErr = nil
	fs.mu.Unlock()
	require.NoError(t, in.Initialize(ctx, "u1"))
	snap = in.Snapshot()
	assert.False(t, snap.Stale)
	assert.Equal(t, 1, snap.UnreadCount)
}

func TestLoadFailureLeavesEmptyCache(t *testing.T) {
	fs := &fakeStore{listErr: errors.New("timeout")}
	in := New(fs, &fakeChannel{}, testOpts, nil)
	defer in.Close()

	err := in.Initialize(context.Background(), "u1")
	require.Error(t, err)

	snap := in.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Empty(t, snap.Notifications)
	assert.Zero(t, snap.UnreadCount)
	assert.Error(t, snap.LoadErr)
}

func TestInsertsDuringLoadingAreBuffered(t *testing.T) {
	gate := make(chan struct{})
	fs := &fakeStore{
		items:    []model.Notification{note("b", false), note("a", true)},
		listGate: gate,
	}
	ch := &fakeChannel{}
	in := New(fs, ch, testOpts, nil)
	defer in.Close()

	done := make(chan error, 1)
	go func() { done <- in.Open(context.Background(), "u1") }()

	require.Eventually(t, func() bool { return ch.count() == 1 }, wait, tick)
	assert.True(t, in.Snapshot().Loading)

	sub := ch.latest()
	sub.send(note("c", false))
	sub.send(note("b", false)) // also in the bulk fetch
	require.Eventually(t, func() bool {
		in.mu.Lock()
		defer in.mu.Unlock()
		return len(in.pending) == 2
	}, wait, tick)

	close(gate)
	require.NoError(t, <-done)

	snap := in.Snapshot()
	assert.Equal(t, []string{"c", "b", "a"}, ids(snap.Notifications))
	assert.Equal(t, 2, snap.UnreadCount)
}

func TestReinitializeTearsDownSubscription(t *testing.T) {
	ch := &fakeChannel{}
	in := New(&fakeStore{}, ch, testOpts, nil)
	defer in.Close()
	ctx := context.Background()

	require.NoError(t, in.Open(ctx, "u1"))
	first := ch.latest()

	require.NoError(t, in.Open(ctx, "u2"))
	require.Eventually(t, first.isCancelled, wait, tick)
	assert.Equal(t, "u2", ch.latest().filter.UserID)
	assert.Equal(t, "u2", in.Snapshot().UserID)

	require.NoError(t, in.Initialize(ctx, "u2"))
	require.Eventually(t, ch.latest().isCancelled, wait, tick)
}

func TestResubscribesAfterChannelFailure(t *testing.T) {
	fs := &fakeStore{items: []model.Notification{note("a", false)}}
	ch := &fakeChannel{}
	in := New(fs, ch, testOpts, nil)
	defer in.Close()
	require.NoError(t, in.Open(context.Background(), "u1"))

	ch.latest().fail(errors.New("connection reset"))
	require.Eventually(t, func() bool { return ch.count() == 2 }, wait, tick)

	// The cache survives the failure and the new subscription is live.
	snap := in.Snapshot()
	assert.Equal(t, []string{"a"}, ids(snap.Notifications))
	assert.True(t, snap.Stale, "inserts during the gap may be missing")
	ch.latest().send(note("b", false))
	require.Eventually(t, func() bool { return in.Snapshot().UnreadCount == 2 }, wait, tick)

	require.NoError(t, in.Refresh(context.Background()))
	assert.False(t, in.Snapshot().Stale)
}

func TestResubscribeRetriesUntilChannelRecovers(t *testing.T) {
	ch := &fakeChannel{}
	in := New(&fakeStore{}, ch, testOpts, nil)
	defer in.Close()
	require.NoError(t, in.Open(context.Background(), "u1"))

	ch.failSubscribes(3)
	ch.latest().fail(errors.New("connection reset"))
	require.Eventually(t, func() bool { return ch.count() == 2 }, wait, tick)
	assert.Equal(t, 5, ch.attempts(), "initial subscribe, three failures, one success")

	ch.latest().send(note("b", false))
	require.Eventually(t, func() bool { return in.Snapshot().UnreadCount == 1 }, wait, tick)
}

func TestTeardown(t *testing.T) {
	ch := &fakeChannel{}
	in := New(&fakeStore{items: []model.Notification{note("a", false)}}, ch, testOpts, nil)
	ctx := context.Background()
	require.NoError(t, in.Open(ctx, "u1"))

	in.Teardown()
	assert.True(t, ch.latest().isCancelled())
	snap := in.Snapshot()
	assert.Equal(t, StateUninitialized, snap.State)
	assert.Empty(t, snap.Notifications)

	assert.ErrorIs(t, in.MarkAsRead(ctx, "a"), ErrNotInitialized)
	assert.ErrorIs(t, in.MarkAllAsRead(ctx), ErrNotInitialized)
	assert.ErrorIs(t, in.Delete(ctx, "a"), ErrNotInitialized)
	assert.ErrorIs(t, in.Refresh(ctx), ErrNotInitialized)
	assert.ErrorIs(t, in.Subscribe(ctx, "u1"), ErrNotInitialized)
}

func TestWatchDeliversLatestSnapshot(t *testing.T) {
	ch := &fakeChannel{}
	in := New(&fakeStore{}, ch, testOpts, nil)
	stream, stop := in.Watch()
	defer stop()

	first := <-stream
	assert.Equal(t, StateUninitialized, first.State)

	require.NoError(t, in.Open(context.Background(), "u1"))
	ch.latest().send(note("a", false))

	require.Eventually(t, func() bool {
		select {
		case s := <-stream:
			return s.UnreadCount == 1
		default:
			return false
		}
	}, wait, tick)

	in.Close()
	for range stream {
	}
	_, ok := <-stream
	assert.False(t, ok)
}

func TestOnInsertHook(t *testing.T) {
	ch := &fakeChannel{}
	in := New(&fakeStore{}, ch, testOpts, nil)
	defer in.Close()

	var mu sync.Mutex
	var seen []string
	in.OnInsert(func(n model.Notification) {
		mu.Lock()
		seen = append(seen, n.ID)
		mu.Unlock()
	})
	require.NoError(t, in.Open(context.Background(), "u1"))

	ch.latest().send(note("a", false))
	ch.latest().send(note("a", false))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, wait, tick)
}

func TestBackOffPolicy(t *testing.T) {
	b := newBackOff(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 400*time.Millisecond, b.NextBackOff())
	for range 20 {
		b.NextBackOff()
	}
	assert.Equal(t, maxBackoff, b.NextBackOff(), "capped and never stops")

	assert.Zero(t, newBackOff(0).NextBackOff())
}

func TestMutationPolicy(t *testing.T) {
	ctx := context.Background()

	p := mutationPolicy(ctx, 2, time.Millisecond)
	assert.Equal(t, time.Millisecond, p.NextBackOff())
	assert.Equal(t, 2*time.Millisecond, p.NextBackOff())
	assert.Equal(t, backoff.Stop, p.NextBackOff())

	assert.Equal(t, backoff.Stop, mutationPolicy(ctx, 0, time.Millisecond).NextBackOff())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Equal(t, backoff.Stop, mutationPolicy(cancelled, 2, time.Millisecond).NextBackOff())
}

func TestWithRetryStopsOnNotFound(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 5, time.Millisecond, func(context.Context) error {
		calls++
		return fmt.Errorf("deleting: %w", store.ErrNotFound)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, calls)
}
