package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelay(t *testing.T) (*Hub, *WSChannel) {
	t.Helper()
	hub := NewHub()
	srv := httptest.NewServer(NewRouter(hub, hub, nil))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
	})
	return hub, NewWSChannel("ws" + strings.TrimPrefix(srv.URL, "http") + RelayPath)
}

func TestWSChannelRelaysInserts(t *testing.T) {
	hub, ch := newRelay(t)
	ctx := context.Background()

	sub, err := ch.Subscribe(ctx, NotificationsFor("u1"))
	require.NoError(t, err)
	defer sub.Cancel()

	require.Eventually(t, func() bool { return hub.Subscribers("u1") == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, insertFor("u2", "skip")))
	require.NoError(t, hub.Publish(ctx, insertFor("u1", "a")))

	ev := recv(t, sub)
	assert.Equal(t, "a", ev.Record.ID)
	assert.Equal(t, "u1", ev.Record.UserID)
	assert.Equal(t, EventInsert, ev.Type)
}

func TestWSChannelCancel(t *testing.T) {
	hub, ch := newRelay(t)

	sub, err := ch.Subscribe(context.Background(), NotificationsFor("u1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers("u1") == 1 },
		time.Second, 10*time.Millisecond)

	sub.Cancel()
	for range sub.Events() {
	}
	assert.NoError(t, sub.Err())

	// The relay notices the disconnect and releases its hub subscription.
	require.Eventually(t, func() bool { return hub.Subscribers("u1") == 0 },
		time.Second, 10*time.Millisecond)
}

func TestWSChannelReportsRelayShutdown(t *testing.T) {
	hub, ch := newRelay(t)

	sub, err := ch.Subscribe(context.Background(), NotificationsFor("u1"))
	require.NoError(t, err)
	defer sub.Cancel()
	require.Eventually(t, func() bool { return hub.Subscribers("u1") == 1 },
		time.Second, 10*time.Millisecond)

	hub.Close()
	for range sub.Events() {
	}
	assert.Error(t, sub.Err())
}

func TestRouterRequiresUser(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	rec := httptest.NewRecorder()
	NewRouter(hub, hub, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RelayPath, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_id is required")
}

func TestRouterHealth(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	rec := httptest.NewRecorder()
	NewRouter(hub, hub, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRouterRejectsIncompleteEvents(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	router := NewRouter(hub, hub, nil)

	for _, body := range []string{`not json`, `{"type":"INSERT","record":{"id":"a"}}`, `{"type":"UPDATE","record":{"id":"a","user_id":"u1"}}`} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, EventsPath, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestRelayPublisherReachesSubscribers(t *testing.T) {
	hub, ch := newRelay(t)
	ctx := context.Background()

	sub, err := ch.Subscribe(ctx, NotificationsFor("u1"))
	require.NoError(t, err)
	defer sub.Cancel()
	require.Eventually(t, func() bool { return hub.Subscribers("u1") == 1 },
		time.Second, 10*time.Millisecond)

	pub, err := NewRelayPublisher(ch.URL)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, insertFor("u1", "a")))
	assert.Equal(t, "a", recv(t, sub).Record.ID)

	err = pub.Publish(ctx, Event{Type: EventInsert, Record: insertFor("", "b").Record})
	assert.ErrorContains(t, err, "rejected")
}

func TestNewRelayPublisherURL(t *testing.T) {
	pub, err := NewRelayPublisher("wss://relay.example.com/realtime/?user_id=x")
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example.com/realtime/events", pub.URL)

	_, err = NewRelayPublisher("ftp://relay.example.com/realtime")
	assert.Error(t, err)
}

func TestWSChannelDialFailure(t *testing.T) {
	ch := NewWSChannel("ws://127.0.0.1:1/realtime")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := ch.Subscribe(ctx, NotificationsFor("u1"))
	assert.Error(t, err)
}
