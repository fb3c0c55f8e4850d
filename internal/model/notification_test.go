package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStyles(t *testing.T) {
	for _, k := range []Kind{KindEventCreated, KindEventUpdated, KindEventDeleted, KindEventReminder, KindSystem, KindAdmin} {
		assert.True(t, k.Valid(), k)
		assert.NotEmpty(t, KindStyleFor(k).Icon, k)
	}

	assert.False(t, Kind("birthday").Valid())
	assert.Equal(t, KindStyleFor(KindSystem), KindStyleFor("birthday"))
	assert.Equal(t, "orange", Notification{Type: KindEventReminder}.Style().Color)
}

func TestProject(t *testing.T) {
	assert.Empty(t, Notification{}.Project())
	assert.Empty(t, Notification{Metadata: map[string]any{MetaProject: 42}}.Project())
	assert.Equal(t, "p1", Notification{Metadata: map[string]any{MetaProject: "p1"}}.Project())
}

func TestCountUnread(t *testing.T) {
	ns := []Notification{{IsRead: true}, {}, {}}
	assert.Equal(t, 2, CountUnread(ns))
	assert.Zero(t, CountUnread(nil))
}

func TestTimeAgo(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", TimeAgo(now.Add(-30*time.Second), now))
	assert.Equal(t, "just now", TimeAgo(now.Add(time.Minute), now))
	assert.Equal(t, "5m ago", TimeAgo(now.Add(-5*time.Minute), now))
	assert.Equal(t, "2h ago", TimeAgo(now.Add(-150*time.Minute), now))
	assert.Equal(t, "3d ago", TimeAgo(now.Add(-72*time.Hour), now))
}

func TestToastRemaining(t *testing.T) {
	now := time.Now()
	item := ToastItem{ExpiresAt: now.Add(2 * time.Second)}
	assert.Equal(t, 2*time.Second, item.Remaining(now))
	assert.Zero(t, item.Remaining(now.Add(3*time.Second)))
}

func TestParseKindResolvesAliases(t *testing.T) {
	assert.Equal(t, KindEventCreated, ParseKind("new_event"))
	assert.Equal(t, KindEventCreated, ParseKind("event_created"))
	assert.Equal(t, KindEventUpdated, ParseKind("event_updated"))
	assert.Equal(t, Kind("birthday"), ParseKind("birthday"))
}

func TestNotificationJSONAcceptsKindAlias(t *testing.T) {
	for _, wire := range []string{"new_event", "event_created"} {
		var n Notification
		require.NoError(t, json.Unmarshal([]byte(`{"id":"n1","type":"`+wire+`"}`), &n))
		assert.Equal(t, KindEventCreated, n.Type, wire)
		assert.True(t, n.Type.Valid())

		s := DefaultSettings()
		s.NewEventNotifications = false
		assert.False(t, s.Allows(n), "new event toggle applies to %s", wire)
	}

	raw, err := json.Marshal(Notification{Type: KindEventCreated})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"new_event"`)
}
