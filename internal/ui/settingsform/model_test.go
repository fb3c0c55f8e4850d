package settingsform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/permission"
)

func TestPatchOmitsPushWithoutPermission(t *testing.T) {
	s := model.DefaultSettings()
	s.PushNotifications = false
	s.ProjectFilters = []string{"beta", "alpha"}

	m := New(80, 24)
	m.Start(s, permission.StateDefault)

	patch := m.Patch()
	assert.Nil(t, patch.PushNotifications)
	require.NotNil(t, patch.EmailNotifications)
	assert.True(t, *patch.EmailNotifications)
	assert.Equal(t, []int{15, 60, 1440}, patch.ReminderMinutes)
	assert.Equal(t, []string{"beta", "alpha"}, patch.ProjectFilters)

	// Applying the patch leaves push untouched.
	merged := model.Reconcile(s, patch)
	assert.False(t, merged.PushNotifications)
	assert.Equal(t, []string{"alpha", "beta"}, merged.ProjectFilters)
}

func TestPatchIncludesPushWhenGranted(t *testing.T) {
	m := New(80, 24)
	m.Start(model.DefaultSettings(), permission.StateGranted)

	m.vals.push = false
	m.vals.reminders = []int{60, 15, 60}
	m.vals.projects = " p1 ,, p2 "

	patch := m.Patch()
	require.NotNil(t, patch.PushNotifications)
	assert.False(t, *patch.PushNotifications)
	assert.Equal(t, []int{15, 60}, patch.ReminderMinutes)
	assert.Equal(t, []string{"p1", "p2"}, patch.ProjectFilters)
}

func TestEmptySelectionsArePresent(t *testing.T) {
	m := New(80, 24)
	m.Start(model.DefaultSettings(), permission.StateGranted)
	m.vals.reminders = nil
	m.vals.projects = ""

	patch := m.Patch()
	assert.NotNil(t, patch.ReminderMinutes)
	assert.Empty(t, patch.ReminderMinutes)
	assert.NotNil(t, patch.ProjectFilters)
	assert.Empty(t, patch.ProjectFilters)
}

func TestReminderOptionsKeepCustomValues(t *testing.T) {
	opts := ReminderOptions([]int{30, 60})

	values := make([]int, len(opts))
	for i, o := range opts {
		values[i] = o.Value
	}
	assert.Equal(t, []int{15, 30, 60, 1440, 10080}, values)
	assert.Equal(t, "30 minutes", opts[1].Key)
	assert.Equal(t, "1 week", opts[4].Key)
}

func TestPatchBeforeStart(t *testing.T) {
	assert.Equal(t, model.SettingsPatch{}, New(80, 24).Patch())
}

func TestDescribe(t *testing.T) {
	s := model.DefaultSettings()
	assert.Equal(t, "reminders: 15 minutes, 1 hour, 1 day | all projects", Describe(s))

	s.ProjectFilters = []string{"p1"}
	s.ReminderMinutes = []int{}
	assert.Equal(t, "reminders:  | p1", Describe(s))
}
