package model

import (
	"slices"
	"time"
)

// ReminderPresets are the reminder offsets (in minutes) offered by the
// settings form: 15 minutes, 1 hour, 1 day, 1 week.
var ReminderPresets = []int{15, 60, 1440, 10080}

// Settings is the fully populated notification settings record of one user.
type Settings struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	EmailNotifications bool `json:"emailNotifications"`
	PushNotifications  bool `json:"pushNotifications"`

	// ReminderMinutes is kept sorted ascending without duplicates.
	ReminderMinutes []int `json:"reminderMinutes"`

	// ProjectFilters is a set of project identifiers. Empty means all
	// projects.
	ProjectFilters []string `json:"projectFilters"`

	NewEventNotifications    bool `json:"newEventNotifications"`
	EventUpdateNotifications bool `json:"eventUpdateNotifications"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsPatch is a partial settings object. A nil field is absent; a
// non-nil empty slice is present and empty, so the slices serialize as null
// rather than being omitted.
// It is both the shape of a partial update and of the persisted settings
// body, which may predate fields added later.
type SettingsPatch struct {
	EmailNotifications       *bool    `json:"emailNotifications,omitempty"`
	PushNotifications        *bool    `json:"pushNotifications,omitempty"`
	ReminderMinutes          []int    `json:"reminderMinutes"`
	ProjectFilters           []string `json:"projectFilters"`
	NewEventNotifications    *bool    `json:"newEventNotifications,omitempty"`
	EventUpdateNotifications *bool    `json:"eventUpdateNotifications,omitempty"`
}

// SettingsRecord is a settings row as the persistence layer returns it:
// server-assigned identity and timestamps around a possibly partial body.
type SettingsRecord struct {
	ID        string
	UserID    string
	Values    SettingsPatch
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultSettings returns a fresh copy of the default settings.
func DefaultSettings() Settings {
	return Settings{
		EmailNotifications:       true,
		PushNotifications:        true,
		ReminderMinutes:          []int{15, 60, 1440},
		ProjectFilters:           []string{},
		NewEventNotifications:    true,
		EventUpdateNotifications: true,
	}
}

// Reconcile merges patch over base and returns the normalized result.
// base is not modified.
func Reconcile(base Settings, patch SettingsPatch) Settings {
	out := base
	out.ReminderMinutes = slices.Clone(base.ReminderMinutes)
	out.ProjectFilters = slices.Clone(base.ProjectFilters)

	if patch.EmailNotifications != nil {
		out.EmailNotifications = *patch.EmailNotifications
	}
	if patch.PushNotifications != nil {
		out.PushNotifications = *patch.PushNotifications
	}
	if patch.ReminderMinutes != nil {
		out.ReminderMinutes = slices.Clone(patch.ReminderMinutes)
	}
	if patch.ProjectFilters != nil {
		out.ProjectFilters = slices.Clone(patch.ProjectFilters)
	}
	if patch.NewEventNotifications != nil {
		out.NewEventNotifications = *patch.NewEventNotifications
	}
	if patch.EventUpdateNotifications != nil {
		out.EventUpdateNotifications = *patch.EventUpdateNotifications
	}

	out.ReminderMinutes = NormalizeReminders(out.ReminderMinutes)
	out.ProjectFilters = normalizeSet(out.ProjectFilters)
	return out
}

// Patch returns a patch that sets every field of s.
func (s Settings) Patch() SettingsPatch {
	return SettingsPatch{
		EmailNotifications:       &s.EmailNotifications,
		PushNotifications:        &s.PushNotifications,
		ReminderMinutes:          NormalizeReminders(s.ReminderMinutes),
		ProjectFilters:           normalizeSet(s.ProjectFilters),
		NewEventNotifications:    &s.NewEventNotifications,
		EventUpdateNotifications: &s.EventUpdateNotifications,
	}
}

// Allows reports whether a host alert should be raised for n under s.
func (s Settings) Allows(n Notification) bool {
	switch n.Type {
	case KindEventCreated:
		if !s.NewEventNotifications {
			return false
		}
	case KindEventUpdated, KindEventDeleted:
		if !s.EventUpdateNotifications {
			return false
		}
	}

	if len(s.ProjectFilters) == 0 {
		return true
	}
	project := n.Project()
	if project == "" {
		// Not tied to a project; filters do not apply.
		return true
	}
	return slices.Contains(s.ProjectFilters, project)
}

// NormalizeReminders returns the non-negative values of minutes, sorted
// ascending and deduplicated. The result is never nil.
func NormalizeReminders(minutes []int) []int {
	out := make([]int, 0, len(minutes))
	for _, m := range minutes {
		if m >= 0 {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func normalizeSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// BoolPtr returns a pointer to b, for building patches.
func BoolPtr(b bool) *bool {
	return &b
}
