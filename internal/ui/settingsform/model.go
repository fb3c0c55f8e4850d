// Package settingsform is the notification settings editor.
package settingsform

import (
	"fmt"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/permission"
	"github.com/nhle/notifier/internal/theme"
	"github.com/nhle/notifier/internal/ui/bell"
)

// SubmitMsg is sent when the user saves the form.
type SubmitMsg struct {
	Patch model.SettingsPatch
}

// CancelMsg is sent when the user leaves the form without saving.
type CancelMsg struct{}

// values is the heap-allocated target of the huh field bindings, so copies
// of Model share it.
type values struct {
	email        bool
	push         bool
	reminders    []int
	projects     string
	newEvents    bool
	eventUpdates bool
}

// Model wraps a huh form over one user's settings.
type Model struct {
	form       *huh.Form
	vals       *values
	permission permission.State
	width      int
	height     int
}

// New creates an empty settings form. Call Start to load settings into it.
func New(width, height int) Model {
	return Model{width: width, height: height}
}

// Start builds a form for s. The push toggle is only editable while host
// permission is granted.
func (m *Model) Start(s model.Settings, state permission.State) tea.Cmd {
	m.permission = state
	m.vals = &values{
		email:        s.EmailNotifications,
		push:         s.PushNotifications,
		reminders:    slices.Clone(s.ReminderMinutes),
		projects:     strings.Join(s.ProjectFilters, ", "),
		newEvents:    s.NewEventNotifications,
		eventUpdates: s.EventUpdateNotifications,
	}
	m.form = m.buildForm()
	return m.form.Init()
}

func (m *Model) buildForm() *huh.Form {
	v := m.vals

	var push huh.Field
	if m.permission == permission.StateGranted {
		push = huh.NewConfirm().
			Title("Desktop alerts").
			Description("Raise a terminal alert when a notification arrives").
			Affirmative("On").
			Negative("Off").
			Value(&v.push)
	} else {
		push = huh.NewNote().
			Title("Desktop alerts").
			Description(pushNote(m.permission))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Email notifications").
				Affirmative("On").
				Negative("Off").
				Value(&v.email),
			push,
			huh.NewConfirm().
				Title("New events").
				Description("Notify when an event is created").
				Affirmative("On").
				Negative("Off").
				Value(&v.newEvents),
			huh.NewConfirm().
				Title("Event changes").
				Description("Notify when an event is updated or deleted").
				Affirmative("On").
				Negative("Off").
				Value(&v.eventUpdates),
		),
		huh.NewGroup(
			huh.NewMultiSelect[int]().
				Title("Reminders").
				Description("How long before an event to remind you").
				Options(ReminderOptions(v.reminders)...).
				Value(&v.reminders),
			huh.NewInput().
				Title("Projects").
				Description("Comma separated project ids; empty means all projects").
				Placeholder("all projects").
				Value(&v.projects),
		),
	).WithWidth(m.formWidth()).WithShowHelp(true)
}

func pushNote(state permission.State) string {
	if state == permission.StateDenied {
		return "Blocked. Allow alerts for this terminal in the keyring to turn them on."
	}
	return "Off. Press P from the main view to allow alerts."
}

// ReminderOptions returns the preset offsets plus any custom values already
// selected, sorted ascending.
func ReminderOptions(selected []int) []huh.Option[int] {
	offsets := slices.Clone(model.ReminderPresets)
	for _, v := range selected {
		if !slices.Contains(offsets, v) {
			offsets = append(offsets, v)
		}
	}
	slices.Sort(offsets)

	opts := make([]huh.Option[int], len(offsets))
	for i, o := range offsets {
		opts[i] = huh.NewOption(bell.FormatMinutes(o), o).Selected(slices.Contains(selected, o))
	}
	return opts
}

// ParseProjects splits a comma separated project list.
func ParseProjects(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Patch returns the settings entered so far. Push is only included when it
// was editable.
func (m Model) Patch() model.SettingsPatch {
	v := m.vals
	if v == nil {
		return model.SettingsPatch{}
	}
	patch := model.SettingsPatch{
		EmailNotifications:       model.BoolPtr(v.email),
		ReminderMinutes:          model.NormalizeReminders(v.reminders),
		ProjectFilters:           ParseProjects(v.projects),
		NewEventNotifications:    model.BoolPtr(v.newEvents),
		EventUpdateNotifications: model.BoolPtr(v.eventUpdates),
	}
	if m.permission == permission.StateGranted {
		patch.PushNotifications = model.BoolPtr(v.push)
	}
	return patch
}

// Update handles messages for the settings form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	if wsm, ok := msg.(tea.WindowSizeMsg); ok {
		m.width = wsm.Width
		m.height = wsm.Height
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		patch := m.Patch()
		m.form = nil
		return m, func() tea.Msg { return SubmitMsg{Patch: patch} }
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return CancelMsg{} }
	}
	return m, cmd
}

// View renders the settings form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Notification Settings")

	return lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Height(m.height).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, m.form.View()))
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	if m.form != nil {
		m.form = m.form.WithWidth(m.formWidth())
	}
}

func (m Model) formWidth() int {
	return max(min(m.width-4, 72), 20)
}

// Describe summarizes s on one line for the status bar.
func Describe(s model.Settings) string {
	reminders := make([]string, len(s.ReminderMinutes))
	for i, r := range s.ReminderMinutes {
		reminders[i] = bell.FormatMinutes(r)
	}
	projects := "all projects"
	if len(s.ProjectFilters) > 0 {
		projects = strings.Join(s.ProjectFilters, ", ")
	}
	return fmt.Sprintf("reminders: %s | %s", strings.Join(reminders, ", "), projects)
}
