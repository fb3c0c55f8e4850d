// Package bell renders the notification panel: the unread badge for the
// header and the list of cached notifications with read/delete actions.
package bell

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/notifier/internal/inbox"
	"github.com/nhle/notifier/internal/keys"
	"github.com/nhle/notifier/internal/theme"
)

// actionTimeout bounds one remote mutation including its retries.
const actionTimeout = 30 * time.Second

// Actions are the inbox mutations the panel can trigger.
type Actions interface {
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

// ActionResultMsg is sent when a mutation finished.
type ActionResultMsg struct {
	Action string
	Err    error
}

// CloseMsg is sent when the user leaves the panel.
type CloseMsg struct{}

// Model is the notification panel view.
type Model struct {
	list      list.Model
	actions   Actions
	keys      *keys.KeyMap
	snapshot  inbox.Snapshot
	now       func() time.Time
	statusMsg string
	width     int
	height    int
}

// New creates a new notification panel.
func New(a Actions, k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-2)
	l.Title = "Notifications"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:    l,
		actions: a,
		keys:    k,
		now:     time.Now,
		width:   width,
		height:  height,
	}
}

// SetSnapshot replaces the rendered inbox contents.
func (m *Model) SetSnapshot(s inbox.Snapshot) tea.Cmd {
	m.snapshot = s
	return m.refreshItems()
}

// Snapshot returns the rendered inbox contents.
func (m Model) Snapshot() inbox.Snapshot {
	return m.snapshot
}

// Refresh re-renders relative times.
func (m *Model) Refresh() tea.Cmd {
	return m.refreshItems()
}

func (m *Model) refreshItems() tea.Cmd {
	now := m.now()
	items := make([]list.Item, len(m.snapshot.Notifications))
	for i, n := range m.snapshot.Notifications {
		items[i] = NotificationItem{Notification: n, Now: now}
	}
	return m.list.SetItems(items)
}

// Update handles messages for the notification panel.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ActionResultMsg:
		if msg.Err != nil {
			m.statusMsg = fmt.Sprintf("Could not save (%s): %v", msg.Action, msg.Err)
		} else {
			m.statusMsg = ""
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		return m, func() tea.Msg { return CloseMsg{} }

	case key.Matches(msg, m.keys.MarkRead):
		item, ok := m.list.SelectedItem().(NotificationItem)
		if !ok || item.Notification.IsRead {
			return m, nil
		}
		id := item.Notification.ID
		return m, m.run("mark read", func(ctx context.Context) error {
			return m.actions.MarkAsRead(ctx, id)
		})

	case key.Matches(msg, m.keys.MarkAllRead):
		if m.snapshot.UnreadCount == 0 {
			return m, nil
		}
		return m, m.run("mark all read", m.actions.MarkAllAsRead)

	case key.Matches(msg, m.keys.Delete):
		item, ok := m.list.SelectedItem().(NotificationItem)
		if !ok {
			return m, nil
		}
		id := item.Notification.ID
		return m, m.run("delete", func(ctx context.Context) error {
			return m.actions.Delete(ctx, id)
		})
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// run returns a command performing one mutation. The inbox applies the
// change locally before the remote call, so the next snapshot already shows
// it while the command is still running.
func (m Model) run(action string, op func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return ActionResultMsg{Action: action, Err: op(ctx)}
	}
}

// View renders the notification panel.
func (m Model) View() string {
	var footer string
	switch {
	case m.statusMsg != "":
		footer = theme.WarningStyle.Render(m.statusMsg)
	case m.snapshot.Stale:
		footer = theme.WarningStyle.Render("Notifications may be out of date. Press r to reload.")
	}

	var body string
	switch {
	case m.snapshot.Loading:
		body = m.centered("Loading notifications...")
	case m.snapshot.LoadErr != nil:
		body = m.centered("Notifications could not be loaded.\nPress r to try again.")
	case len(m.snapshot.Notifications) == 0:
		body = m.centered("No notifications yet.")
	default:
		body = m.list.View()
	}

	if footer == "" {
		return body
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

func (m Model) centered(text string) string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height-2).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray).
		Render(text)
}

// SetSize updates the panel dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
}

// Indicator renders the bell with its unread badge for the header.
func Indicator(s inbox.Snapshot) string {
	switch {
	case s.State == inbox.StateUninitialized:
		return "🔔"
	case s.Loading:
		return "🔔 …"
	case s.UnreadCount == 0:
		return "🔔"
	}
	return "🔔 " + theme.BadgeStyle.Render(BadgeText(s.UnreadCount))
}

// BadgeText is the badge label for count unread notifications.
func BadgeText(count int) string {
	if count > 99 {
		return "99+"
	}
	return fmt.Sprintf("%d", count)
}
