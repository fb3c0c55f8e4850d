package bell

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/theme"
)

// NotificationItem wraps a model.Notification so it can be used in a
// bubbles/list. Now is the reference time of the relative label.
type NotificationItem struct {
	Notification model.Notification
	Now          time.Time
}

// FilterValue returns the string used for fuzzy filtering.
func (i NotificationItem) FilterValue() string { return i.Notification.Title }

// Title returns the notification title.
func (i NotificationItem) Title() string { return i.Notification.Title }

// Description returns the message and the relative creation time.
func (i NotificationItem) Description() string {
	return fmt.Sprintf("%s · %s", i.Notification.Message, model.TimeAgo(i.Notification.CreatedAt, i.Now))
}

// ItemDelegate renders one notification per line: unread dot, kind icon,
// title and age.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 2 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(NotificationItem)
	if !ok {
		return
	}
	n := it.Notification
	style := n.Style()

	dot := " "
	if !n.IsRead {
		dot = lipgloss.NewStyle().Foreground(theme.ColorBlue).Render("●")
	}
	icon := theme.KindStyle(style.Color).Render(style.Icon)
	age := lipgloss.NewStyle().Foreground(theme.ColorGray).Render(model.TimeAgo(n.CreatedAt, it.Now))

	first := fmt.Sprintf("%s %s %s  %s", dot, icon, n.Title, age)
	second := "    " + n.Message
	if n.Type == model.KindEventReminder {
		if offset, ok := reminderOffset(n); ok {
			second += lipgloss.NewStyle().Foreground(theme.ColorGray).Render(fmt.Sprintf(" (%s before)", offset))
		}
	}

	var line string
	switch {
	case index == m.Index():
		line = theme.SelectedItemStyle.Render(first + "\n" + second)
	case n.IsRead:
		line = theme.ReadItemStyle.Render(first + "\n" + second)
	default:
		line = theme.ListItemStyle.Render(first + "\n" + second)
	}
	fmt.Fprint(w, line)
}

// reminderOffset formats the offset of a reminder notification.
func reminderOffset(n model.Notification) (string, bool) {
	var minutes int
	switch v := n.Metadata[model.MetaOffsetMinutes].(type) {
	case float64:
		minutes = int(v)
	case int:
		minutes = v
	default:
		return "", false
	}
	return FormatMinutes(minutes), true
}

// FormatMinutes renders a reminder offset as the settings form labels it.
func FormatMinutes(minutes int) string {
	switch {
	case minutes >= 10080 && minutes%10080 == 0:
		return plural(minutes/10080, "week")
	case minutes >= 1440 && minutes%1440 == 0:
		return plural(minutes/1440, "day")
	case minutes >= 60 && minutes%60 == 0:
		return plural(minutes/60, "hour")
	default:
		return plural(minutes, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
