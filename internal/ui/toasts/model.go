// Package toasts renders the toast stack in the top right corner.
package toasts

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/theme"
)

// toastWidth is the outer width of one toast.
const toastWidth = 38

// Model holds the toasts currently admitted by the queue.
type Model struct {
	items []model.ToastItem
	now   func() time.Time
}

// New creates an empty toast stack.
func New() Model {
	return Model{now: time.Now}
}

// SetItems replaces the visible toasts, newest first.
func (m *Model) SetItems(items []model.ToastItem) {
	m.items = items
}

// Newest returns the id of the most recently admitted toast.
func (m Model) Newest() (string, bool) {
	if len(m.items) == 0 {
		return "", false
	}
	return m.items[0].ID, true
}

// Len returns the number of visible toasts.
func (m Model) Len() int {
	return len(m.items)
}

// View renders the stack, or "" when it is empty.
func (m Model) View() string {
	if len(m.items) == 0 {
		return ""
	}

	now := m.now()
	boxes := make([]string, len(m.items))
	for i, item := range m.items {
		boxes[i] = renderToast(item, now)
	}
	return lipgloss.JoinVertical(lipgloss.Right, boxes...)
}

func renderToast(item model.ToastItem, now time.Time) string {
	style := item.Style()
	inner := toastWidth - 4

	title := theme.KindStyle(style.Color).Render(
		truncate(fmt.Sprintf("%s %s", style.Icon, item.Title), inner),
	)
	lines := []string{title}
	if item.Message != "" {
		lines = append(lines, truncate(item.Message, inner))
	}

	secs := int(math.Ceil(item.Remaining(now).Seconds()))
	lines = append(lines, theme.HelpStyle.Render(fmt.Sprintf("%ds · x to dismiss", secs)))

	return theme.ToastFrame(style.Color).
		Width(toastWidth - 2).
		Render(strings.Join(lines, "\n"))
}

// truncate shortens plain text to width cells with an ellipsis.
func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}
