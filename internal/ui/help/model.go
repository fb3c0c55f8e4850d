package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/notifier/internal/keys"
	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/theme"
)

// Model is the help overlay view. Besides the key bindings it explains the
// notification kinds.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	m.help.Width = m.width - 4
	m.help.ShowAll = true

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
		"",
		titleStyle.Render("Notification Kinds"),
		kindLegend(),
	)

	return theme.PanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(content)
}

var legendKinds = []struct {
	kind  model.Kind
	label string
}{
	{model.KindEventCreated, "event created"},
	{model.KindEventUpdated, "event updated"},
	{model.KindEventDeleted, "event deleted"},
	{model.KindEventReminder, "reminder"},
	{model.KindSystem, "system message"},
	{model.KindAdmin, "announcement"},
}

func kindLegend() string {
	lines := make([]string, len(legendKinds))
	for i, k := range legendKinds {
		style := model.KindStyleFor(k.kind)
		lines[i] = theme.KindStyle(style.Color).Render(style.Icon) + "  " + k.label
	}
	return strings.Join(lines, "\n")
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
