package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/notifier/internal/theme"
)

// Name identifies a palette command.
type Name string

const (
	Refresh     Name = "refresh"
	MarkAllRead Name = "read all"
	Settings    Name = "settings"
	EnablePush  Name = "alerts on"
	DisablePush Name = "alerts off"
	SwitchUser  Name = "user"
	SignOut     Name = "sign out"
	Quit        Name = "quit"
)

// aliases maps alternative spellings to commands.
var aliases = map[string]Name{
	"refresh":       Refresh,
	"reload":        Refresh,
	"read all":      MarkAllRead,
	"mark all read": MarkAllRead,
	"settings":      Settings,
	"prefs":         Settings,
	"alerts on":     EnablePush,
	"push on":       EnablePush,
	"alerts off":    DisablePush,
	"push off":      DisablePush,
	"user":          SwitchUser,
	"sign out":      SignOut,
	"logout":        SignOut,
	"quit":          Quit,
	"q":             Quit,
}

// Command is a parsed palette input.
type Command struct {
	Name Name
	Arg  string
}

// CommandMsg is emitted when the user executes a known command.
type CommandMsg Command

// UnknownCommandMsg is emitted for input that names no command.
type UnknownCommandMsg string

// Parse resolves input to a command. Only "user" takes an argument.
func Parse(input string) (Command, bool) {
	fields := strings.Fields(strings.ToLower(input))
	if len(fields) == 0 {
		return Command{}, false
	}

	if fields[0] == string(SwitchUser) {
		if len(fields) != 2 {
			return Command{}, false
		}
		// Preserve the case of the user id.
		return Command{Name: SwitchUser, Arg: strings.Fields(input)[1]}, true
	}

	name, ok := aliases[strings.Join(fields, " ")]
	if !ok {
		return Command{}, false
	}
	return Command{Name: name}, true
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.SetSuggestions([]string{
		string(Refresh), string(MarkAllRead), string(Settings),
		string(EnablePush), string(DisablePush), string(SwitchUser) + " ",
		string(SignOut), string(Quit),
	})
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.Type == tea.KeyEnter {
		raw := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		if raw == "" {
			return m, nil
		}
		if cmd, ok := Parse(raw); ok {
			return m, func() tea.Msg { return CommandMsg(cmd) }
		}
		return m, func() tea.Msg { return UnknownCommandMsg(raw) }
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Command Palette")

	return theme.PanelStyle.
		Width(m.width - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, m.input.View()))
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}

// Blur drops keyboard focus and clears the input.
func (m *Model) Blur() {
	m.input.Reset()
	m.input.Blur()
}
