package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/keys"
	"github.com/nhle/notifier/internal/logging"
	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/session"
	appsync "github.com/nhle/notifier/internal/sync"
	"github.com/nhle/notifier/internal/ui"
	"github.com/nhle/notifier/internal/ui/bell"
	"github.com/nhle/notifier/internal/ui/command"
	helpview "github.com/nhle/notifier/internal/ui/help"
	"github.com/nhle/notifier/internal/ui/settingsform"
	"github.com/nhle/notifier/internal/ui/toasts"
)

// tickInterval drives toast countdowns and relative times.
const tickInterval = time.Second

// opTimeout bounds session calls issued from the UI.
const opTimeout = 30 * time.Second

// sessionStartedMsg is sent when a user's session finished loading.
type sessionStartedMsg struct {
	userID string
	err    error
}

// settingsSavedMsg is sent after a settings update was persisted.
type settingsSavedMsg struct {
	settings model.Settings
	err      error
}

// pushResultMsg is sent after the permission prompt.
type pushResultMsg struct {
	granted bool
	err     error
}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewBell ViewState = iota
	ViewSettings
	ViewHelp
	ViewCommand
)

// Model is the root Bubble Tea model that routes between the notification
// panel, the settings form and the overlays.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	session      *session.Session
	feed         *appsync.Feed
	keys         *keys.KeyMap
	bell         bell.Model
	toasts       toasts.Model
	settingsForm settingsform.Model
	helpView     helpview.Model
	commandView  command.Model
	userID       string
	ready        bool
	statusMsg    string
	log          *zap.Logger
}

// New creates the root model for s. userID may be empty; the user then
// signs in through the command palette.
func New(s *session.Session, userID string, log *zap.Logger) Model {
	k := keys.DefaultKeyMap()
	return Model{
		currentView:  ViewBell,
		session:      s,
		feed:         appsync.ForSession(s),
		keys:         k,
		bell:         bell.New(s.Inbox(), k, 80, 24),
		toasts:       toasts.New(),
		settingsForm: settingsform.New(80, 24),
		helpView:     helpview.New(k, 80, 24),
		commandView:  command.New(80, 24),
		userID:       userID,
		log:          logging.OrNop(log),
	}
}

// Init starts the session for the configured user, the feed and the ticker.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.feed.Start(), appsync.Tick(tickInterval)}
	if m.userID != "" {
		cmds = append(cmds, m.startSession(m.userID))
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.bell.SetSize(w, h)
		m.settingsForm.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		return m.updateActiveView(msg)

	case sessionStartedMsg:
		if msg.err != nil {
			m.log.Warn("session start", zap.String("user_id", msg.userID), zap.Error(msg.err))
			m.statusMsg = fmt.Sprintf("%s: notifications may be out of date", msg.userID)
		} else {
			m.statusMsg = ""
		}
		return m, nil

	case appsync.InboxMsg:
		cmd := m.bell.SetSnapshot(msg.Snapshot)
		return m, tea.Batch(cmd, m.feed.WaitForNext())

	case appsync.ToastsMsg:
		m.toasts.SetItems(msg.Items)
		return m, m.feed.WaitForNext()

	case appsync.TickMsg:
		return m, tea.Batch(m.bell.Refresh(), appsync.Tick(tickInterval))

	case bell.ActionResultMsg:
		var cmd tea.Cmd
		m.bell, cmd = m.bell.Update(msg)
		return m, cmd

	case bell.CloseMsg:
		return m, nil

	case settingsform.SubmitMsg:
		m.currentView = ViewBell
		return m, m.saveSettings(msg.Patch)

	case settingsform.CancelMsg:
		m.currentView = ViewBell
		return m, nil

	case settingsSavedMsg:
		if msg.err != nil {
			m.log.Warn("saving settings", zap.Error(msg.err))
			m.statusMsg = fmt.Sprintf("Settings not saved: %v", msg.err)
		} else {
			m.statusMsg = "Settings saved. " + settingsform.Describe(msg.settings)
		}
		return m, nil

	case pushResultMsg:
		switch {
		case msg.err != nil:
			m.statusMsg = fmt.Sprintf("Desktop alerts: %v", msg.err)
		case msg.granted:
			m.statusMsg = "Desktop alerts on"
		default:
			m.statusMsg = "Desktop alerts not allowed"
		}
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		m.commandView.Blur()
		return m, m.executeCommand(command.Command(msg))

	case command.UnknownCommandMsg:
		m.currentView = m.previousView
		m.commandView.Blur()
		m.statusMsg = fmt.Sprintf("Unknown command %q", string(msg))
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKeys(msg); handled {
			return m, cmd
		}
	}

	return m.updateActiveView(msg)
}

// handleGlobalKeys processes keys that work outside the form and palette
// inputs. It reports whether the key was consumed.
func (m *Model) handleGlobalKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		return m.quit(), true
	}

	switch m.currentView {
	case ViewSettings:
		return nil, false
	case ViewCommand:
		if key.Matches(msg, m.keys.Back) {
			m.currentView = m.previousView
			m.commandView.Blur()
			return nil, true
		}
		return nil, false
	case ViewHelp:
		if key.Matches(msg, m.keys.Help) || key.Matches(msg, m.keys.Back) {
			m.currentView = m.previousView
		}
		return nil, true
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit(), true

	case key.Matches(msg, m.keys.Help):
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return nil, true

	case key.Matches(msg, m.keys.Command):
		m.previousView = m.currentView
		m.currentView = ViewCommand
		return m.commandView.Focus(), true

	case key.Matches(msg, m.keys.Settings):
		return m.openSettings(), true

	case key.Matches(msg, m.keys.Refresh):
		return m.refresh(), true

	case key.Matches(msg, m.keys.DismissToast):
		if id, ok := m.toasts.Newest(); ok {
			m.session.Toasts().Dismiss(id)
		}
		return nil, true

	case key.Matches(msg, m.keys.EnablePush):
		return m.enablePush(), true
	}
	return nil, false
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewBell:
		m.bell, cmd = m.bell.Update(msg)
	case ViewSettings:
		m.settingsForm, cmd = m.settingsForm.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := "notifier"
	if m.userID != "" {
		title = "notifier · " + m.userID
	}
	header := m.layout.RenderHeader(title, bell.Indicator(m.bell.Snapshot()))
	content := m.layout.PlaceToasts(m.renderContent(), m.toasts.View())
	statusBar := m.layout.RenderStatusBar(m.keyHints())

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewBell:
		if m.userID == "" {
			return "Not signed in. Press : and type 'user <id>'."
		}
		return m.bell.View()
	case ViewSettings:
		return m.settingsForm.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.statusMsg != "" && m.currentView == ViewBell {
		return m.statusMsg
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | tab complete | esc back"
	case ViewSettings:
		return "enter next | esc cancel"
	default:
		return "q quit | ? help | enter read | M read all | d delete | s settings | x dismiss"
	}
}

// startSession returns a command that loads userID into the session.
func (m Model) startSession(userID string) tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return sessionStartedMsg{userID: userID, err: s.Start(ctx, userID)}
	}
}

func (m *Model) openSettings() tea.Cmd {
	current, ok := m.session.Settings()
	if !ok {
		m.statusMsg = "Settings are not loaded yet"
		return nil
	}
	m.previousView = m.currentView
	m.currentView = ViewSettings
	return m.settingsForm.Start(current, m.session.Gate().CurrentState())
}

// saveSettings returns a command persisting patch.
func (m Model) saveSettings(patch model.SettingsPatch) tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		saved, err := s.UpdateSettings(ctx, patch)
		return settingsSavedMsg{settings: saved, err: err}
	}
}

func (m Model) refresh() tea.Cmd {
	in := m.session.Inbox()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return bell.ActionResultMsg{Action: "refresh", Err: in.Refresh(ctx)}
	}
}

// enablePush hands the terminal to the permission prompt.
func (m Model) enablePush() tea.Cmd {
	if m.session.UserID() == "" {
		return nil
	}
	prompt := &pushPrompt{session: m.session}
	return tea.Exec(prompt, func(err error) tea.Msg {
		return pushResultMsg{granted: prompt.granted, err: err}
	})
}

// executeCommand handles a command from the command palette.
func (m *Model) executeCommand(c command.Command) tea.Cmd {
	switch c.Name {
	case command.Refresh:
		return m.refresh()
	case command.MarkAllRead:
		in := m.session.Inbox()
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			return bell.ActionResultMsg{Action: "mark all read", Err: in.MarkAllAsRead(ctx)}
		}
	case command.Settings:
		return m.openSettings()
	case command.EnablePush:
		return m.enablePush()
	case command.DisablePush:
		return m.saveSettings(model.SettingsPatch{PushNotifications: model.BoolPtr(false)})
	case command.SwitchUser:
		m.userID = c.Arg
		m.statusMsg = ""
		return m.startSession(c.Arg)
	case command.SignOut:
		m.session.SignOut()
		m.userID = ""
		m.statusMsg = "Signed out"
		return nil
	case command.Quit:
		return m.quit()
	default:
		return nil
	}
}

func (m Model) quit() tea.Cmd {
	m.feed.Stop()
	return tea.Quit
}

// pushPrompt runs the permission prompt while Bubble Tea has released the
// terminal.
type pushPrompt struct {
	session *session.Session
	granted bool
}

func (p *pushPrompt) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	granted, err := p.session.EnablePush(ctx)
	p.granted = granted
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// The prompt talks to the terminal directly.
func (p *pushPrompt) SetStdin(io.Reader)  {}
func (p *pushPrompt) SetStdout(io.Writer) {}
func (p *pushPrompt) SetStderr(io.Writer) {}
