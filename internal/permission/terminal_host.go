package permission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/notifier/internal/credential"
)

// Secrets persists the permission answer between runs.
type Secrets interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Prompter asks the user whether alerts are allowed.
type Prompter func(ctx context.Context) (bool, error)

// TerminalHost implements Host for a terminal: the answer lives in the OS
// keyring, the prompt is a confirm form, and alerts ring the bell and print
// a styled line.
type TerminalHost struct {
	secrets Secrets
	prompt  Prompter
	out     io.Writer

	mu    sync.Mutex
	shown map[string]struct{}
	title lipgloss.Style
}

// NewTerminalHost constructs a host that writes alerts to out.
func NewTerminalHost(secrets Secrets, out io.Writer) *TerminalHost {
	return &TerminalHost{
		secrets: secrets,
		prompt:  ConfirmPrompt,
		out:     out,
		shown:   make(map[string]struct{}),
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
	}
}

// WithPrompter replaces the confirm form.
func (h *TerminalHost) WithPrompter(p Prompter) *TerminalHost {
	h.prompt = p
	return h
}

// CurrentPermission reads the remembered answer. A missing or unreadable
// value is StateDefault.
func (h *TerminalHost) CurrentPermission() State {
	v, err := h.secrets.Get(credential.KeyPermission)
	if err != nil {
		return StateDefault
	}
	return ParseState(v)
}

// RequestPermission prompts and remembers a definite answer.
func (h *TerminalHost) RequestPermission(ctx context.Context) (State, error) {
	allow, err := h.prompt(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return StateDefault, nil
	}
	if err != nil {
		return StateDefault, fmt.Errorf("prompting for permission: %w", err)
	}

	state := StateDenied
	if allow {
		state = StateGranted
	}
	if err := h.secrets.Set(credential.KeyPermission, string(state)); err != nil {
		return state, fmt.Errorf("saving permission: %w", err)
	}
	return state, nil
}

// Show rings the terminal bell and prints one line per tag.
func (h *TerminalHost) Show(title, body, icon, tag string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tag != "" {
		if _, ok := h.shown[tag]; ok {
			return nil
		}
		h.shown[tag] = struct{}{}
	}

	line := h.title.Render(icon + " " + title)
	if body != "" {
		line += "  " + body
	}
	_, err := fmt.Fprintf(h.out, "\a%s\n", line)
	return err
}

// ConfirmPrompt asks with a huh confirm form.
func ConfirmPrompt(ctx context.Context) (bool, error) {
	var allow bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Allow notifications?").
				Description("Alerts are shown in this terminal for new notifications.").
				Affirmative("Allow").
				Negative("Block").
				Value(&allow),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return false, err
	}
	return allow, nil
}
