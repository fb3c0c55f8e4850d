package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/nhle/notifier/internal/theme"
)

// Layout manages the terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	return max(l.Height-l.HeaderHeight-l.StatusBarHeight, 0)
}

// RenderHeader renders the top header bar with a title on the left and the
// bell indicator on the right.
func (l Layout) RenderHeader(title string, bell string) string {
	titleRendered := theme.HeaderStyle.Render(title)
	bellRendered := theme.HeaderStyle.Align(lipgloss.Right).Render(bell)

	gap := max(l.Width-lipgloss.Width(titleRendered)-lipgloss.Width(bellRendered), 0)
	filler := theme.HeaderStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.HeaderStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, titleRendered, filler, bellRendered)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)

	gap := max(l.Width-lipgloss.Width(rendered), 0)
	filler := theme.StatusBarStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.StatusBarStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// PlaceToasts pins the toast stack to the top right corner of content.
// The content keeps its height; toast lines replace the right end of its
// first lines.
func (l Layout) PlaceToasts(content string, toasts string) string {
	if toasts == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	toastLines := strings.Split(toasts, "\n")
	toastWidth := lipgloss.Width(toasts)
	keep := max(l.Width-toastWidth, 0)

	for i, tl := range toastLines {
		if i >= len(lines) {
			lines = append(lines, "")
		}
		left := ansi.Truncate(lines[i], keep, "")
		pad := max(keep-lipgloss.Width(left), 0)
		lines[i] = left + strings.Repeat(" ", pad) + tl
	}
	return strings.Join(lines, "\n")
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	body := lipgloss.NewStyle().
		Height(l.ContentHeight()).
		MaxHeight(l.ContentHeight()).
		Render(content)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, statusBar)
}
