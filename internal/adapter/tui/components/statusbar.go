package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"quickchat/internal/adapter/tui/theme"
)

// KeyHint represents a single keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string // e.g. "Enter"
	Desc string // e.g. "Send"
}

// StatusBarModel renders a bottom status line: key hints on the left, the
// backend and transient status on the right.
type StatusBarModel struct {
	Hints   []KeyHint
	Backend string
	Extra   string // e.g. "Waiting for reply..."
	width   int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	var hints []string
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var right []string
	if m.Extra != "" {
		right = append(right, theme.TextInfo.Render(m.Extra))
	}
	if m.Backend != "" {
		right = append(right, theme.TextMuted.Render(m.Backend))
	}
	r := strings.Join(right, "  ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(r)
	if gap < 1 {
		gap = 1
	}
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + r)
}
