package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"quickchat/internal/adapter/tui/theme"
)

// InputSubmitMsg is sent when the user presses Enter with non-blank input.
type InputSubmitMsg struct {
	Value string
}

// InputAreaModel wraps a textarea with submit handling.
type InputAreaModel struct {
	Textarea textarea.Model
	Enabled  bool
}

// NewInputArea creates a focused input area.
func NewInputArea() InputAreaModel {
	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(2)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.InputPrompt
	ta.FocusedStyle.Placeholder = theme.InputPlaceholder
	ta.Focus()

	return InputAreaModel{Textarea: ta, Enabled: true}
}

// SetWidth updates the textarea width.
func (m *InputAreaModel) SetWidth(w int) {
	m.Textarea.SetWidth(w - 2)
}

// SetEnabled focuses or blurs the input.
func (m *InputAreaModel) SetEnabled(enabled bool) {
	m.Enabled = enabled
	if enabled {
		m.Textarea.Focus()
	} else {
		m.Textarea.Blur()
	}
}

// Value returns the current input text.
func (m InputAreaModel) Value() string {
	return m.Textarea.Value()
}

// ParseSlashCommand extracts command and args from slash command input.
func ParseSlashCommand(input string) (cmd string, args []string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	parts := strings.Fields(input)
	return strings.ToLower(parts[0]), parts[1:], true
}

// Update handles key events. Enter submits; Alt+Enter inserts a newline.
// Blank input is not submitted.
func (m InputAreaModel) Update(msg tea.Msg) (InputAreaModel, tea.Cmd) {
	if !m.Enabled {
		return m, nil
	}
	if _, ok := msg.(tea.MouseMsg); ok {
		return m, nil
	}
	if key, ok := msg.(tea.KeyMsg); ok && key.Type == tea.KeyEnter && !key.Alt {
		value := strings.TrimSpace(m.Textarea.Value())
		if value == "" {
			return m, nil
		}
		m.Textarea.Reset()
		return m, func() tea.Msg { return InputSubmitMsg{Value: value} }
	}

	var cmd tea.Cmd
	m.Textarea, cmd = m.Textarea.Update(msg)
	return m, cmd
}

// View renders the input area.
func (m InputAreaModel) View() string {
	return m.Textarea.View()
}
