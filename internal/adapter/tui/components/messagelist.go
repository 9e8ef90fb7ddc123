package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"quickchat/internal/adapter/tui/theme"
	"quickchat/internal/domain"
)

// entry is one chat message plus its cached render.
type entry struct {
	msg      domain.Message
	rendered string // cached glamour output for agent replies
}

// MessageListModel renders the chat log: user messages right-aligned, agent
// replies and notices left-aligned. The list only grows; MaxMessages bounds
// what is kept on screen, not the log itself.
type MessageListModel struct {
	entries     []entry
	MaxMessages int // 0 = unlimited
	trimCount   int
	width       int
	mdRenderer  *glamour.TermRenderer
}

// NewMessageList creates an empty message list.
func NewMessageList() MessageListModel {
	return MessageListModel{}
}

// SetWidth updates the rendering width and clears cached renders.
func (m *MessageListModel) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.mdRenderer = nil
	for i := range m.entries {
		m.entries[i].rendered = ""
	}
}

// SetMaxMessages sets the display capacity. 0 means unlimited.
func (m *MessageListModel) SetMaxMessages(max int) {
	m.MaxMessages = max
}

// Add appends a message.
func (m *MessageListModel) Add(msg domain.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.entries = append(m.entries, entry{msg: msg})
	if m.MaxMessages > 0 && len(m.entries) > m.MaxMessages {
		excess := len(m.entries) - m.MaxMessages
		m.entries = m.entries[excess:]
		m.trimCount += excess
	}
}

// Len returns the number of messages shown.
func (m *MessageListModel) Len() int { return len(m.entries) }

// View renders all messages as a single string.
func (m *MessageListModel) View() string {
	if len(m.entries) == 0 {
		return theme.TextMuted.Render("  No messages yet. Say hello!")
	}

	width := ContentWidth(m.width)
	var sb strings.Builder
	if m.trimCount > 0 {
		sb.WriteString(theme.TextMuted.Render(fmt.Sprintf("  (%d older messages hidden)", m.trimCount)) + "\n\n")
	}
	for i := range m.entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(m.renderEntry(&m.entries[i], width))
	}
	return sb.String()
}

func (m *MessageListModel) renderEntry(e *entry, width int) string {
	bubbleW := int(float64(width) * theme.MaxBubbleRatio)
	if bubbleW < 20 {
		bubbleW = width
	}
	ts := theme.Timestamp.Render(RelativeTime(e.msg.Timestamp))

	switch {
	case e.msg.Sender == domain.SenderUser:
		header := theme.UserLabel.Render(theme.SymbolUser) + " " + ts
		body := theme.UserBubble.Render(wrapText(e.msg.Text, bubbleW-2))
		block := lipgloss.JoinVertical(lipgloss.Right, header, body)
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, block)

	case e.msg.IsError:
		header := theme.TextError.Render(theme.SymbolError+" "+theme.SymbolAgent) + " " + ts
		return header + "\n" + theme.ErrorBubble.Render(wrapText(e.msg.Text, bubbleW-4))

	default:
		if e.rendered == "" {
			e.rendered = strings.TrimSpace(m.renderMarkdown(e.msg.Text, bubbleW))
		}
		header := theme.AgentLabel.Render(theme.SymbolAgent) + " " + ts
		return header + "\n" + theme.AgentBubble.Render(e.rendered)
	}
}

func (m *MessageListModel) renderMarkdown(content string, width int) string {
	if m.mdRenderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return wrapText(content, width)
		}
		m.mdRenderer = r
	}
	rendered, err := m.mdRenderer.Render(content)
	if err != nil {
		return wrapText(content, width)
	}
	return rendered
}

// RelativeTime returns a human-readable relative time string.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

// wrapText wraps s at word boundaries to width runes.
func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	var out []string
	for _, para := range strings.Split(s, "\n") {
		runes := []rune(para)
		for len(runes) > width {
			idx := -1
			for i := width - 1; i > 0; i-- {
				if runes[i] == ' ' {
					idx = i
					break
				}
			}
			if idx <= 0 {
				idx = width
			}
			out = append(out, string(runes[:idx]))
			runes = runes[idx:]
			for len(runes) > 0 && runes[0] == ' ' {
				runes = runes[1:]
			}
		}
		out = append(out, string(runes))
	}
	return strings.Join(out, "\n")
}

// ContentWidth calculates the content width respecting MaxContentWidth.
func ContentWidth(termWidth int) int {
	return theme.Clamp(termWidth-4, 40, theme.MaxContentWidth)
}

// Divider renders a horizontal line at the given width.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", width))
}
