package components

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"quickchat/internal/adapter/tui/theme"
	"quickchat/internal/domain"
)

const maxEmbedEvents = 200

// timeline is the forward path a session walks to reach Mounted.
var timeline = []struct {
	stage domain.Stage
	label string
}{
	{domain.StageFetchingURL, "Fetch embed URL"},
	{domain.StageLoadingScript, "Load embedding library"},
	{domain.StageCreatingContext, "Create embedding context"},
	{domain.StageMounted, "Mount Quick Chat"},
}

// EmbedViewModel shows the active embed session: its stage progression, the
// host it embeds from, and the events the experience raised.
type EmbedViewModel struct {
	Viewport viewport.Model

	session  domain.EmbedSession
	reached  domain.Stage // furthest forward stage seen
	failedAt domain.Stage
	events   []domain.EmbedEvent

	ready    bool
	atBottom bool
	width    int
}

// NewEmbedView creates an empty embed view.
func NewEmbedView() EmbedViewModel {
	return EmbedViewModel{atBottom: true}
}

// SetSize sets the dimensions. The event log gets what the header leaves.
func (m *EmbedViewModel) SetSize(w, h int) {
	m.width = w
	eventsH := h - len(timeline) - 6
	if eventsH < 3 {
		eventsH = 3
	}
	if !m.ready {
		m.Viewport = viewport.New(w, eventsH)
		m.Viewport.MouseWheelEnabled = true
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = eventsH
	}
	m.refresh()
}

// Reset clears the view for a new session.
func (m *EmbedViewModel) Reset() {
	m.session = domain.EmbedSession{}
	m.reached = ""
	m.failedAt = ""
	m.events = nil
	m.atBottom = true
	m.refresh()
}

// SessionID returns the session being shown.
func (m EmbedViewModel) SessionID() string { return m.session.ID }

// SetSession records the latest snapshot of the session. A snapshot of
// another session replaces the current one.
func (m *EmbedViewModel) SetSession(snap domain.EmbedSession) {
	if snap.ID != m.session.ID {
		m.Reset()
	}
	m.session = snap
	if position(snap.Stage) > position(m.reached) {
		m.reached = snap.Stage
	}
	m.refresh()
}

// ApplyStage records one transition of session id.
func (m *EmbedViewModel) ApplyStage(id string, p domain.StagePayload) {
	if id != m.session.ID {
		m.Reset()
		m.session.ID = id
	}
	switch {
	case p.To == domain.StageError:
		m.failedAt = p.From
		m.session.Notice = p.Notice
	case position(p.To) > position(m.reached):
		m.reached = p.To
	}
	m.session.Stage = p.To
	m.refresh()
}

// AddEvent appends an experience event of the current session.
func (m *EmbedViewModel) AddEvent(ev domain.EmbedEvent) {
	if ev.SessionID != "" && m.session.ID != "" && ev.SessionID != m.session.ID {
		return
	}
	m.events = append(m.events, ev)
	if len(m.events) > maxEmbedEvents {
		m.events = m.events[len(m.events)-maxEmbedEvents:]
	}
	m.refresh()
	if m.atBottom {
		m.Viewport.GotoBottom()
	}
}

// Events returns the events shown.
func (m EmbedViewModel) Events() []domain.EmbedEvent { return m.events }

// Update handles event log scrolling.
func (m EmbedViewModel) Update(msg tea.Msg) (EmbedViewModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	m.atBottom = m.Viewport.AtBottom()
	return m, cmd
}

// View renders the header, timeline, and event log.
func (m EmbedViewModel) View() string {
	var sb strings.Builder
	sb.WriteString(theme.PanelTitle.Render("Quick Chat"))
	if m.session.ID != "" {
		sb.WriteString(theme.TextMuted.Render("  session " + m.session.ID))
	}
	sb.WriteString("\n")
	if host := RedactedHost(m.session.URL); host != "" {
		sb.WriteString(theme.TextMuted.Render("  embedding from " + host))
	}
	sb.WriteString("\n")
	for _, step := range timeline {
		sb.WriteString(m.renderStep(step.stage, step.label) + "\n")
	}
	if m.session.Stage == domain.StageError && m.session.Notice != "" {
		sb.WriteString(theme.TextError.Render("  "+theme.SymbolWarning+" "+m.session.Notice) + "\n")
	} else {
		sb.WriteString("\n")
	}
	sb.WriteString(Divider(m.width) + "\n")
	if m.ready {
		sb.WriteString(m.Viewport.View())
	}
	return sb.String()
}

// StepState reports how stage s is drawn: "done", "active", "failed" or "pending".
func (m EmbedViewModel) StepState(s domain.Stage) string {
	switch {
	case m.failedAt == s:
		return "failed"
	case m.reached == "":
		return "pending"
	case s == m.reached && s != domain.StageMounted && m.session.Stage != domain.StageError:
		return "active"
	case position(s) <= position(m.reached):
		return "done"
	}
	return "pending"
}

func (m EmbedViewModel) renderStep(s domain.Stage, label string) string {
	switch m.StepState(s) {
	case "failed":
		return theme.TextError.Render("  " + theme.SymbolError + " " + label)
	case "active":
		return theme.TextInfo.Render("  " + theme.SymbolActive + " " + label + theme.SymbolEllipsis)
	case "done":
		return theme.TextSuccess.Render("  "+theme.SymbolSuccess) + " " + label
	}
	return theme.Dim.Render("  " + theme.SymbolPending + " " + label)
}

func (m *EmbedViewModel) refresh() {
	if !m.ready {
		return
	}
	if len(m.events) == 0 {
		m.Viewport.SetContent(theme.TextMuted.Render("  Waiting for events..."))
		return
	}
	var sb strings.Builder
	for _, ev := range m.events {
		name := fmt.Sprintf("%-16s", ev.Name)
		styled := theme.TextMuted.Render(name)
		switch {
		case ev.Name == domain.EventErrorOccurred:
			styled = theme.TextError.Render(name)
		case ev.Channel == domain.ChannelContent:
			styled = theme.TextAccent.Render(name)
		case ev.Channel == domain.ChannelFrame:
			styled = theme.TextInfo.Render(name)
		}
		line := fmt.Sprintf("  %s  %-7s %s", theme.Dim.Render(ev.Timestamp.Format("15:04:05")), ev.Channel, styled)
		if level := ev.Metadata["level"]; level != "" {
			line += theme.TextMuted.Render(" " + level)
		}
		sb.WriteString(line + "\n")
	}
	m.Viewport.SetContent(sb.String())
}

// RedactedHost returns scheme://host of an embed URL with the path and
// credentials dropped, or "" when raw is empty or does not parse.
func RedactedHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/" + theme.SymbolEllipsis
}

func position(s domain.Stage) int {
	for i, step := range timeline {
		if step.stage == s {
			return i
		}
	}
	return -1
}
