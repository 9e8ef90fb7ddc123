package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"quickchat/internal/adapter/tui/components"
	"quickchat/internal/adapter/tui/theme"
	"quickchat/internal/adapter/tui/uxerror"
	"quickchat/internal/domain"
)

// Sender sends one chat message through the panel.
type Sender interface {
	Send(ctx context.Context, text string) bool
}

// Viewer is the view controller surface the TUI drives.
type Viewer interface {
	Mode() domain.ViewMode
	SetMode(ctx context.Context, mode domain.ViewMode) error
	Toggle(ctx context.Context) error
	ActiveSession() (domain.EmbedSession, bool)
	Messages() []domain.Message
}

// ModelDeps are dependencies injected into the root model.
type ModelDeps struct {
	Panel   Sender
	Views   Viewer
	Backend string // shown in the status bar
	Logger  *slog.Logger
}

// Model is the root Bubble Tea model. It renders state owned by the view
// controller and never mutates the message log itself.
type Model struct {
	deps ModelDeps
	ctx  context.Context

	tabBar    components.TabBarModel
	chatView  components.ChatViewModel
	embedView components.EmbedViewModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	spinner   spinner.Model

	mode     domain.ViewMode
	waiting  bool
	width    int
	height   int
	quitting bool
}

// NewModel creates the root model, seeded with the messages already logged.
func NewModel(ctx context.Context, deps ModelDeps) Model {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	sb := components.NewStatusBar()
	sb.Backend = deps.Backend

	m := Model{
		deps: deps,
		ctx:  ctx,
		tabBar: components.NewTabBar([]components.Tab{
			{Mode: domain.ViewChat, Label: "Chat"},
			{Mode: domain.ViewEmbed, Label: "Quick Chat"},
		}),
		chatView:  components.NewChatView(),
		embedView: components.NewEmbedView(),
		input:     components.NewInputArea(),
		statusBar: sb,
		spinner:   s,
		mode:      deps.Views.Mode(),
	}
	m.chatView.Messages.SetMaxMessages(1000)
	for _, msg := range deps.Views.Messages() {
		m.chatView.AddMessage(msg)
	}
	m.applyMode(m.mode)
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case BusEventMsg:
		m.handleEvent(msg.Event)
		return m, nil

	case SendDoneMsg:
		m.waiting = false
		m.statusBar.Extra = ""
		m.input.SetEnabled(m.mode == domain.ViewChat)
		return m, nil

	case ModeSwitchedMsg:
		if msg.Err != nil {
			friendly := uxerror.Humanize(msg.Err)
			m.statusBar.Extra = theme.SymbolWarning + " " + friendly.Title
			m.deps.Logger.Warn("view switch failed", "error", msg.Err)
		}
		m.applyMode(msg.Mode)
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	if m.mode == domain.ViewEmbed {
		m.embedView, cmd = m.embedView.Update(msg)
		return m, tea.Batch(append(cmds, cmd)...)
	}
	if !m.waiting {
		if _, isMouse := msg.(tea.MouseMsg); !isMouse {
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}
	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// View renders the active view.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	var body, bottom string
	if m.mode == domain.ViewEmbed {
		body = m.embedView.View()
		bottom = theme.TextMuted.Render("  Quick Chat is running in the embedded experience.")
	} else {
		body = m.chatView.View()
		bottom = m.input.View()
		if m.waiting {
			bottom = theme.Dim.Render("> waiting for reply...") + "\n" + m.spinner.View() + " " + m.statusBar.Extra
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.tabBar.View(),
		body,
		components.Divider(m.width),
		bottom,
		m.statusBar.View(),
	)
}

// Mode returns the view the model is showing.
func (m Model) Mode() domain.ViewMode { return m.mode }

// EmbedView exposes the embed view state.
func (m Model) EmbedView() components.EmbedViewModel { return m.embedView }

// MessageCount returns how many messages the chat view holds.
func (m Model) MessageCount() int { return m.chatView.Messages.Len() }

func (m *Model) layout() {
	const tabBarH, inputH, statusH, dividerH = 1, 3, 1, 1
	contentH := m.height - tabBarH - inputH - statusH - dividerH
	if contentH < 5 {
		contentH = 5
	}
	m.tabBar.SetWidth(m.width)
	m.statusBar.SetWidth(m.width)
	m.chatView.SetSize(m.width, contentH)
	m.embedView.SetSize(m.width, contentH)
	m.input.SetWidth(m.width)
}

// isMouseEscapeLeak detects mouse escape sequences that leaked through as key
// input instead of tea.MouseMsg (SGR, X11 and URXVT forms).
func isMouseEscapeLeak(s string) bool {
	if len(s) < 2 {
		return false
	}
	digitsOnly := func(body string) bool {
		for _, r := range body {
			if r != ';' && (r < '0' || r > '9') {
				return false
			}
		}
		return true
	}
	last := s[len(s)-1]
	switch {
	case s[0] == '<' && len(s) >= 5 && (last == 'M' || last == 'm'):
		return digitsOnly(s[1 : len(s)-1])
	case s[0] == '[' && (s[1] == 'M' || s[1] == 'm'):
		return true
	case s[0] == '[' && len(s) >= 5 && last == 'M':
		return digitsOnly(s[1 : len(s)-1])
	}
	return false
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if isMouseEscapeLeak(msg.String()) {
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyCtrlE, tea.KeyTab:
		return m, toggleCmd(m.ctx, m.deps.Views)
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		if m.mode == domain.ViewEmbed {
			m.embedView, cmd = m.embedView.Update(msg)
		} else {
			m.chatView, cmd = m.chatView.Update(msg)
		}
		return m, cmd
	}

	if m.mode == domain.ViewEmbed {
		switch msg.String() {
		case "esc", "q":
			return m, setModeCmd(m.ctx, m.deps.Views, domain.ViewChat)
		case "j", "down":
			m.embedView.Viewport.LineDown(1)
		case "k", "up":
			m.embedView.Viewport.LineUp(1)
		}
		return m, nil
	}

	if m.waiting {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, _, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd)
	}
	m.waiting = true
	m.input.SetEnabled(false)
	m.statusBar.Extra = "Waiting for reply" + theme.SymbolEllipsis
	return m, sendCmd(m.ctx, m.deps.Panel, value)
}

func (m Model) handleSlashCommand(cmd string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.statusBar.Extra = "/chat /embed /toggle /quit"
		return m, nil
	case "/toggle":
		return m, toggleCmd(m.ctx, m.deps.Views)
	case "/chat":
		return m, setModeCmd(m.ctx, m.deps.Views, domain.ViewChat)
	case "/embed":
		return m, setModeCmd(m.ctx, m.deps.Views, domain.ViewEmbed)
	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit
	}
	m.statusBar.Extra = fmt.Sprintf("Unknown command %s, try /help", cmd)
	return m, nil
}

// handleEvent folds one bus event into the views.
func (m *Model) handleEvent(ev domain.Event) {
	switch ev.Type {
	case domain.EventMessageAppended:
		var msg domain.Message
		if m.decode(ev, &msg) {
			m.chatView.AddMessage(msg)
		}

	case domain.EventModeChanged:
		var p domain.ModePayload
		if m.decode(ev, &p) {
			if p.To == domain.ViewEmbed {
				m.embedView.Reset()
				m.tabBar.SetBadge(domain.ViewEmbed, "")
			}
			m.applyMode(p.To)
		}

	case domain.EventEmbedStage:
		var p domain.StagePayload
		if !m.decode(ev, &p) {
			return
		}
		m.embedView.ApplyStage(ev.SessionID, p)
		if snap, ok := m.deps.Views.ActiveSession(); ok && snap.ID == ev.SessionID {
			m.embedView.SetSession(snap)
		}
		m.tabBar.SetBadge(domain.ViewEmbed, stageBadge(p.To))

	case domain.EventEmbedFrame, domain.EventEmbedContent:
		var e domain.EmbedEvent
		if m.decode(ev, &e) {
			m.embedView.AddEvent(e)
		}

	case domain.EventEmbedDisposeFail:
		m.statusBar.Extra = theme.SymbolWarning + " Quick Chat did not close cleanly"
	}
}

func (m *Model) decode(ev domain.Event, v any) bool {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		m.deps.Logger.Debug("dropping undecodable event", "type", ev.Type, "error", err)
		return false
	}
	return true
}

func (m *Model) applyMode(mode domain.ViewMode) {
	m.mode = mode
	m.tabBar.Active = mode
	if mode == domain.ViewEmbed {
		m.input.SetEnabled(false)
		m.statusBar.Hints = embedHints()
		return
	}
	m.input.SetEnabled(!m.waiting)
	m.statusBar.Hints = chatHints()
}

func stageBadge(s domain.Stage) string {
	switch s {
	case domain.StageMounted:
		return theme.SymbolSuccess
	case domain.StageError:
		return theme.SymbolError
	case domain.StageIdle, domain.StageDisposed:
		return ""
	}
	return theme.SymbolActive
}

func chatHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Tab", Desc: "Quick Chat"},
		{Key: "/help", Desc: "Commands"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}

func embedHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Tab", Desc: "Chat"},
		{Key: "j/k", Desc: "Scroll events"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}
