package chat

import (
	"context"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickchat/internal/adapter/tui/components"
	"quickchat/internal/domain"
)

type fakeViews struct {
	mu       sync.Mutex
	mode     domain.ViewMode
	messages []domain.Message
	session  domain.EmbedSession
	active   bool
	sets     []domain.ViewMode
}

func (f *fakeViews) Mode() domain.ViewMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeViews) SetMode(_ context.Context, mode domain.ViewMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, mode)
	f.mode = mode
	return nil
}

func (f *fakeViews) Toggle(ctx context.Context) error {
	if f.Mode() == domain.ViewChat {
		return f.SetMode(ctx, domain.ViewEmbed)
	}
	return f.SetMode(ctx, domain.ViewChat)
}

func (f *fakeViews) ActiveSession() (domain.EmbedSession, bool) {
	return f.session, f.active
}

func (f *fakeViews) Messages() []domain.Message { return f.messages }

type fakePanel struct {
	sent []string
}

func (f *fakePanel) Send(_ context.Context, text string) bool {
	f.sent = append(f.sent, text)
	return true
}

func newTestModel(views *fakeViews, panel *fakePanel) Model {
	m := NewModel(context.Background(), ModelDeps{Panel: panel, Views: views, Backend: "http://localhost:8000"})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func step(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestModelSeedsExistingMessages(t *testing.T) {
	views := &fakeViews{mode: domain.ViewChat, messages: []domain.Message{
		{Sender: domain.SenderUser, Text: "hi"},
		{Sender: domain.SenderAgent, Text: "hello"},
	}}
	m := newTestModel(views, &fakePanel{})
	assert.Equal(t, 2, m.MessageCount())
	assert.Equal(t, domain.ViewChat, m.Mode())
}

func TestModelAppendsMessagesFromBus(t *testing.T) {
	m := newTestModel(&fakeViews{mode: domain.ViewChat}, &fakePanel{})
	ev := domain.NewEvent(domain.EventMessageAppended, "", domain.Message{Sender: domain.SenderAgent, Text: "pong"})
	m, _ = step(t, m, BusEventMsg{Event: ev})
	assert.Equal(t, 1, m.MessageCount())
	assert.Contains(t, m.View(), "pong")
}

func TestModelSubmitSendsThroughPanel(t *testing.T) {
	panel := &fakePanel{}
	m := newTestModel(&fakeViews{mode: domain.ViewChat}, panel)

	m, cmd := step(t, m, components.InputSubmitMsg{Value: "ping"})
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "waiting for reply")

	done := cmd()
	assert.Equal(t, SendDoneMsg{OK: true}, done)
	assert.Equal(t, []string{"ping"}, panel.sent)

	m, _ = step(t, m, done)
	assert.NotContains(t, m.View(), "waiting for reply")
}

func TestModelToggleKeySwitchesThroughController(t *testing.T) {
	views := &fakeViews{mode: domain.ViewChat}
	m := newTestModel(views, &fakePanel{})

	m, cmd := step(t, m, tea.KeyMsg{Type: tea.KeyCtrlE})
	require.NotNil(t, cmd)
	assert.Equal(t, domain.ViewChat, m.Mode(), "mode follows the controller, not the key")

	m, _ = step(t, m, cmd())
	assert.Equal(t, domain.ViewEmbed, m.Mode())
	assert.Equal(t, []domain.ViewMode{domain.ViewEmbed}, views.sets)
	assert.Contains(t, m.View(), "Fetch embed URL")
}

func TestModelSlashCommandsSetMode(t *testing.T) {
	views := &fakeViews{mode: domain.ViewChat}
	m := newTestModel(views, &fakePanel{})

	_, cmd := step(t, m, components.InputSubmitMsg{Value: "/embed"})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []domain.ViewMode{domain.ViewEmbed}, views.sets)

	m, _ = step(t, m, components.InputSubmitMsg{Value: "/bogus"})
	assert.Contains(t, m.View(), "Unknown command /bogus")
}

func TestModelTracksEmbedStages(t *testing.T) {
	views := &fakeViews{mode: domain.ViewEmbed, active: true, session: domain.EmbedSession{
		ID:    "s1",
		URL:   "https://us-east-1.quicksight.aws.amazon.com/embed/abc?code=secret",
		Stage: domain.StageLoadingScript,
	}}
	m := newTestModel(views, &fakePanel{})

	for _, p := range []domain.StagePayload{
		{From: domain.StageIdle, To: domain.StageFetchingURL},
		{From: domain.StageFetchingURL, To: domain.StageLoadingScript},
	} {
		m, _ = step(t, m, BusEventMsg{Event: domain.NewEvent(domain.EventEmbedStage, "s1", p)})
	}

	ev := m.EmbedView()
	assert.Equal(t, "s1", ev.SessionID())
	assert.Equal(t, "done", ev.StepState(domain.StageFetchingURL))
	assert.Equal(t, "active", ev.StepState(domain.StageLoadingScript))

	view := m.View()
	assert.Contains(t, view, "us-east-1.quicksight.aws.amazon.com")
	assert.NotContains(t, view, "secret")

	frame := domain.EmbedEvent{SessionID: "s1", Channel: domain.ChannelFrame, Name: domain.EventFrameMounted}
	m, _ = step(t, m, BusEventMsg{Event: domain.NewEvent(domain.EventEmbedFrame, "s1", frame)})
	require.Len(t, m.EmbedView().Events(), 1)
	assert.Equal(t, domain.EventFrameMounted, m.EmbedView().Events()[0].Name)
}

func TestModelShowsStageFailure(t *testing.T) {
	m := newTestModel(&fakeViews{mode: domain.ViewEmbed}, &fakePanel{})
	for _, p := range []domain.StagePayload{
		{From: domain.StageIdle, To: domain.StageFetchingURL},
		{From: domain.StageFetchingURL, To: domain.StageError, Error: "boom", Notice: "Could not reach the server."},
	} {
		m, _ = step(t, m, BusEventMsg{Event: domain.NewEvent(domain.EventEmbedStage, "s2", p)})
	}
	assert.Equal(t, "failed", m.EmbedView().StepState(domain.StageFetchingURL))
	assert.Contains(t, m.View(), "Could not reach the server.")
}

func TestModelIgnoresUndecodableEvents(t *testing.T) {
	m := newTestModel(&fakeViews{mode: domain.ViewChat}, &fakePanel{})
	m, _ = step(t, m, BusEventMsg{Event: domain.Event{Type: domain.EventMessageAppended, Payload: []byte("{")}})
	assert.Equal(t, 0, m.MessageCount())
}

func TestIsMouseEscapeLeak(t *testing.T) {
	cases := map[string]bool{
		"<65;38;21M": true,
		"<0;1;2m":    true,
		"[M":         true,
		"[1;2;3M":    true,
		"hello":      false,
		"<abc>":      false,
		"[":          false,
	}
	for in, want := range cases {
		assert.Equal(t, want, isMouseEscapeLeak(in), in)
	}
}
