package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"quickchat/internal/domain"
)

// sendCmd runs one exchange in the background. Send never returns the
// exchange error; failures land in the log as agent messages.
func sendCmd(ctx context.Context, panel Sender, text string) tea.Cmd {
	return func() tea.Msg {
		return SendDoneMsg{OK: panel.Send(ctx, text)}
	}
}

// setModeCmd switches views in the background. Leaving Embed blocks until the
// session is disposed, so it must not run on the update loop.
func setModeCmd(ctx context.Context, views Viewer, mode domain.ViewMode) tea.Cmd {
	return func() tea.Msg {
		err := views.SetMode(ctx, mode)
		return ModeSwitchedMsg{Mode: views.Mode(), Err: err}
	}
}

// toggleCmd flips the view in the background. Toggles are serialized by the
// controller, so rapid presses resolve in order.
func toggleCmd(ctx context.Context, views Viewer) tea.Cmd {
	return func() tea.Msg {
		err := views.Toggle(ctx)
		return ModeSwitchedMsg{Mode: views.Mode(), Err: err}
	}
}
