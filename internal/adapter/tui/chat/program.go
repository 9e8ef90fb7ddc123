package chat

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"quickchat/internal/domain"
)

// forwarded lists the bus events the TUI renders.
var forwarded = map[domain.EventType]bool{
	domain.EventMessageAppended:  true,
	domain.EventModeChanged:      true,
	domain.EventEmbedStage:       true,
	domain.EventEmbedFrame:       true,
	domain.EventEmbedContent:     true,
	domain.EventEmbedDisposeFail: true,
}

// Run starts the Bubble Tea program and blocks until it exits or ctx is done.
// Bus events are forwarded into the update loop.
func Run(ctx context.Context, deps ModelDeps, bus domain.EventBus, opts ...tea.ProgramOption) error {
	model := NewModel(ctx, deps)

	opts = append([]tea.ProgramOption{
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	}, opts...)
	program := tea.NewProgram(model, opts...)

	if bus != nil {
		unsub := bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
			if forwarded[ev.Type] {
				program.Send(BusEventMsg{Event: ev})
			}
		})
		defer unsub()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			program.Send(QuitMsg{})
		case <-done:
		}
	}()

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
