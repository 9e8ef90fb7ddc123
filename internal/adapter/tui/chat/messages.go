// Package chat implements the Bubble Tea front end: the chat panel and the
// Quick Chat embed view behind a single toggle.
package chat

import "quickchat/internal/domain"

// BusEventMsg wraps a domain event forwarded from the event bus.
type BusEventMsg struct {
	Event domain.Event
}

// SendDoneMsg signals that a chat exchange finished. The messages themselves
// arrive through the event bus.
type SendDoneMsg struct {
	OK bool
}

// ModeSwitchedMsg signals that a mode switch returned.
type ModeSwitchedMsg struct {
	Mode domain.ViewMode
	Err  error
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
