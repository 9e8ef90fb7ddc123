package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageAppended  EventType = "chat.message.appended"
	EventModeChanged      EventType = "view.mode.changed"
	EventEmbedStage       EventType = "embed.stage.changed"
	EventEmbedFrame       EventType = "embed.frame"
	EventEmbedContent     EventType = "embed.content"
	EventEmbedDisposeFail EventType = "embed.dispose.failed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with a JSON payload. Unencodable payloads are dropped.
func NewEvent(t EventType, sessionID string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// StagePayload is the payload of EventEmbedStage.
type StagePayload struct {
	From   Stage  `json:"from"`
	To     Stage  `json:"to"`
	Error  string `json:"error,omitempty"`
	Notice string `json:"notice,omitempty"`
}

// ModePayload is the payload of EventModeChanged.
type ModePayload struct {
	From ViewMode `json:"from"`
	To   ViewMode `json:"to"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close prevents new publishes.
	Close()
}
