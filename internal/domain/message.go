package domain

import "time"

// Sender identifies who produced a chat message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Message is one entry of the chat log. Messages are never mutated after append.
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	IsError   bool      `json:"is_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatReply is the backend's answer to a chat message.
type ChatReply struct {
	Reply string `json:"reply"`
}

// EmbedURL is a single-use, time-limited URL authorizing one embedding session.
type EmbedURL struct {
	EmbedURL string `json:"embedUrl"`
}

// ViewMode selects which of the two views is active.
type ViewMode string

const (
	ViewChat  ViewMode = "chat"
	ViewEmbed ViewMode = "embed"
)

// Valid reports whether m is a known mode.
func (m ViewMode) Valid() bool {
	return m == ViewChat || m == ViewEmbed
}
