// Package chat implements the chat panel: input capture over the chat exchange
// feeding the append-only message log.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"quickchat/internal/domain"
)

// Exchanger sends one chat message and returns the reply.
type Exchanger interface {
	SendChatMessage(ctx context.Context, userID, text string) (domain.ChatReply, error)
}

// Log is the append-only message log the panel writes to.
type Log interface {
	AppendMessage(ctx context.Context, msg domain.Message)
}

// Notifier turns an exchange failure into the notice shown in the log.
type Notifier func(err error) string

// Panel sends user input and records both sides of the exchange.
type Panel struct {
	exchange Exchanger
	log      Log
	userID   string
	notice   Notifier
	logger   *slog.Logger
}

// Option configures a Panel.
type Option func(*Panel)

// WithNotifier overrides how failures are rendered into the log.
func WithNotifier(n Notifier) Option {
	return func(p *Panel) { p.notice = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Panel) { p.logger = l }
}

// NewPanel creates a Panel sending as userID.
func NewPanel(exchange Exchanger, log Log, userID string, opts ...Option) *Panel {
	p := &Panel{
		exchange: exchange,
		log:      log,
		userID:   userID,
		notice:   domain.UserNotice,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Send appends the user's message, awaits the reply, and appends it. Blank
// input is ignored. Failures become an agent message carrying a notice; Send
// reports whether the exchange succeeded but never returns the exchange error.
func (p *Panel) Send(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	p.log.AppendMessage(ctx, domain.Message{
		Sender:    domain.SenderUser,
		Text:      text,
		Timestamp: time.Now(),
	})

	reply, err := p.exchange.SendChatMessage(ctx, p.userID, text)
	if err != nil {
		p.logger.Warn("chat exchange failed", "code", domain.ErrorCodeOf(err), "error", err)
		p.log.AppendMessage(ctx, domain.Message{
			Sender:    domain.SenderAgent,
			Text:      p.notice(err),
			IsError:   true,
			Timestamp: time.Now(),
		})
		return false
	}

	p.log.AppendMessage(ctx, domain.Message{
		Sender:    domain.SenderAgent,
		Text:      reply.Reply,
		Timestamp: time.Now(),
	})
	return true
}
