// Package view holds the active view mode and the chat message log, and ties
// the embed session lifecycle to mode switches.
package view

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quickchat/internal/domain"
	"quickchat/internal/usecase/embed"
)

// Session is the lifecycle surface of one embed session.
type Session interface {
	ID() string
	Start(ctx context.Context, container string) error
	Dispose(ctx context.Context) error
	Session() domain.EmbedSession
}

// SessionFactory builds a fresh session reporting to observer.
type SessionFactory func(observer embed.Observer) Session

// ManagerFactory returns a SessionFactory producing embed.Managers over deps.
func ManagerFactory(deps embed.Deps, opts embed.Options) SessionFactory {
	return func(observer embed.Observer) Session {
		d := deps
		d.Observer = observer
		return embed.NewManager(d, opts)
	}
}

// Controller is the single source of truth for the view mode. Embed resources
// exist only while the mode is Embed.
type Controller struct {
	newSession SessionFactory
	container  string
	bus        domain.EventBus
	logger     *slog.Logger

	// opMu serializes mode switches so a dispose completes before the next start.
	opMu sync.Mutex

	mu       sync.Mutex
	mode     domain.ViewMode
	messages []domain.Message
	active   Session

	wg sync.WaitGroup
}

// NewController creates a controller in Chat mode. bus may be nil.
func NewController(newSession SessionFactory, container string, bus domain.EventBus, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		newSession: newSession,
		container:  container,
		bus:        bus,
		logger:     logger,
		mode:       domain.ViewChat,
	}
}

// Mode returns the active mode.
func (c *Controller) Mode() domain.ViewMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches views. An unchanged mode is a no-op. Entering Embed starts a
// fresh session in the background; leaving it disposes the active session.
// Disposal errors are logged, never returned.
func (c *Controller) SetMode(ctx context.Context, mode domain.ViewMode) error {
	if !mode.Valid() {
		return domain.NewDomainError("view.SetMode", domain.ErrInvalidInput, fmt.Sprintf("unknown mode %q", mode))
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	from := c.mode
	if from == mode {
		c.mu.Unlock()
		return nil
	}
	c.mode = mode
	previous := c.active
	c.active = nil
	var next Session
	if mode == domain.ViewEmbed {
		next = c.newSession(c.observer())
		c.active = next
	}
	c.mu.Unlock()

	c.publish(ctx, domain.NewEvent(domain.EventModeChanged, "", domain.ModePayload{From: from, To: mode}))
	c.logger.Debug("view mode changed", "from", from, "to", mode)

	if previous != nil {
		c.dispose(ctx, previous)
	}
	if next != nil {
		c.start(ctx, next)
	}
	return nil
}

// Toggle flips between Chat and Embed.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.Mode() == domain.ViewChat {
		return c.SetMode(ctx, domain.ViewEmbed)
	}
	return c.SetMode(ctx, domain.ViewChat)
}

func (c *Controller) start(ctx context.Context, s Session) {
	startCtx := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := s.Start(startCtx, c.container); err != nil {
			// The session already moved to Error and reported it to observers.
			c.logger.Debug("embed session start ended with error", "session", s.ID(), "error", err)
		}
	}()
}

func (c *Controller) dispose(ctx context.Context, s Session) {
	if err := s.Dispose(context.WithoutCancel(ctx)); err != nil {
		c.logger.Warn("embed session dispose failed", "session", s.ID(), "error", err)
		c.publish(ctx, domain.NewEvent(domain.EventEmbedDisposeFail, s.ID(), map[string]string{"error": err.Error()}))
	}
}

// observer forwards session notifications to the event bus.
func (c *Controller) observer() embed.Observer {
	return embed.ObserverFuncs{
		OnStage: func(ch domain.StageChange) {
			p := domain.StagePayload{From: ch.From, To: ch.To}
			if ch.Err != nil {
				p.Error = ch.Err.Error()
				p.Notice = domain.UserNotice(ch.Err)
			}
			ev := domain.NewEvent(domain.EventEmbedStage, ch.SessionID, p)
			ev.Timestamp = ch.At
			c.publish(context.Background(), ev)
		},
		OnEvent: func(e domain.EmbedEvent) {
			t := domain.EventEmbedFrame
			if e.Channel == domain.ChannelContent {
				t = domain.EventEmbedContent
			}
			c.publish(context.Background(), domain.NewEvent(t, e.SessionID, e))
		},
	}
}

// ActiveSession returns a snapshot of the current embed session, if any.
func (c *Controller) ActiveSession() (domain.EmbedSession, bool) {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return domain.EmbedSession{}, false
	}
	return s.Session(), true
}

// AppendMessage adds msg to the log. Messages are never mutated or removed.
func (c *Controller) AppendMessage(ctx context.Context, msg domain.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	c.publish(ctx, domain.NewEvent(domain.EventMessageAppended, "", msg))
}

// Messages returns a copy of the log in append order.
func (c *Controller) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Wait blocks until every background start has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close returns to Chat mode, disposing any session, and waits for background work.
func (c *Controller) Close(ctx context.Context) {
	_ = c.SetMode(ctx, domain.ViewChat)
	c.wg.Wait()
}

func (c *Controller) publish(ctx context.Context, ev domain.Event) {
	if c.bus != nil {
		c.bus.Publish(ctx, ev)
	}
}
