package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"quickchat/internal/domain"
)

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

type envelope struct {
	ctx   context.Context
	event domain.Event
}

// Bus is an in-process, goroutine-safe event bus. Events are delivered by a
// single dispatcher goroutine in publish order, so subscribers observe stage
// transitions in the sequence they happened. Publish never blocks on handlers.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger

	qmu    sync.Mutex
	cond   *sync.Cond
	queue  []envelope
	closed bool
	done   chan struct{}
}

// New creates an event bus and starts its dispatcher.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		typed:  make(map[domain.EventType][]subscription),
		logger: logger,
		done:   make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.qmu)
	go b.run()
	return b
}

// Publish queues event for delivery. Events published after Close are dropped.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, envelope{ctx: context.WithoutCancel(ctx), event: event})
	b.cond.Signal()
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		b.qmu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 && b.closed {
			b.qmu.Unlock()
			return
		}
		batch := b.queue
		b.queue = nil
		b.qmu.Unlock()

		for _, env := range batch {
			b.deliver(env)
		}
	}
}

func (b *Bus) deliver(env envelope) {
	b.mu.RLock()
	typed := make([]subscription, len(b.typed[env.event.Type]))
	copy(typed, b.typed[env.event.Type])
	allSubs := make([]subscription, len(b.allSubs))
	copy(allSubs, b.allSubs)
	b.mu.RUnlock()

	for _, sub := range typed {
		b.call(env, sub)
	}
	for _, sub := range allSubs {
		b.call(env, sub)
	}
}

func (b *Bus) call(env envelope, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(env.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(env.ctx, env.event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == id {
				b.typed[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

// Close stops accepting events and waits until every queued event is delivered.
// Close is idempotent. It must not be called from inside a handler.
func (b *Bus) Close() {
	b.qmu.Lock()
	if !b.closed {
		b.closed = true
		b.cond.Broadcast()
	}
	b.qmu.Unlock()
	<-b.done
}
