// Package embed drives one embedded-experience session through its lifecycle:
// URL acquisition, script loading, context creation, mount, and disposal.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"quickchat/internal/domain"
	"quickchat/internal/infra/tracer"
)

// URLSource issues single-use embed URLs.
type URLSource interface {
	FetchEmbedURL(ctx context.Context) (domain.EmbedURL, error)
}

// ScriptLoader acquires and releases reference-counted page scripts.
type ScriptLoader interface {
	Acquire(ctx context.Context, src string) error
	Release(ctx context.Context, src string)
}

// Observer receives stage transitions and capability events in the order they
// happen. Callbacks run outside the manager's lock but must not call Start or
// Dispose on the same manager.
type Observer interface {
	StageChanged(change domain.StageChange)
	EventReceived(event domain.EmbedEvent)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStage func(domain.StageChange)
	OnEvent func(domain.EmbedEvent)
}

func (o ObserverFuncs) StageChanged(c domain.StageChange) {
	if o.OnStage != nil {
		o.OnStage(c)
	}
}

func (o ObserverFuncs) EventReceived(e domain.EmbedEvent) {
	if o.OnEvent != nil {
		o.OnEvent(e)
	}
}

// Options holds the fixed parameters of a session.
type Options struct {
	SDKSrc       string
	Height       string
	Width        string
	MountTimeout time.Duration
}

// Deps bundles the collaborators of a Manager.
type Deps struct {
	URLs     URLSource
	Scripts  ScriptLoader
	Resolver domain.CapabilityResolver
	Observer Observer
	Logger   *slog.Logger
}

// notification is one queued observer callback.
type notification struct {
	change *domain.StageChange
	event  *domain.EmbedEvent
}

// Manager owns exactly one session. It is single-use: once disposed, a new
// session needs a new Manager.
type Manager struct {
	id       string
	opts     Options
	urls     URLSource
	scripts  ScriptLoader
	resolver domain.CapabilityResolver
	observer Observer
	logger   *slog.Logger

	mu           sync.Mutex
	stage        domain.Stage
	url          string
	err          error
	disposed     bool
	channelsOpen bool
	scriptHeld   bool
	experience   domain.Experience
	cancel       context.CancelFunc
	startedAt    time.Time
	done         chan struct{}
	pending      []notification

	// emitMu serializes observer delivery so callbacks keep transition order.
	emitMu sync.Mutex
}

// NewManager creates an Idle manager.
func NewManager(deps Deps, opts Options) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := deps.Observer
	if observer == nil {
		observer = ObserverFuncs{}
	}
	id := ulid.Make().String()
	return &Manager{
		id:       id,
		opts:     opts,
		urls:     deps.URLs,
		scripts:  deps.Scripts,
		resolver: deps.Resolver,
		observer: observer,
		logger:   logger.With("session", id),
		stage:    domain.StageIdle,
		done:     make(chan struct{}),
	}
}

// ID returns the session identifier.
func (m *Manager) ID() string { return m.id }

// Stage returns the current stage.
func (m *Manager) Stage() domain.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Session returns a snapshot of the session.
func (m *Manager) Session() domain.EmbedSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.EmbedSession{
		ID:        m.id,
		URL:       m.url,
		Stage:     m.stage,
		Err:       m.err,
		Notice:    domain.UserNotice(m.err),
		StartedAt: m.startedAt,
	}
}

// Done is closed when Start has returned or the manager was disposed before
// Start ran.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Start drives the session from Idle to Mounted, mounting the experience into
// container. It blocks until Mounted or Error. Start on a disposed manager is
// a no-op; Start in any other non-Idle stage fails with ErrInvalidState.
// Completions that arrive after Dispose are discarded.
func (m *Manager) Start(ctx context.Context, container string) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		m.logger.Debug("start ignored on disposed session")
		return nil
	}
	if m.stage != domain.StageIdle {
		stage := m.stage
		m.mu.Unlock()
		return domain.NewSubSystemError("embed", "embed.Start", domain.ErrInvalidState,
			fmt.Sprintf("session in stage %s", stage))
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.startedAt = time.Now()
	m.advanceLocked(domain.StageFetchingURL, nil)
	m.mu.Unlock()
	m.flush()

	defer close(m.done)
	defer cancel()

	ctx, span := tracer.StartSpan(ctx, "embed.start")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("embed.session", m.id))

	err := m.run(ctx, container)
	if err != nil {
		tracer.RecordError(span, err)
	} else {
		tracer.SetOK(span)
	}
	span.SetAttributes(tracer.StringAttr("embed.stage", string(m.Stage())))
	return err
}

func (m *Manager) run(ctx context.Context, container string) error {
	// FetchingURL
	embedURL, err := m.urls.FetchEmbedURL(ctx)
	if err != nil {
		return m.fail(domain.ErrURLAcquisitionFailed, err)
	}
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		m.logger.Debug("discarding embed url fetched after dispose")
		return nil
	}
	m.url = embedURL.EmbedURL
	m.advanceLocked(domain.StageLoadingScript, nil)
	m.mu.Unlock()
	m.flush()
	m.logger.Debug("embed url acquired", "url", embedURL.EmbedURL)

	// LoadingScript
	if err := m.scripts.Acquire(ctx, m.opts.SDKSrc); err != nil {
		return m.fail(domain.ErrScriptLoadFailed, err)
	}
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		// Dispose ran while the load was in flight and saw no reference to release.
		m.scripts.Release(context.WithoutCancel(ctx), m.opts.SDKSrc)
		m.logger.Debug("released script acquired after dispose")
		return nil
	}
	m.scriptHeld = true
	m.advanceLocked(domain.StageCreatingContext, nil)
	m.mu.Unlock()
	m.flush()

	// CreatingContext
	capability, err := m.resolver.Capability(ctx)
	if err != nil {
		return m.fail(domain.ErrScriptLoadFailed, domain.WithCause(domain.ErrCapabilityMissing, err))
	}

	mountCtx := ctx
	if m.opts.MountTimeout > 0 {
		var cancel context.CancelFunc
		mountCtx, cancel = context.WithTimeout(ctx, m.opts.MountTimeout)
		defer cancel()
	}

	embeddingCtx, err := capability.CreateContext(mountCtx)
	if err != nil {
		return m.fail(domain.ErrMountFailed, err)
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.channelsOpen = true
	url := m.url
	m.mu.Unlock()

	frame := domain.FrameOptions{
		URL:       url,
		Container: container,
		Height:    m.opts.Height,
		Width:     m.opts.Width,
		OnChange:  m.channelHandler(domain.ChannelFrame),
	}
	content := domain.ContentOptions{
		OnMessage: m.channelHandler(domain.ChannelContent),
	}

	experience, err := embeddingCtx.Mount(mountCtx, frame, content)
	if err != nil {
		return m.fail(domain.ErrMountFailed, err)
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		m.unmount(context.WithoutCancel(ctx), experience)
		return nil
	}
	m.experience = experience
	m.advanceLocked(domain.StageMounted, nil)
	m.mu.Unlock()
	m.flush()

	m.logger.Info("embedded experience mounted", "container", container)
	return nil
}

// fail moves the session to Error unless it was disposed meanwhile, in which
// case the failure is stale and discarded.
func (m *Manager) fail(kind, cause error) error {
	err := &domain.DomainError{
		Op:        "embed.Start",
		Err:       domain.WithCause(kind, cause),
		SubSystem: "embed",
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		m.logger.Debug("discarding failure after dispose", "error", cause)
		return nil
	}
	m.advanceLocked(domain.StageError, err)
	m.mu.Unlock()
	m.flush()

	m.logger.Error("embed session failed", "code", domain.ErrorCodeOf(err), "error", cause)
	return err
}

// Dispose tears the session down from any stage: it invalidates pending
// callbacks, closes both event channels, unmounts the experience, and releases
// the script if this session acquired it. Dispose is idempotent. Unmount errors
// are logged and returned; the session is Disposed regardless.
func (m *Manager) Dispose(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	m.channelsOpen = false
	cancel := m.cancel
	experience := m.experience
	m.experience = nil
	held := m.scriptHeld
	m.scriptHeld = false
	startRan := m.cancel != nil
	m.advanceLocked(domain.StageDisposed, nil)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !startRan {
		close(m.done)
	}
	m.flush()

	var err error
	if experience != nil {
		err = m.unmount(ctx, experience)
	}
	if held {
		m.scripts.Release(ctx, m.opts.SDKSrc)
	}
	m.logger.Debug("embed session disposed", "released_script", held)
	return err
}

func (m *Manager) unmount(ctx context.Context, experience domain.Experience) error {
	if err := experience.Unmount(ctx); err != nil {
		m.logger.Warn("unmount failed", "error", err)
		return domain.WrapOp("embed.Dispose", err)
	}
	return nil
}

// channelHandler returns the callback handed to the capability for ch. Events
// arriving after Dispose are dropped.
func (m *Manager) channelHandler(ch domain.EventChannel) domain.EmbedEventHandler {
	return func(ev domain.EmbedEvent) {
		m.mu.Lock()
		if m.disposed || !m.channelsOpen {
			m.mu.Unlock()
			return
		}
		ev.SessionID = m.id
		ev.Channel = ch
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		m.pending = append(m.pending, notification{event: &ev})

		if ch == domain.ChannelFrame && ev.Name == domain.EventErrorOccurred && m.stage == domain.StageMounted {
			cause := fmt.Errorf("experience reported %s", ev.Name)
			m.advanceLocked(domain.StageError, &domain.DomainError{
				Op:        "embed.Experience",
				Err:       domain.WithCause(domain.ErrMountFailed, cause),
				SubSystem: "embed",
			})
		}
		m.mu.Unlock()
		m.flush()
	}
}

// advanceLocked records a transition if the state machine permits it.
// m.mu must be held.
func (m *Manager) advanceLocked(to domain.Stage, err error) bool {
	if !domain.CanTransition(m.stage, to) {
		m.logger.Warn("rejected stage transition", "from", m.stage, "to", to)
		return false
	}
	change := domain.StageChange{
		SessionID: m.id,
		From:      m.stage,
		To:        to,
		Err:       err,
		At:        time.Now(),
	}
	m.stage = to
	if err != nil {
		m.err = err
	}
	m.pending = append(m.pending, notification{change: &change})
	return true
}

// flush delivers queued notifications in order.
func (m *Manager) flush() {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, n := range batch {
			if n.change != nil {
				m.observer.StageChanged(*n.change)
			} else if n.event != nil {
				m.observer.EventReceived(*n.event)
			}
		}
	}
}
