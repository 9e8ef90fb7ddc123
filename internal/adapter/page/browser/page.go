// Package browser hosts the embedding SDK in a Chrome page driven over CDP.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"quickchat/internal/domain"
)

// Config holds configuration for the Chrome page host.
type Config struct {
	// RemoteURL is the CDP WebSocket endpoint for connecting to a remote Chrome.
	// If empty, a local Chrome instance is launched.
	RemoteURL string
	// Headless controls whether a locally launched Chrome runs headless.
	Headless bool
	// HostPage is navigated to before any script is injected.
	HostPage string
	// Timeout is the per-action timeout.
	Timeout time.Duration
	// SDKGlobal is the global namespace the embedding SDK installs.
	SDKGlobal string
	// ExperienceMethod is the context method that mounts the experience.
	ExperienceMethod string
}

// bindingPayload is what the page sends through the binding.
type bindingPayload struct {
	Mount   string         `json:"mount"`
	Channel string         `json:"channel"`
	Name    string         `json:"name"`
	Level   string         `json:"level"`
	Message map[string]any `json:"message"`
}

type mountHandlers struct {
	frame   domain.EmbedEventHandler
	content domain.EmbedEventHandler
}

// Page implements domain.Page on a single Chrome tab.
type Page struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex // serializes CDP actions
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	tabCtx        context.Context
	tabCancel     context.CancelFunc

	hmu      sync.Mutex
	handlers map[string]mountHandlers
	nextID   int

	events    chan string
	closeOnce sync.Once
	done      chan struct{}
}

// New launches or connects to Chrome, opens the host page, and installs the
// event binding.
func New(cfg Config, logger *slog.Logger) (*Page, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HostPage == "" {
		cfg.HostPage = "about:blank"
	}

	p := &Page{
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string]mountHandlers),
		events:   make(chan string, 256),
		done:     make(chan struct{}),
	}

	var allocCtx context.Context
	if cfg.RemoteURL != "" {
		allocCtx, p.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		logger.Info("connecting to remote browser", "url", cfg.RemoteURL)
	} else {
		// Copy default options to avoid mutating the package-level slice.
		opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(opts, chromedp.DefaultExecAllocatorOptions[:])
		opts = append(opts,
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(1280, 900),
		)
		allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		logger.Info("launching local browser", "headless", cfg.Headless)
	}

	var browserCtx context.Context
	browserCtx, p.browserCancel = chromedp.NewContext(allocCtx)
	p.tabCtx, p.tabCancel = chromedp.NewContext(browserCtx)

	chromedp.ListenTarget(p.tabCtx, func(ev any) {
		if b, ok := ev.(*runtime.EventBindingCalled); ok && b.Name == bindingName {
			select {
			case p.events <- b.Payload:
			default:
				p.logger.Warn("dropping embed event, dispatcher backlog full")
			}
		}
	})

	// The first Run binds the CDP session to tabCtx itself, so it must not
	// run under a derived, cancellable context.
	startDone := make(chan error, 1)
	go func() {
		startDone <- chromedp.Run(p.tabCtx,
			runtime.AddBinding(bindingName),
			chromedp.Navigate(cfg.HostPage),
			chromedp.Evaluate(bootstrapJS, nil),
		)
	}()
	select {
	case err := <-startDone:
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-time.After(cfg.Timeout):
		p.Close()
		return nil, fmt.Errorf("start browser: timed out after %v", cfg.Timeout)
	}

	go p.dispatch()
	logger.Info("embed host page ready", "page", cfg.HostPage)
	return p, nil
}

// withTimeout derives an action context from the tab that also ends with ctx.
// Caller must hold mu.
func (p *Page) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(p.tabCtx, p.cfg.Timeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// eval runs expr, awaiting a returned promise, and decodes the result into res.
func (p *Page) eval(ctx context.Context, expr string, res any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	tctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return chromedp.Run(tctx, chromedp.Evaluate(expr, res, awaitPromise))
}

// InjectScript adds a script node for src and waits for its load outcome.
func (p *Page) InjectScript(ctx context.Context, src string) error {
	var ok bool
	if err := p.eval(ctx, injectJS(src), &ok); err != nil {
		return fmt.Errorf("inject %s: %w", src, err)
	}
	return nil
}

// RemoveScript removes the script node for src and the global it installed.
func (p *Page) RemoveScript(ctx context.Context, src string) error {
	var n int
	if err := p.eval(ctx, removeJS(src, p.cfg.SDKGlobal), &n); err != nil {
		return fmt.Errorf("remove %s: %w", src, err)
	}
	p.logger.Debug("script nodes removed", "src", src, "count", n)
	return nil
}

// Capability returns the SDK entry point once its global is present.
func (p *Page) Capability(ctx context.Context) (domain.EmbeddingCapability, error) {
	var present bool
	if err := p.eval(ctx, capabilityJS(p.cfg.SDKGlobal), &present); err != nil {
		return nil, fmt.Errorf("probe %s: %w", p.cfg.SDKGlobal, err)
	}
	if !present {
		return nil, fmt.Errorf("%w: window.%s.createEmbeddingContext", domain.ErrCapabilityMissing, p.cfg.SDKGlobal)
	}
	return &capability{page: p}, nil
}

type capability struct {
	page *Page
}

func (c *capability) CreateContext(ctx context.Context) (domain.EmbeddingContext, error) {
	var id string
	if err := c.page.eval(ctx, createContextJS(c.page.cfg.SDKGlobal), &id); err != nil {
		return nil, fmt.Errorf("create embedding context: %w", err)
	}
	return &embeddingContext{page: c.page, id: id}, nil
}

type embeddingContext struct {
	page *Page
	id   string
}

func (e *embeddingContext) Mount(ctx context.Context, frame domain.FrameOptions, content domain.ContentOptions) (domain.Experience, error) {
	p := e.page
	p.hmu.Lock()
	p.nextID++
	mountID := "m" + strconv.Itoa(p.nextID)
	p.handlers[mountID] = mountHandlers{frame: frame.OnChange, content: content.OnMessage}
	p.hmu.Unlock()

	var ok bool
	err := p.eval(ctx, mountJS(mountOptions{
		ContextID: e.id,
		MountID:   mountID,
		Method:    p.cfg.ExperienceMethod,
		URL:       frame.URL,
		Container: frame.Container,
		Height:    frame.Height,
		Width:     frame.Width,
	}), &ok)
	if err != nil {
		p.forget(mountID)
		return nil, fmt.Errorf("%s: %w", p.cfg.ExperienceMethod, err)
	}
	return &experience{page: p, id: mountID}, nil
}

type experience struct {
	page *Page
	id   string
}

// Unmount stops event delivery for the experience and clears its container.
func (x *experience) Unmount(ctx context.Context) error {
	x.page.forget(x.id)
	var found bool
	if err := x.page.eval(ctx, unmountJS(x.id), &found); err != nil {
		return fmt.Errorf("unmount: %w", err)
	}
	if !found {
		x.page.logger.Debug("unmount of unknown experience", "mount", x.id)
	}
	return nil
}

func (p *Page) forget(mountID string) {
	p.hmu.Lock()
	delete(p.handlers, mountID)
	p.hmu.Unlock()
}

// dispatch delivers binding payloads in arrival order.
func (p *Page) dispatch() {
	for {
		select {
		case raw := <-p.events:
			p.deliver(raw)
		case <-p.done:
			return
		}
	}
}

func (p *Page) deliver(raw string) {
	var bp bindingPayload
	if err := json.Unmarshal([]byte(raw), &bp); err != nil {
		p.logger.Warn("malformed embed event", "error", err)
		return
	}

	p.hmu.Lock()
	h, ok := p.handlers[bp.Mount]
	p.hmu.Unlock()
	if !ok {
		return
	}

	ev := domain.EmbedEvent{
		Channel:   domain.EventChannel(bp.Channel),
		Name:      bp.Name,
		Message:   bp.Message,
		Timestamp: time.Now(),
	}
	if bp.Level != "" {
		ev.Metadata = map[string]string{"level": bp.Level}
	}

	switch ev.Channel {
	case domain.ChannelFrame:
		if h.frame != nil {
			h.frame(ev)
		}
	case domain.ChannelContent:
		if h.content != nil {
			h.content(ev)
		}
	}
}

// Close shuts down the tab and the browser.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.tabCancel != nil {
			p.tabCancel()
		}
		if p.browserCancel != nil {
			p.browserCancel()
		}
		if p.allocCancel != nil {
			p.allocCancel()
		}
	})
	return nil
}
