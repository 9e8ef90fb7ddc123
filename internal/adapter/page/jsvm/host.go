// Package jsvm hosts an embedding SDK bundle in an in-process goja runtime.
// There is no DOM: containers are passed to the SDK as {selector} objects, so
// only SDK builds that do not touch the document can run here.
package jsvm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dop251/goja"

	"quickchat/internal/domain"
)

// maxScriptSize bounds a fetched script bundle.
const maxScriptSize = 8 << 20

// promisePoll is how often a pending promise is re-checked.
const promisePoll = 5 * time.Millisecond

// Config configures the runtime host.
type Config struct {
	SDKGlobal        string
	ExperienceMethod string
	HTTPClient       *http.Client
}

// Host owns one goja runtime. Every VM access runs on the loop goroutine.
type Host struct {
	cfg    Config
	logger *slog.Logger
	vm     *goja.Runtime

	jobs      chan func()
	done      chan struct{}
	closeOnce sync.Once

	// loaded is only touched on the loop goroutine.
	loaded map[string]bool
}

// New starts a runtime host.
func New(cfg Config, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	h := &Host{
		cfg:    cfg,
		logger: logger,
		vm:     goja.New(),
		jobs:   make(chan func(), 64),
		done:   make(chan struct{}),
		loaded: make(map[string]bool),
	}
	h.installGlobals()
	go h.loop()
	return h
}

func (h *Host) loop() {
	for {
		select {
		case job := <-h.jobs:
			job()
		case <-h.done:
			return
		}
	}
}

// errClosed is returned for work submitted to a closed host.
var errClosed = errors.New("js runtime closed")

// do runs fn on the loop goroutine and waits for it. Work queued just as the
// host closes may never run, so both waits also watch done.
func (h *Host) do(ctx context.Context, fn func() error) error {
	select {
	case <-h.done:
		return errClosed
	default:
	}
	errc := make(chan error, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("js runtime panic: %v", r)
			}
		}()
		errc <- fn()
	}
	select {
	case h.jobs <- job:
	case <-h.done:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-h.done:
		select {
		case err := <-errc:
			return err
		default:
			return errClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. Used by timers.
func (h *Host) post(fn func()) {
	select {
	case h.jobs <- fn:
	case <-h.done:
	}
}

func (h *Host) installGlobals() {
	g := h.vm.GlobalObject()
	_ = h.vm.Set("window", g)
	_ = h.vm.Set("globalThis", g)

	console := h.vm.NewObject()
	logFn := func(level slog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]any, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				args = append(args, a.String())
			}
			h.logger.Log(context.Background(), level, "js console", "args", args)
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logFn(slog.LevelDebug))
	_ = console.Set("info", logFn(slog.LevelInfo))
	_ = console.Set("warn", logFn(slog.LevelWarn))
	_ = console.Set("error", logFn(slog.LevelError))
	_ = h.vm.Set("console", console)

	_ = h.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(h.vm.NewTypeError("setTimeout: callback must be a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		time.AfterFunc(delay, func() {
			h.post(func() {
				if _, err := fn(goja.Undefined()); err != nil {
					h.logger.Warn("js timer callback threw", "error", err)
				}
			})
		})
		return goja.Undefined()
	})
}

// InjectScript fetches src and runs it in the runtime.
func (h *Host) InjectScript(ctx context.Context, src string) error {
	body, err := h.fetch(ctx, src)
	if err != nil {
		return err
	}
	return h.do(ctx, func() error {
		if _, err := h.vm.RunScript(src, string(body)); err != nil {
			return fmt.Errorf("run %s: %w", src, err)
		}
		h.loaded[src] = true
		return nil
	})
}

func (h *Host) fetch(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	resp, err := h.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", src, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	return body, nil
}

// RemoveScript forgets src and deletes the SDK global it installed.
func (h *Host) RemoveScript(ctx context.Context, src string) error {
	return h.do(ctx, func() error {
		delete(h.loaded, src)
		return h.vm.GlobalObject().Delete(h.cfg.SDKGlobal)
	})
}

// Capability returns the SDK entry point once its global is present.
func (h *Host) Capability(ctx context.Context) (domain.EmbeddingCapability, error) {
	var create goja.Callable
	var sdk *goja.Object
	err := h.do(ctx, func() error {
		v := h.vm.Get(h.cfg.SDKGlobal)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return fmt.Errorf("%w: %s is undefined", domain.ErrCapabilityMissing, h.cfg.SDKGlobal)
		}
		sdk = v.ToObject(h.vm)
		fn, ok := goja.AssertFunction(sdk.Get("createEmbeddingContext"))
		if !ok {
			return fmt.Errorf("%w: %s.createEmbeddingContext is not a function", domain.ErrCapabilityMissing, h.cfg.SDKGlobal)
		}
		create = fn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &capability{host: h, sdk: sdk, create: create}, nil
}

// await resolves v if it is a promise, pumping the loop until it settles.
func (h *Host) await(ctx context.Context, v goja.Value) (goja.Value, error) {
	var p *goja.Promise
	if err := h.do(ctx, func() error {
		if v != nil {
			p, _ = v.Export().(*goja.Promise)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if p == nil {
		return v, nil
	}
	for {
		var state goja.PromiseState
		var result goja.Value
		if err := h.do(ctx, func() error {
			state = p.State()
			result = p.Result()
			return nil
		}); err != nil {
			return nil, err
		}
		switch state {
		case goja.PromiseStateFulfilled:
			return result, nil
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("promise rejected: %v", result)
		}
		select {
		case <-time.After(promisePoll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type capability struct {
	host   *Host
	sdk    *goja.Object
	create goja.Callable
}

func (c *capability) CreateContext(ctx context.Context) (domain.EmbeddingContext, error) {
	var ret goja.Value
	if err := c.host.do(ctx, func() error {
		var err error
		ret, err = c.create(c.sdk)
		return err
	}); err != nil {
		return nil, fmt.Errorf("createEmbeddingContext: %w", err)
	}
	v, err := c.host.await(ctx, ret)
	if err != nil {
		return nil, fmt.Errorf("createEmbeddingContext: %w", err)
	}

	var obj *goja.Object
	if err := c.host.do(ctx, func() error {
		if goja.IsUndefined(v) || goja.IsNull(v) {
			return errors.New("createEmbeddingContext returned no context")
		}
		obj = v.ToObject(c.host.vm)
		return nil
	}); err != nil {
		return nil, err
	}
	return &embeddingContext{host: c.host, obj: obj}, nil
}

type embeddingContext struct {
	host *Host
	obj  *goja.Object
}

func (e *embeddingContext) Mount(ctx context.Context, frame domain.FrameOptions, content domain.ContentOptions) (domain.Experience, error) {
	h := e.host
	x := &experience{host: h, container: frame.Container}

	var ret goja.Value
	err := h.do(ctx, func() error {
		method, ok := goja.AssertFunction(e.obj.Get(h.cfg.ExperienceMethod))
		if !ok {
			return fmt.Errorf("%w: context.%s is not a function", domain.ErrCapabilityMissing, h.cfg.ExperienceMethod)
		}
		container := h.vm.NewObject()
		_ = container.Set("selector", frame.Container)

		frameOpts := h.vm.NewObject()
		_ = frameOpts.Set("url", frame.URL)
		_ = frameOpts.Set("container", container)
		_ = frameOpts.Set("height", frame.Height)
		_ = frameOpts.Set("width", frame.Width)
		_ = frameOpts.Set("onChange", x.callback(frame.OnChange))

		contentOpts := h.vm.NewObject()
		_ = contentOpts.Set("onMessage", x.callback(content.OnMessage))

		var err error
		ret, err = method(e.obj, frameOpts, contentOpts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.cfg.ExperienceMethod, err)
	}
	v, err := h.await(ctx, ret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.cfg.ExperienceMethod, err)
	}
	if err := h.do(ctx, func() error {
		if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			x.handle = v.ToObject(h.vm)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return x, nil
}

type experience struct {
	host      *Host
	container string
	handle    *goja.Object

	mu       sync.Mutex
	detached bool
}

// callback adapts a Go event handler to a JS function. Events after Unmount
// are dropped.
func (x *experience) callback(handler domain.EmbedEventHandler) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		x.mu.Lock()
		detached := x.detached
		x.mu.Unlock()
		if detached || handler == nil {
			return goja.Undefined()
		}
		ev := domain.EmbedEvent{Timestamp: time.Now()}
		if m, ok := call.Argument(0).Export().(map[string]any); ok {
			if name, ok := m["eventName"].(string); ok {
				ev.Name = name
			}
			if level, ok := m["eventLevel"].(string); ok {
				ev.Metadata = map[string]string{"level": level}
			}
			if msg, ok := m["message"].(map[string]any); ok {
				ev.Message = msg
			}
		}
		handler(ev)
		return goja.Undefined()
	}
}

// Unmount detaches event delivery and calls the handle's unmount hook when
// the SDK provides one.
func (x *experience) Unmount(ctx context.Context) error {
	x.mu.Lock()
	x.detached = true
	x.mu.Unlock()

	if x.handle == nil {
		return nil
	}
	return x.host.do(ctx, func() error {
		fn, ok := goja.AssertFunction(x.handle.Get("unmount"))
		if !ok {
			return nil
		}
		_, err := fn(x.handle)
		return err
	})
}

// Loaded reports whether src has run in the runtime and not been removed.
func (h *Host) Loaded(ctx context.Context, src string) bool {
	var ok bool
	_ = h.do(ctx, func() error {
		ok = h.loaded[src]
		return nil
	})
	return ok
}

// Close stops the loop. Pending timers are dropped.
func (h *Host) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}
