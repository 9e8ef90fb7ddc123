// Package scriptloader keeps a process-wide, reference-counted registry of
// external scripts injected into a page host.
package scriptloader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quickchat/internal/domain"
	"quickchat/internal/infra/tracer"
)

type entryState int

const (
	stateLoading entryState = iota
	stateLoaded
	stateRemoving
)

// entry is the registry record for one src.
type entry struct {
	state    entryState
	refCount int
	waiters  int // acquires blocked on an in-flight load
	done     chan struct{}
	err      error
	removed  chan struct{}
}

// Loader injects scripts through a ScriptHost, at most once per src while any
// consumer holds a reference.
type Loader struct {
	host        domain.ScriptHost
	logger      *slog.Logger
	loadTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Loader. loadTimeout bounds a single injection independently of
// the callers waiting on it.
func New(host domain.ScriptHost, loadTimeout time.Duration, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		host:        host,
		logger:      logger,
		loadTimeout: loadTimeout,
		entries:     make(map[string]*entry),
	}
}

// Acquire ensures src is loaded and takes a reference on it. Concurrent callers
// for the same src share one injection. A caller whose ctx ends while waiting
// gets ctx.Err() and holds no reference.
func (l *Loader) Acquire(ctx context.Context, src string) error {
	ctx, span := tracer.StartSpan(ctx, "scriptloader.acquire")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("script.src", src))

	for {
		l.mu.Lock()
		e, ok := l.entries[src]
		if !ok {
			e = &entry{state: stateLoading, done: make(chan struct{})}
			l.entries[src] = e
			go l.load(ctx, src, e)
		}

		switch e.state {
		case stateLoaded:
			e.refCount++
			l.mu.Unlock()
			tracer.SetOK(span)
			return nil

		case stateRemoving:
			removed := e.removed
			l.mu.Unlock()
			select {
			case <-removed:
				continue
			case <-ctx.Done():
				tracer.RecordError(span, ctx.Err())
				return ctx.Err()
			}
		}

		// stateLoading: join the in-flight outcome.
		e.waiters++
		done := e.done
		l.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			l.mu.Lock()
			e.waiters--
			retract := l.markRemovingLocked(e)
			l.mu.Unlock()
			if retract {
				l.remove(ctx, src, e)
			}
			tracer.RecordError(span, ctx.Err())
			return ctx.Err()
		}

		l.mu.Lock()
		e.waiters--
		if e.err != nil {
			err := e.err
			l.mu.Unlock()
			tracer.RecordError(span, err)
			return err
		}
		e.refCount++
		l.mu.Unlock()
		tracer.SetOK(span)
		return nil
	}
}

// load performs the injection for e. It is detached from the first caller's
// cancellation so other waiters are not failed by it.
func (l *Loader) load(ctx context.Context, src string, e *entry) {
	lctx := context.WithoutCancel(ctx)
	if l.loadTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(lctx, l.loadTimeout)
		defer cancel()
	}

	start := time.Now()
	err := l.host.InjectScript(lctx, src)

	l.mu.Lock()
	if err != nil {
		e.err = &domain.DomainError{
			Op:        "scriptloader.Acquire",
			Err:       domain.WithCause(domain.ErrResourceLoad, err),
			Detail:    src,
			SubSystem: "scriptloader",
		}
		// Failed loads leave no entry so a later Acquire retries.
		if l.entries[src] == e {
			delete(l.entries, src)
		}
		close(e.done)
		l.mu.Unlock()
		l.logger.Warn("script load failed", "src", src, "error", err)
		return
	}

	e.state = stateLoaded
	close(e.done)
	// Every waiter may have given up while the load was in flight.
	retract := l.markRemovingLocked(e)
	l.mu.Unlock()

	l.logger.Debug("script loaded", "src", src, "duration", time.Since(start))
	if retract {
		l.remove(ctx, src, e)
	}
}

// Release drops one reference on src. When the count reaches zero and nobody
// is waiting to acquire it, the script is removed before Release returns.
// Unmatched releases are no-ops.
func (l *Loader) Release(ctx context.Context, src string) {
	l.mu.Lock()
	e, ok := l.entries[src]
	if !ok || e.refCount == 0 {
		l.mu.Unlock()
		l.logger.Debug("release without matching acquire", "src", src)
		return
	}
	e.refCount--
	retract := l.markRemovingLocked(e)
	l.mu.Unlock()

	if retract {
		l.remove(ctx, src, e)
	}
}

// markRemovingLocked flags a loaded, unreferenced entry for removal and reports
// whether the caller must now remove it. l.mu must be held.
func (l *Loader) markRemovingLocked(e *entry) bool {
	if e.state != stateLoaded || e.refCount > 0 || e.waiters > 0 {
		return false
	}
	e.state = stateRemoving
	e.removed = make(chan struct{})
	return true
}

// remove retracts the script for e. Removal runs even if ctx is already
// cancelled so the page never keeps an unreferenced node.
func (l *Loader) remove(ctx context.Context, src string, e *entry) {
	ctx = context.WithoutCancel(ctx)
	if l.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.loadTimeout)
		defer cancel()
	}
	if err := l.host.RemoveScript(ctx, src); err != nil {
		l.logger.Warn("script removal failed", "src", src, "error", err)
	} else {
		l.logger.Debug("script removed", "src", src)
	}

	l.mu.Lock()
	if l.entries[src] == e {
		delete(l.entries, src)
	}
	close(e.removed)
	l.mu.Unlock()
}

// RefCount reports the current reference count for src.
func (l *Loader) RefCount(src string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[src]; ok {
		return e.refCount
	}
	return 0
}

// Loaded reports whether src is currently injected and ready.
func (l *Loader) Loaded(src string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[src]
	return ok && e.state == stateLoaded
}

// Wait blocks until no removal is in flight or ctx ends.
func (l *Loader) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		var pending chan struct{}
		for _, e := range l.entries {
			if e.state == stateRemoving {
				pending = e.removed
				break
			}
		}
		l.mu.Unlock()
		if pending == nil {
			return nil
		}
		select {
		case <-pending:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
