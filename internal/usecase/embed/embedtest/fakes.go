// Package embedtest provides in-memory fakes of the collaborators of an embed
// session for use in tests.
package embedtest

import (
	"context"
	"errors"
	"sync"

	"quickchat/internal/domain"
)

// URLs is a fake embed URL source. When Gate is non-nil each fetch waits for it.
type URLs struct {
	mu    sync.Mutex
	URL   string
	Err   error
	Gate  chan struct{}
	calls int
	// Started receives once per fetch, without blocking.
	Started chan struct{}
}

// NewURLs returns a source that answers url.
func NewURLs(url string) *URLs {
	return &URLs{URL: url, Started: make(chan struct{}, 16)}
}

func (u *URLs) FetchEmbedURL(ctx context.Context) (domain.EmbedURL, error) {
	u.mu.Lock()
	u.calls++
	gate, url, err := u.Gate, u.URL, u.Err
	u.mu.Unlock()
	select {
	case u.Started <- struct{}{}:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.EmbedURL{}, domain.WithCause(domain.ErrNetwork, ctx.Err())
		}
	}
	if err != nil {
		return domain.EmbedURL{}, err
	}
	return domain.EmbedURL{EmbedURL: url}, nil
}

// Calls returns the number of fetches issued.
func (u *URLs) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

// Scripts is a fake reference-counted script loader. When Gate is non-nil each
// Acquire waits for it, ignoring cancellation, as a real in-flight load would.
type Scripts struct {
	mu       sync.Mutex
	Err      error
	Gate     chan struct{}
	acquired int
	released int
	refs     map[string]int
	Started  chan struct{}
}

// NewScripts returns an empty loader.
func NewScripts() *Scripts {
	return &Scripts{refs: make(map[string]int), Started: make(chan struct{}, 16)}
}

func (s *Scripts) Acquire(_ context.Context, src string) error {
	s.mu.Lock()
	gate, err := s.Gate, s.Err
	s.mu.Unlock()
	select {
	case s.Started <- struct{}{}:
	default:
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired++
	s.refs[src]++
	return nil
}

func (s *Scripts) Release(_ context.Context, src string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
	if s.refs[src] > 0 {
		s.refs[src]--
	}
}

// Counts returns successful acquires and releases.
func (s *Scripts) Counts() (acquired, released int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired, s.released
}

// Refs returns the outstanding references on src.
func (s *Scripts) Refs(src string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[src]
}

// Capability fakes the whole capability chain: resolver, capability, context.
type Capability struct {
	mu           sync.Mutex
	ResolveErr   error
	CreateErr    error
	MountErr     error
	UnmountErr   error
	MountGate    chan struct{}
	frames       []domain.FrameOptions
	contents     []domain.ContentOptions
	experiences  []*Experience
	contextCalls int
	// OnMount, if set, runs inside Mount with the options passed to it.
	OnMount func(domain.FrameOptions, domain.ContentOptions)
}

// NewCapability returns a capability whose every step succeeds.
func NewCapability() *Capability { return &Capability{} }

func (c *Capability) Capability(context.Context) (domain.EmbeddingCapability, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ResolveErr != nil {
		return nil, c.ResolveErr
	}
	return c, nil
}

func (c *Capability) CreateContext(context.Context) (domain.EmbeddingContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contextCalls++
	if c.CreateErr != nil {
		return nil, c.CreateErr
	}
	return (*embeddingContext)(c), nil
}

type embeddingContext Capability

func (e *embeddingContext) Mount(ctx context.Context, frame domain.FrameOptions, content domain.ContentOptions) (domain.Experience, error) {
	c := (*Capability)(e)
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.contents = append(c.contents, content)
	gate, mountErr, unmountErr, onMount := c.MountGate, c.MountErr, c.UnmountErr, c.OnMount
	c.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if onMount != nil {
		onMount(frame, content)
	}
	if mountErr != nil {
		return nil, mountErr
	}
	exp := &Experience{err: unmountErr}
	c.mu.Lock()
	c.experiences = append(c.experiences, exp)
	c.mu.Unlock()
	return exp, nil
}

// Frames returns the frame options of every mount call.
func (c *Capability) Frames() []domain.FrameOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.FrameOptions(nil), c.frames...)
}

// Contents returns the content options of every mount call.
func (c *Capability) Contents() []domain.ContentOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ContentOptions(nil), c.contents...)
}

// Experiences returns every experience mounted so far.
func (c *Capability) Experiences() []*Experience {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Experience(nil), c.experiences...)
}

// ContextCalls returns the number of CreateContext calls.
func (c *Capability) ContextCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contextCalls
}

// Experience is a fake mounted experience.
type Experience struct {
	mu       sync.Mutex
	err      error
	unmounts int
}

func (e *Experience) Unmount(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unmounts++
	return e.err
}

// Unmounts returns the number of Unmount calls.
func (e *Experience) Unmounts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unmounts
}

// Recorder collects stage changes and events delivered to an observer.
type Recorder struct {
	mu      sync.Mutex
	changes []domain.StageChange
	events  []domain.EmbedEvent
}

func (r *Recorder) StageChanged(c domain.StageChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *Recorder) EventReceived(e domain.EmbedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Stages returns the sequence of stages entered, starting with the first From.
func (r *Recorder) Stages() []domain.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return nil
	}
	out := []domain.Stage{r.changes[0].From}
	for _, c := range r.changes {
		out = append(out, c.To)
	}
	return out
}

// Changes returns the recorded transitions.
func (r *Recorder) Changes() []domain.StageChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StageChange(nil), r.changes...)
}

// Events returns the recorded capability events.
func (r *Recorder) Events() []domain.EmbedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.EmbedEvent(nil), r.events...)
}

// ErrBoom is a generic failure for tests.
var ErrBoom = errors.New("boom")
