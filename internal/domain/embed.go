package domain

import (
	"context"
	"time"
)

// Stage is the lifecycle position of an embedding session.
type Stage string

const (
	StageIdle            Stage = "idle"
	StageFetchingURL     Stage = "fetching_url"
	StageLoadingScript   Stage = "loading_script"
	StageCreatingContext Stage = "creating_context"
	StageMounted         Stage = "mounted"
	StageError           Stage = "error"
	StageDisposed        Stage = "disposed"
)

// stageOrder gives the forward position of each non-error stage.
var stageOrder = map[Stage]int{
	StageIdle:            0,
	StageFetchingURL:     1,
	StageLoadingScript:   2,
	StageCreatingContext: 3,
	StageMounted:         4,
	StageDisposed:        5,
}

// Terminal reports whether no further transition can leave s.
func (s Stage) Terminal() bool { return s == StageDisposed }

// Active reports whether s holds or may still acquire embed resources.
func (s Stage) Active() bool { return s != StageDisposed }

// CanTransition reports whether the state machine permits from -> to.
// Stages move strictly forward; Error is reachable from every working stage;
// Disposed is reachable from every stage but itself.
func CanTransition(from, to Stage) bool {
	switch {
	case from == StageDisposed:
		return false
	case to == StageDisposed:
		return true
	case to == StageError:
		return from == StageFetchingURL || from == StageLoadingScript ||
			from == StageCreatingContext || from == StageMounted
	case from == StageError:
		return false
	}
	return stageOrder[to] == stageOrder[from]+1
}

// EmbedSession is a point-in-time view of one embedding session.
type EmbedSession struct {
	ID        string    `json:"id"`
	URL       string    `json:"url,omitempty"`
	Stage     Stage     `json:"stage"`
	Err       error     `json:"-"`
	Notice    string    `json:"notice,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// StageChange describes one state machine transition.
type StageChange struct {
	SessionID string
	From      Stage
	To        Stage
	Err       error
	At        time.Time
}

// EventChannel namespaces events raised by the embedding capability.
type EventChannel string

const (
	// ChannelFrame carries frame lifecycle events (FRAME_MOUNTED, FRAME_LOADED, ...).
	ChannelFrame EventChannel = "frame"
	// ChannelContent carries experience content events (CONTENT_LOADED, ...).
	ChannelContent EventChannel = "content"
)

// Well-known event names emitted by the QuickSight embedding SDK.
const (
	EventFrameMounted  = "FRAME_MOUNTED"
	EventFrameLoaded   = "FRAME_LOADED"
	EventContentLoaded = "CONTENT_LOADED"
	EventErrorOccurred = "ERROR_OCCURRED"
)

// EmbedEvent is one event delivered by the embedding capability.
type EmbedEvent struct {
	SessionID string            `json:"session_id,omitempty"`
	Channel   EventChannel      `json:"channel"`
	Name      string            `json:"name"`
	Message   map[string]any    `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// EmbedEventHandler receives events from one channel.
type EmbedEventHandler func(EmbedEvent)

// FrameOptions configures the frame hosting the embedded experience.
type FrameOptions struct {
	URL       string
	Container string
	Height    string
	Width     string
	OnChange  EmbedEventHandler
}

// ContentOptions configures the embedded experience content.
type ContentOptions struct {
	OnMessage EmbedEventHandler
}

// ScriptHost injects and retracts external script resources in a page.
type ScriptHost interface {
	// InjectScript adds the script and blocks until it reports loaded or failed.
	InjectScript(ctx context.Context, src string) error
	// RemoveScript retracts a previously injected script.
	RemoveScript(ctx context.Context, src string) error
}

// CapabilityResolver exposes the embedding library once its script is loaded.
type CapabilityResolver interface {
	Capability(ctx context.Context) (EmbeddingCapability, error)
}

// EmbeddingCapability is the entry point of the third-party embedding library.
type EmbeddingCapability interface {
	CreateContext(ctx context.Context) (EmbeddingContext, error)
}

// EmbeddingContext mounts experiences into containers.
type EmbeddingContext interface {
	Mount(ctx context.Context, frame FrameOptions, content ContentOptions) (Experience, error)
}

// Experience is a mounted embedded experience.
type Experience interface {
	// Unmount tears the experience out of its container.
	Unmount(ctx context.Context) error
}

// Page is a host that can both run scripts and resolve the capability they install.
type Page interface {
	ScriptHost
	CapabilityResolver
	Close() error
}
