package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared by every subsystem.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrRateLimit    = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid  = fmt.Errorf("authentication failed")
)

// Exchange errors. Every failure of a backend exchange maps to exactly one of these.
var (
	ErrNetwork  = fmt.Errorf("network error")
	ErrProtocol = fmt.Errorf("protocol error")
	ErrRemote   = fmt.Errorf("remote error")
)

// Script loading errors.
var (
	ErrResourceLoad = fmt.Errorf("resource load failed")
)

// Embed session errors.
var (
	ErrURLAcquisitionFailed = fmt.Errorf("embed url acquisition failed")
	ErrScriptLoadFailed     = fmt.Errorf("embedding script load failed")
	ErrMountFailed          = fmt.Errorf("embedded experience mount failed")
	ErrInvalidState         = fmt.Errorf("invalid state")
	ErrCapabilityMissing    = fmt.Errorf("embedding capability not available")
)

// Backend errors.
var (
	ErrProviderError = fmt.Errorf("provider error")
	ErrCircuitOpen   = fmt.Errorf("circuit open")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Exchange.FetchEmbedURL")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "exchange", "embed"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CauseError joins a stage sentinel with the lower-level error that produced it,
// so errors.Is matches both and the message carries both.
type CauseError struct {
	Kind  error
	Cause error
}

func (e *CauseError) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

// Unwrap exposes both the stage sentinel and the cause to errors.Is / errors.As.
func (e *CauseError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// WithCause returns an error matching kind that also wraps cause.
func WithCause(kind, cause error) error {
	return &CauseError{Kind: kind, Cause: cause}
}

// RemoteStatusError carries the HTTP status of a non-success backend response.
type RemoteStatusError struct {
	StatusCode int
	Body       string
}

func (e *RemoteStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Is reports ErrRemote so callers can match the category directly.
func (e *RemoteStatusError) Is(target error) bool { return target == ErrRemote }

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
	CodeRateLimit            ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid          ErrorCode = "AUTH_INVALID"
	CodeNetwork              ErrorCode = "NETWORK"
	CodeProtocol             ErrorCode = "PROTOCOL"
	CodeRemote               ErrorCode = "REMOTE"
	CodeResourceLoad         ErrorCode = "RESOURCE_LOAD"
	CodeURLAcquisitionFailed ErrorCode = "URL_ACQUISITION_FAILED"
	CodeScriptLoadFailed     ErrorCode = "SCRIPT_LOAD_FAILED"
	CodeMountFailed          ErrorCode = "MOUNT_FAILED"
	CodeInvalidState         ErrorCode = "INVALID_STATE"
	CodeCapabilityMissing    ErrorCode = "CAPABILITY_MISSING"
	CodeProviderError        ErrorCode = "PROVIDER_ERROR"
	CodeCircuitOpen          ErrorCode = "CIRCUIT_OPEN"

	// Subsystem-specific codes.
	CodeQuickSightError ErrorCode = "QUICKSIGHT_ERROR"
	CodeBedrockError    ErrorCode = "BEDROCK_ERROR"
	CodeBrowserTimeout  ErrorCode = "BROWSER_TIMEOUT"
)

// codeOrder fixes the lookup order for wrapped errors. Embed stage sentinels come
// first because they wrap lower-level causes.
var codeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrURLAcquisitionFailed, CodeURLAcquisitionFailed},
	{ErrScriptLoadFailed, CodeScriptLoadFailed},
	{ErrMountFailed, CodeMountFailed},
	{ErrInvalidState, CodeInvalidState},
	{ErrCapabilityMissing, CodeCapabilityMissing},
	{ErrResourceLoad, CodeResourceLoad},
	{ErrNetwork, CodeNetwork},
	{ErrProtocol, CodeProtocol},
	{ErrRemote, CodeRemote},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrProviderError, CodeProviderError},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrTimeout, CodeTimeout},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrConfigLoad, CodeConfigLoad},
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrProviderError: {
		"quicksight": CodeQuickSightError,
		"bedrock":    CodeBedrockError,
	},
	ErrTimeout: {
		"browser": CodeBrowserTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var de *DomainError
	if errors.As(err, &de) && de.SubSystem != "" {
		for sentinel, subsysMap := range subSystemCodeMap {
			if !errors.Is(de.Err, sentinel) {
				continue
			}
			if code, ok := subsysMap[de.SubSystem]; ok {
				return code
			}
		}
	}

	for _, entry := range codeOrder {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e)
}
