// Package uxerror translates raw errors into user-facing notices with
// recovery hints for the TUI.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"quickchat/internal/adapter/tui/theme"
	"quickchat/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Connection Failed"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text (for debug)
}

// Render formats the FriendlyError for display.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	kind  error
	title string
	hints []string
}

// patterns is ordered: embed stage sentinels wrap lower-level causes and must
// match first.
var patterns = []errorPattern{
	{domain.ErrURLAcquisitionFailed, "Embed Access Failed", []string{"Check that the backend is running", "Verify the QuickSight user ARN and allowed domains"}},
	{domain.ErrScriptLoadFailed, "Embedding Library Unavailable", []string{"Check access to the SDK host", "Set embed.sdk_src to a reachable bundle"}},
	{domain.ErrMountFailed, "Embedded Experience Failed", []string{"Toggle the view to retry", "Check that the host page allows the QuickSight origin"}},
	{domain.ErrNetwork, "Connection Failed", []string{"Check your connection", "Verify api.base_url or QUICKCHAT_API_BASE_URL"}},
	{domain.ErrRemote, "Server Error", []string{"Try again in a moment", "Check the backend logs"}},
	{domain.ErrProtocol, "Unexpected Response", []string{"Check that the client and backend versions match"}},
	{domain.ErrRateLimit, "Rate Limited", []string{"Wait a moment before retrying"}},
}

// Humanize converts a raw error into a FriendlyError. The message is the same
// notice the chat panel shows.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if errors.Is(err, p.kind) {
			return FriendlyError{
				Title:   p.title,
				Message: domain.UserNotice(err),
				Hints:   p.hints,
				Raw:     err.Error(),
			}
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: domain.UserNotice(err),
		Hints:   []string{"Try again", "Set QUICKCHAT_LOGGER_LEVEL=debug for details"},
		Raw:     err.Error(),
	}
}
