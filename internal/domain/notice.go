package domain

import "errors"

// notices maps error categories to the single user-visible sentence shown for
// them. The first match in order wins, so stage sentinels shadow their causes.
var notices = []struct {
	err    error
	notice string
}{
	{ErrURLAcquisitionFailed, "Could not get access to the embedded experience. Please try again."},
	{ErrScriptLoadFailed, "The embedding library could not be loaded."},
	{ErrMountFailed, "The embedded experience failed to open."},
	{ErrInvalidState, "The embedded experience is already starting."},
	{ErrNetwork, "Could not reach the server. Check your connection and try again."},
	{ErrRemote, "The server could not answer right now. Please try again."},
	{ErrProtocol, "The server sent a response we could not understand."},
	{ErrRateLimit, "Too many requests. Please wait a moment."},
}

// UserNotice returns the user-visible message for err. Unknown errors get a
// generic sentence; the cause is for logs only.
func UserNotice(err error) string {
	if err == nil {
		return ""
	}
	for _, n := range notices {
		if errors.Is(err, n.err) {
			return n.notice
		}
	}
	return "Something went wrong. Please try again."
}
