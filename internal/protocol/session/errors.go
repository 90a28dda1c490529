package session

import "errors"

var (
	// ErrSessionMismatch is informational: a write named another session and
	// replaced the active one.
	ErrSessionMismatch = errors.New("session: session id mismatch")
	ErrStaleSession    = errors.New("session: stale session")
	ErrTurnTimeout     = errors.New("session: plugin turn timed out")
	ErrNoController    = errors.New("session: no controller context")
)
