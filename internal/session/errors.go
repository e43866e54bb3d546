package session

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by Append after the session was finalized.
var ErrSessionClosed = errors.New("session is finalized")

// ErrDuplicateSession is returned by a store when the target destination
// already holds the requested session id.
var ErrDuplicateSession = errors.New("session already exists")

// ErrSessionNotFound is returned by a store when no session has the requested id.
var ErrSessionNotFound = errors.New("session not found")

// CorruptError reports a session whose structural invariants do not hold on
// load: an id gap or reuse, a non-monotonic timestamp, an unknown event type,
// or a malformed payload.
type CorruptError struct {
	SessionID string
	Reason    string
	Err       error
}

func (e *CorruptError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("corrupt session %s: %s", e.SessionID, e.Reason)
	}
	return "corrupt session: " + e.Reason
}

func (e *CorruptError) Unwrap() error { return e.Err }
