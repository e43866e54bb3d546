package session

import "context"

// Store persists finalized and in-progress sessions at some destination
// (directory of JSON files, sqlite archive, ...). Implementations must
// surface ErrDuplicateSession from Create and validate invariants on Get.
type Store interface {
	// Create registers a new open session under the caller-supplied id.
	Create(ctx context.Context, sessionID string, metadata map[string]string) (*Session, error)

	// Get retrieves and validates a stored session.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Save persists the session's current state.
	Save(ctx context.Context, s *Session) error

	// List returns the ids of every stored session.
	List(ctx context.Context) ([]string, error)

	// Delete removes a stored session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error
}
