package session

import (
	"context"
	"time"
)

// Store is the durable session store adapter. Implementations must be safe
// for concurrent use, but serializing writes to a single session is the
// Manager's job, not the store's.
//
// Implementations: MemStore (tests, local development), sqlite.Store
// (durable).
type Store interface {
	// Load returns the stored session, or an error wrapping core.ErrNotFound.
	Load(ctx context.Context, sessionID string) (*Session, error)

	// Save persists the full session state, replacing any previous version.
	Save(ctx context.Context, s *Session) error

	// Delete removes a session. Deleting an absent session is a no-op.
	Delete(ctx context.Context, sessionID string) error

	// ExpiredIDs returns the identifiers of sessions whose TTL elapsed
	// before now.
	ExpiredIDs(ctx context.Context, now time.Time) ([]string, error)
}
