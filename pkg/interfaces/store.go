package interfaces

import (
	"context"

	"parlor/pkg/types"
)

// SessionStore is the single mutable source of truth for session and
// participant state. All lifecycle mutations are expressed as
// read-modify-write cycles against it, with the session version field
// as the sole serialization point: Put succeeds only when the stored
// version still matches the one the caller read, so two racing joins
// for the last slot cannot both commit.
//
// Implementations hand out deep copies; a returned *types.Session is
// never aliased to the authoritative record.
type SessionStore interface {
	// GetByID returns the session, or ErrSessionNotFound.
	GetByID(ctx context.Context, sessionID string) (*types.Session, error)

	// GetByJoinCode resolves a join code among non-terminal sessions
	// only, or ErrSessionNotFound. Codes held by terminal sessions are
	// considered recycled.
	GetByJoinCode(ctx context.Context, joinCode string) (*types.Session, error)

	// Put commits a session atomically. A session with Version 0 is an
	// insert and fails with ErrJoinCodeInUse if its join code is held
	// by a non-terminal session. Otherwise the write succeeds only if
	// the stored version equals session.Version, failing with
	// ErrVersionConflict when a concurrent update won the race. On
	// success the stored (and returned) version is session.Version+1.
	Put(ctx context.Context, session *types.Session) (*types.Session, error)

	// ListByParticipant returns all non-terminal sessions in which
	// userID holds a membership record, ordered by CreatedAt descending.
	ListByParticipant(ctx context.Context, userID string) ([]*types.Session, error)

	// ListOpen returns all non-terminal sessions, for the expiry sweep.
	ListOpen(ctx context.Context) ([]*types.Session, error)

	// Delete removes a session record entirely. Used for terminal
	// garbage collection; missing sessions are not an error.
	Delete(ctx context.Context, sessionID string) error

	// HealthCheck verifies backend connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
