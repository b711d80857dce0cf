package interfaces

import "errors"

// Errors shared across component boundaries.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrVersionConflict = errors.New("session version conflict")
	ErrJoinCodeInUse   = errors.New("join code already in use")
	ErrInvalidToken    = errors.New("invalid or expired token")
)
