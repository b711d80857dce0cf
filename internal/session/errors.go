package session

import "errors"

// Lifecycle error taxonomy. Every error is terminal for the triggering
// call; the only internal retry is the bounded compare-and-set retry
// before ErrConflict is surfaced.
var (
	ErrNotFound          = errors.New("session not found")
	ErrExpired           = errors.New("session expired or terminal")
	ErrCapacityExceeded  = errors.New("session is full")
	ErrForbidden         = errors.New("operation permitted only for the session host")
	ErrNotParticipant    = errors.New("user is not a participant in this session")
	ErrRoleMismatch      = errors.New("role does not match assigned participant role")
	ErrNotActive         = errors.New("session is not active")
	ErrConflict          = errors.New("concurrent update conflict, retries exhausted")
	ErrResourceExhausted = errors.New("could not generate an unused join code")
	ErrAIPresent         = errors.New("session already has an AI participant")
)
