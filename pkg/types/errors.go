package types

import "errors"

// Validation errors shared across components.
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-64 characters, alphanumeric plus underscore/hyphen")
	ErrInvalidSessionName = errors.New("session name must be 1-200 characters")
	ErrInvalidJoinCode    = errors.New("join code must be 4-10 uppercase alphanumeric characters")
	ErrInvalidCapacity    = errors.New("max participants must be at least 2")
	ErrInvalidDuration    = errors.New("duration must be at least 1 minute")
	ErrInvalidRole        = errors.New("role must be one of human, ai, judge")
	ErrUnknownKind        = errors.New("unknown kind")
)
