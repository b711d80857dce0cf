package router

import "errors"

var (
	ErrSenderNotAttached     = errors.New("sender has no attached connection")
	ErrRecipientNotAttached  = errors.New("recipient has no attached connection in this session")
	ErrSessionNotOpen        = errors.New("session is not open for live messaging")
	ErrKindReserved          = errors.New("kind is emitted by the hub, not accepted from clients")
	ErrRateLimitExceeded     = errors.New("message rate limit exceeded")
)
