package websocket

import "errors"

var (
	ErrNilConnection              = errors.New("connection is nil")
	ErrConnectionNotAuthenticated = errors.New("connection is not authenticated")
	ErrConnectionClosed           = errors.New("connection is closed")
	ErrInvalidJSON                = errors.New("failed to marshal message to JSON")
	ErrWriteTimeout               = errors.New("write timed out")
)
