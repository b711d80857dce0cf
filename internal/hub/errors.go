package hub

import "errors"

var (
	ErrUnauthorized = errors.New("not authorized to attach to this session")
)
