package interfaces

import "context"

// Identity is the stable user identity yielded by the token verifier.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// TokenVerifier validates a bearer credential and resolves it to an
// identity. The core consumes this; issuance is external.
type TokenVerifier interface {
	// Verify returns the identity for token, or ErrInvalidToken.
	Verify(ctx context.Context, token string) (*Identity, error)
}
