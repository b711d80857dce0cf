package auth

import (
	"context"
	"os"
	"strings"
	"sync"

	"parlor/pkg/interfaces"
)

// StaticVerifier maps fixed tokens to identities. It backs development
// deployments without an identity provider and the gateway tests. In
// passthrough mode an unregistered token resolves to an identity whose
// user ID is the token itself, matching the classic local-dev setup
// where each client just presents its own name.
type StaticVerifier struct {
	mu          sync.RWMutex
	tokens      map[string]interfaces.Identity
	passthrough bool
}

// NewStaticVerifier creates an empty static verifier.
func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{tokens: make(map[string]interfaces.Identity)}
}

// NewStaticVerifierFromEnv reads PARLOR_STATIC_TOKENS, a comma list of
// token=user_id pairs. When the variable is unset the verifier runs in
// passthrough mode.
func NewStaticVerifierFromEnv() *StaticVerifier {
	v := NewStaticVerifier()

	raw := os.Getenv("PARLOR_STATIC_TOKENS")
	if raw == "" {
		v.passthrough = true
		return v
	}

	for _, pair := range strings.Split(raw, ",") {
		token, userID, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || token == "" || userID == "" {
			continue
		}
		v.tokens[token] = interfaces.Identity{UserID: userID}
	}
	return v
}

// Add registers a token for identity.
func (v *StaticVerifier) Add(token string, identity interfaces.Identity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = identity
}

// Verify resolves token against the registered set.
func (v *StaticVerifier) Verify(ctx context.Context, token string) (*interfaces.Identity, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	identity, exists := v.tokens[token]
	if !exists {
		if v.passthrough && token != "" {
			return &interfaces.Identity{UserID: token}, nil
		}
		return nil, interfaces.ErrInvalidToken
	}
	return &identity, nil
}
