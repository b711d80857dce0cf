package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"parlor/pkg/interfaces"
)

// JWTVerifier validates HMAC-signed bearer tokens from the identity
// provider and resolves them to a stable user identity. Token issuance
// is external; the core only consumes.
type JWTVerifier struct {
	signingKey []byte
	issuer     string
}

// NewJWTVerifier creates a verifier for tokens signed with signingKey.
// An empty issuer disables the issuer check.
func NewJWTVerifier(signingKey []byte, issuer string) (*JWTVerifier, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}
	return &JWTVerifier{signingKey: signingKey, issuer: issuer}, nil
}

// Verify parses and validates tokenString, returning the identity from
// its claims.
func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (*interfaces.Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, interfaces.ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, interfaces.ErrInvalidToken
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return nil, interfaces.ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if name == "" {
		name = email
	}

	return &interfaces.Identity{
		UserID: userID,
		Email:  email,
		Name:   name,
	}, nil
}
