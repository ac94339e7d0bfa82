package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what the sync layer needs to know about the bearer token it
// was given: who the session belongs to and when the token stops working.
// The token is issued and verified elsewhere; we only read its claims.
type Identity struct {
	Subject   string
	ExpiresAt time.Time
}

// ParseIdentity extracts the subject and expiry from a JWT without
// verifying the signature. Verification belongs to the backend that issued
// the token.
func ParseIdentity(token string) (Identity, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	id := Identity{}
	if sub, err := claims.GetSubject(); err == nil {
		id.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if id.Subject == "" {
		return Identity{}, fmt.Errorf("token has no subject claim")
	}
	return id, nil
}

// Expired reports whether the identity's token has lapsed at now. Tokens
// without an expiry never expire from our point of view.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
