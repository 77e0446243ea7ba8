package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated user this session acts as. UserID is not
// carried in the token (the subject is the username) and is resolved against
// the user listing after login.
type Identity struct {
	UserID      string
	Username    string
	DisplayName string
}

var ErrTokenExpired = errors.New("access token is expired")

// ParseIdentity extracts the session identity from a bearer token without
// verifying the signature. Verification is the server's job; the client only
// needs the subject claim, and rejecting an already-expired token locally
// saves a guaranteed handshake failure.
func ParseIdentity(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return Identity{}, fmt.Errorf("parse access token: %w", err)
	}

	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return Identity{}, errors.New("access token has no subject")
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if exp.Before(time.Now()) {
			return Identity{}, ErrTokenExpired
		}
	}

	return Identity{Username: subject}, nil
}
