// Package jwttest mints tokens for tests that need a real JWT on the client
// side: access tokens with a known expiry and signed id_tokens.
package jwttest

import (
	"crypto/rsa"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/users"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Creator signs access tokens with a shared secret. The client never checks
// that signature, so the secret only has to be stable within a test.
type Creator struct {
	secret []byte
}

func NewCreator(secret string) *Creator {
	return &Creator{secret: []byte(secret)}
}

// CreateAccessToken returns an HS256 access token for user expiring after ttl.
func (c *Creator) CreateAccessToken(user users.User, ttl time.Duration) (string, error) {
	claims := jwtlib.MapClaims{
		"sub": user.ID,
		"iat": NowTimeFunc().Unix(),
		"exp": NowTimeFunc().Add(ttl).Unix(),
		"jti": uuid.New().String(), // Unique per token, so refreshed tokens always differ
	}
	if user.Email != "" {
		claims["email"] = user.Email
	}
	if user.Name != "" {
		claims["name"] = user.Name
	}
	if len(user.Roles) > 0 {
		claims["roles"] = user.Roles
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(c.secret)
}

// CreateIDToken returns an RS256 OpenID Connect ID token. ID tokens carry
// identity claims only; extra adds or overrides claims such as roles.
func CreateIDToken(key *rsa.PrivateKey, issuer, clientID string, user users.User, ttl time.Duration, extra map[string]any) (string, error) {
	claims := jwtlib.MapClaims{
		"iss":   issuer,
		"sub":   user.ID,
		"aud":   clientID,
		"email": user.Email,
		"name":  user.Name,
		"iat":   NowTimeFunc().Unix(),
		"exp":   NowTimeFunc().Add(ttl).Unix(),
		"jti":   uuid.New().String(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims).SignedString(key)
}
