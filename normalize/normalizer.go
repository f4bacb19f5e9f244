// Package normalize turns the many shapes a server uses to say "login
// succeeded" into one set of credentials.
//
// The search is a fixed, ordered walk over known containers and field names,
// so for a given payload the result never depends on map iteration order.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/autherrors"
	"github.com/jrsteele09/go-auth-session/token/jwt"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Hint carries what the caller already knows about the user.
type Hint struct {
	Email string // The email the login call was made with
}

// Credentials is the canonical result of a successful normalization.
type Credentials struct {
	AccessToken  string
	RefreshToken string // Empty when the server issued none
	IDToken      string
	User         users.User
	Synthesized  bool // AccessToken was fabricated in permissive mode
}

// Normalizer is safe for concurrent use.
type Normalizer struct {
	permissive bool
	log        zerolog.Logger
}

type Option func(*Normalizer)

// WithPermissive fabricates an access token instead of failing when none is
// found. It exists for tests against stub servers and must never be enabled
// against a real one.
func WithPermissive() Option {
	return func(n *Normalizer) {
		n.permissive = true
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(n *Normalizer) {
		n.log = l
	}
}

func New(options ...Option) *Normalizer {
	n := &Normalizer{log: log.Logger}
	for _, opt := range options {
		opt(n)
	}
	return n
}

// Normalize decodes raw as JSON and normalizes it.
func (n *Normalizer) Normalize(raw []byte, hint Hint) (*Credentials, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", autherrors.ErrMissingCredential)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: payload is not json: %v", autherrors.ErrMissingCredential, err)
	}
	return n.NormalizeValue(payload, hint)
}

// NormalizeToken canonicalizes an OAuth token, such as one assembled from a
// redirect's query parameters.
func (n *Normalizer) NormalizeToken(tok *oauth2.Token, hint Hint) (*Credentials, error) {
	if tok == nil {
		return nil, fmt.Errorf("%w: no token", autherrors.ErrMissingCredential)
	}
	payload := map[string]any{}
	if tok.AccessToken != "" {
		payload["access_token"] = tok.AccessToken
	}
	if tok.RefreshToken != "" {
		payload["refresh_token"] = tok.RefreshToken
	}
	if id, ok := tok.Extra("id_token").(string); ok && id != "" {
		payload["id_token"] = id
	}
	return n.NormalizeValue(payload, hint)
}

// NormalizeValue normalizes an already decoded JSON value. Only objects can
// carry credentials; anything else fails with ErrMissingCredential.
func (n *Normalizer) NormalizeValue(payload any, hint Hint) (*Credentials, error) {
	root, ok := payload.(map[string]any)
	if !ok || len(root) == 0 {
		return nil, fmt.Errorf("%w: payload is not a non-empty object", autherrors.ErrMissingCredential)
	}

	creds := &Credentials{
		AccessToken:  findString(root, tokenContainers, AccessTokenFields),
		RefreshToken: findString(root, tokenContainers, RefreshTokenFields),
		IDToken:      findString(root, tokenContainers, IDTokenFields),
	}
	if creds.AccessToken == "" {
		if !n.permissive {
			return nil, fmt.Errorf("%w: no access token in response", autherrors.ErrMissingCredential)
		}
		creds.AccessToken = "synthesized-" + uuid.NewString()
		creds.Synthesized = true
		n.log.Warn().Str("email", hint.Email).Msg("no access token in response, synthesized one (permissive mode)")
	}

	creds.User = n.resolveUser(root, creds, hint)
	return creds, nil
}

// resolveUser takes the profile from the payload, fills gaps from the token
// claims, and finally falls back to a placeholder built from the hint.
func (n *Normalizer) resolveUser(root map[string]any, creds *Credentials, hint Hint) users.User {
	u, found := findUser(root)

	if !creds.Synthesized {
		for _, raw := range []string{creds.AccessToken, creds.IDToken} {
			if raw == "" {
				continue
			}
			claims, err := jwt.Decode(raw)
			if err != nil {
				continue
			}
			if cu, ok := claims.User(); ok {
				u = merge(u, cu)
				found = true
				break
			}
		}
	}

	if u.Email == "" {
		u.Email = strings.TrimSpace(hint.Email)
	}
	if !found || u.ID == "" {
		u.ID = PlaceholderID(u.Email)
	}
	return users.New(u.ID, u.Email, u.Name, u.Roles...)
}

// PlaceholderID derives a stable user ID from an email address, for servers
// that never say who logged in.
func PlaceholderID(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String()
}

func merge(primary, fallback users.User) users.User {
	if primary.ID == "" {
		primary.ID = fallback.ID
	}
	if primary.Email == "" {
		primary.Email = fallback.Email
	}
	if primary.Name == "" {
		primary.Name = fallback.Name
	}
	if len(primary.Roles) == 0 {
		primary.Roles = fallback.Roles
	}
	return primary
}

// User looks for a profile in raw without requiring any token, as returned by
// registration endpoints.
func (n *Normalizer) User(raw []byte) (users.User, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return users.User{}, false
	}
	u, found := findUser(root)
	if !found {
		return users.User{}, false
	}
	if u.ID == "" {
		u.ID = PlaceholderID(u.Email)
	}
	return users.New(u.ID, u.Email, u.Name, u.Roles...), true
}
