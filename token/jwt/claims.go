package jwt

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/users"
)

// ErrOpaqueToken is returned for access tokens that are not decodable JWTs.
var ErrOpaqueToken = errors.New("token is not a decodable jwt")

// Claims is the subset of an access token's payload the client cares about.
// The signature is never checked here: the client only reads its own
// credential to learn when it expires and who it belongs to.
type Claims struct {
	Subject   string
	Email     string
	Name      string
	Roles     []string
	ExpiresAt time.Time // Zero when the token carries no exp claim
	IssuedAt  time.Time
}

// Decode parses rawToken without verification. Tokens that are not three
// dot-separated segments, or whose payload is not JSON, are opaque.
func Decode(rawToken string) (*Claims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if strings.Count(rawToken, ".") != 2 {
		return nil, ErrOpaqueToken
	}

	token, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Join(ErrOpaqueToken, err)
	}

	mc, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, ErrOpaqueToken
	}

	c := &Claims{
		Subject: stringClaim(mc, "sub", "user_id", "uid", "id"),
		Email:   stringClaim(mc, "email", "upn", "preferred_username"),
		Name:    stringClaim(mc, "name", "given_name"),
		Roles:   rolesClaim(mc),
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	return c, nil
}

// ExpiresAt returns the token's expiry. ok is false for opaque tokens and
// for JWTs without an exp claim.
func ExpiresAt(rawToken string) (t time.Time, ok bool) {
	c, err := Decode(rawToken)
	if err != nil || c.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return c.ExpiresAt, true
}

// User derives a minimal profile from the claims. ok is false if the claims
// identify nobody.
func (c *Claims) User() (users.User, bool) {
	u := users.New(c.Subject, c.Email, c.Name, c.Roles...)
	return u, !u.IsZero()
}

func stringClaim(mc jwtlib.MapClaims, names ...string) string {
	for _, n := range names {
		if s, ok := mc[n].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func rolesClaim(mc jwtlib.MapClaims) []string {
	for _, n := range []string{"roles", "role", "groups"} {
		switch v := mc[n].(type) {
		case []any:
			return users.RoleSet(utils.ToStringSlice(v))
		case string:
			return users.RoleSet(strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }))
		}
	}
	return nil
}
