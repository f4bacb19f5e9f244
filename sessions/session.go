package sessions

import (
	"time"

	"github.com/jrsteele09/go-auth-session/token/jwt"
	"github.com/jrsteele09/go-auth-session/users"
)

// Session is the authoritative authentication state. A Session value only
// exists while logged in: AccessToken is non-empty and User is populated.
type Session struct {
	AccessToken  string     // Short-lived bearer credential
	RefreshToken string     // Optional; empty when the server issued none
	ExpiresAt    time.Time  // From the access token's exp claim; zero when unknown
	User         users.User // Fixed for the lifetime of the session
}

// New builds a session and derives ExpiresAt from the access token.
func New(accessToken, refreshToken string, user users.User) *Session {
	s := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.Clone(),
	}
	s.ExpiresAt, _ = jwt.ExpiresAt(accessToken)
	return s
}

// HasExpiry reports whether the access token's expiry is known.
func (s *Session) HasExpiry() bool {
	return !s.ExpiresAt.IsZero()
}

// ExpiresWithin reports whether the access token expires within d of now.
// Sessions with an opaque token are trusted until the server says otherwise.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if !s.HasExpiry() {
		return false
	}
	return !now.Add(d).Before(s.ExpiresAt)
}

// CanRefresh reports whether a refresh token is available.
func (s *Session) CanRefresh() bool {
	return s.RefreshToken != ""
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}
