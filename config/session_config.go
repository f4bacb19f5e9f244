package config

import "time"

// Endpoint paths, relative to the API base URL.
const (
	LoginPathVar    = "LOGIN_PATH"
	RefreshPathVar  = "REFRESH_PATH"
	RegisterPathVar = "REGISTER_PATH"
	LogoutPathVar   = "LOGOUT_PATH"
)

type SessionConfig interface {
	GetExpiryLeeway() time.Duration
	GetLoginPath() string
	GetRefreshPath() string
	GetRegisterPath() string
	GetLogoutPath() string
}

type Session struct {
	o *overrides
}

var _ SessionConfig = Session{}

// GetExpiryLeeway is how close to expiry an access token may be before
// CheckSession refreshes it proactively.
func (s Session) GetExpiryLeeway() time.Duration {
	return durationValue(s.o.lookup("SESSION_EXPIRY_LEEWAY", ""), 30*time.Second)
}

func (s Session) GetLoginPath() string {
	return s.o.lookup(LoginPathVar, "/api/auth/login")
}

func (s Session) GetRefreshPath() string {
	return s.o.lookup(RefreshPathVar, "/api/auth/refresh")
}

func (s Session) GetRegisterPath() string {
	return s.o.lookup(RegisterPathVar, "/api/auth/register")
}

func (s Session) GetLogoutPath() string {
	return s.o.lookup(LogoutPathVar, "/api/auth/logout")
}
