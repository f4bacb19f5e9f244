package refresh

import (
	"context"

	"github.com/jrsteele09/go-auth-session/sessions"
)

// Refresher exchanges a refresh token for new credentials with one network
// call. An empty returned refresh token means the old one stays valid.
//
// Errors matching autherrors.ErrSessionExpired or ErrInvalidCredentials mean
// the server rejected the refresh token; anything else is treated as
// transient.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, err error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (string, string, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	return f(ctx, refreshToken)
}

// Store is the part of sessions.Store the coordinator needs.
type Store interface {
	Get(ctx context.Context) (*sessions.Session, error)
	UpdateTokens(ctx context.Context, accessToken, refreshToken string) (*sessions.Session, error)
	Clear(ctx context.Context) error
}

var _ Store = (*sessions.Store)(nil)
