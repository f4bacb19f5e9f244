package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jrsteele09/go-auth-session/autherrors"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/normalize"
	"github.com/jrsteele09/go-auth-session/oauth2"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/pkg/errors"
)

// idTokenClaims are the profile claims read from a verified id_token.
type idTokenClaims struct {
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// CompleteOAuthCallback finishes a provider redirect whose URL carries the
// tokens, or an error, in its query or fragment.
func (m *Manager) CompleteOAuthCallback(ctx context.Context, callback *url.URL) (*sessions.Session, error) {
	tok, err := oauth2.ParseCallback(callback, m.nowTime())
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.CompleteOAuthCallback] parsing callback")
	}

	creds, err := m.normalizer.NormalizeToken(tok, normalize.Hint{})
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.CompleteOAuthCallback] reading callback tokens")
	}

	if m.verifier != nil && creds.IDToken != "" {
		user, err := m.verifiedUser(ctx, creds.IDToken, creds.User)
		if err != nil {
			return nil, errors.Wrap(err, "[Manager.CompleteOAuthCallback] verifying id_token")
		}
		creds.User = user
	}
	return m.establish(ctx, creds, "[Manager.CompleteOAuthCallback]")
}

func (m *Manager) verifiedUser(ctx context.Context, rawIDToken string, fallback users.User) (users.User, error) {
	idToken, err := m.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return users.User{}, fmt.Errorf("%w: %v", autherrors.ErrInvalidCredentials, err)
	}
	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return users.User{}, fmt.Errorf("%w: %v", autherrors.ErrInvalidCredentials, err)
	}

	roles := claims.Roles
	if len(roles) == 0 {
		roles = fallback.Roles
	}
	return users.New(
		idToken.Subject,
		utils.FirstNonEmpty(claims.Email, fallback.Email),
		utils.FirstNonEmpty(claims.Name, fallback.Name),
		roles...,
	), nil
}
