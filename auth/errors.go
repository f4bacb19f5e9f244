package auth

import (
	"net/http"

	"github.com/jrsteele09/go-auth-session/autherrors"
	"github.com/jrsteele09/go-auth-session/pipeline"
)

// loginError maps a non-2xx login response.
func loginError(resp *pipeline.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return autherrors.NewStatusError(resp.StatusCode, resp.Body, autherrors.ErrInvalidCredentials)
	case http.StatusTooManyRequests:
		return autherrors.NewStatusError(resp.StatusCode, resp.Body, autherrors.ErrAccountLocked)
	}
	return autherrors.NewStatusError(resp.StatusCode, resp.Body, autherrors.ErrRequestFailed)
}

// registerError maps a non-2xx registration response.
func registerError(resp *pipeline.Response) error {
	switch resp.StatusCode {
	case http.StatusConflict:
		return autherrors.NewStatusError(resp.StatusCode, resp.Body, autherrors.ErrAccountExists)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return autherrors.NewStatusError(resp.StatusCode, resp.Body, autherrors.ErrInvalidRegistration)
	}
	return autherrors.NewStatusError(resp.StatusCode, resp.Body, autherrors.ErrRequestFailed)
}

// refreshError maps a non-2xx refresh response. Only an explicit rejection
// of the refresh token ends the session.
func refreshError(resp *pipeline.Response) error {
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return autherrors.NewStatusError(resp.StatusCode, resp.Body, autherrors.ErrSessionExpired)
	}
	return autherrors.NewStatusError(resp.StatusCode, resp.Body, autherrors.ErrRefreshUnavailable)
}
