// Package autherrors defines the failure taxonomy shared by the session store,
// normalizer, refresh coordinator, request pipeline and lifecycle manager.
//
// Every error returned by those components matches exactly one of the
// sentinels below through errors.Is.
package autherrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Authoritative rejections. These always reach the caller.
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountLocked       = errors.New("account locked")
	ErrAccountExists       = errors.New("account already exists")
	ErrInvalidRegistration = errors.New("invalid registration")
	ErrMissingCredential   = errors.New("missing credential")
	ErrSessionExpired      = errors.New("session expired")

	// Transient failures. Session state survives these.
	ErrRefreshUnavailable = errors.New("refresh unavailable")
	ErrServerUnavailable  = errors.New("server unavailable")
	ErrNetworkUnavailable = errors.New("network unavailable")

	// Local failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrRequestFailed      = errors.New("request failed")
)

// StatusError carries the HTTP status and body of a response that was mapped
// onto one of the sentinels.
type StatusError struct {
	StatusCode int
	Body       []byte
	Kind       error
}

func (e *StatusError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("%s: http %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Kind, e.StatusCode, truncate(e.Body, 256))
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

// NewStatusError builds a StatusError of the given kind. A nil kind defaults
// to ErrRequestFailed.
func NewStatusError(statusCode int, body []byte, kind error) *StatusError {
	if kind == nil {
		kind = ErrRequestFailed
	}
	return &StatusError{StatusCode: statusCode, Body: body, Kind: kind}
}

// StatusCode returns the HTTP status recorded in err's chain, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsTransient reports whether err leaves the stored session intact and may
// succeed if tried again later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRefreshUnavailable) ||
		errors.Is(err, ErrServerUnavailable) ||
		errors.Is(err, ErrNetworkUnavailable)
}

// IsServerError reports whether status is in the 5xx range.
func IsServerError(status int) bool {
	return status >= http.StatusInternalServerError && status <= 599
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
