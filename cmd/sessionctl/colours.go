package main

import (
	"errors"

	"github.com/jrsteele09/go-auth-session/autherrors"
)

const (
	Red        = "\033[31m"
	Green      = "\033[32m"
	Yellow     = "\033[33m"
	Cyan       = "\033[36m"
	Gray       = "\033[90m" // Bright black, often appears as gray
	ResetColor = "\033[0m"
)

// statusColour picks the colour an HTTP status is printed in.
func statusColour(status int) string {
	switch {
	case status >= 500:
		return Red
	case status >= 400:
		return Yellow
	case status >= 200 && status < 300:
		return Green
	}
	return Cyan
}

// errorColour separates errors the user can act on from transient ones.
func errorColour(err error) string {
	if autherrors.IsTransient(err) || errors.Is(err, autherrors.ErrStorageUnavailable) {
		return Yellow
	}
	return Red
}
