package oauth2

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jrsteele09/go-auth-session/autherrors"
	xoauth2 "golang.org/x/oauth2"
)

// CallbackError is an error reported by the provider on the redirect.
type CallbackError struct {
	Code        string
	Description string
}

func (e *CallbackError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("oauth callback error: %s", e.Code)
	}
	return fmt.Sprintf("oauth callback error: %s - %s", e.Code, e.Description)
}

// Unwrap maps every provider error onto a credential rejection.
func (e *CallbackError) Unwrap() error {
	return autherrors.ErrInvalidCredentials
}

// ParseCallback extracts the token from an OAuth redirect URL. Parameters are
// read from the query and, for implicit-style redirects, the fragment; the
// query wins when both carry a value.
func ParseCallback(u *url.URL, now time.Time) (*xoauth2.Token, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: no callback url", autherrors.ErrMissingCredential)
	}
	params := u.Query()
	if u.Fragment != "" {
		fragment, err := url.ParseQuery(u.Fragment)
		if err == nil {
			for k, v := range fragment {
				if params.Get(k) == "" {
					params[k] = v
				}
			}
		}
	}
	return TokenFromValues(params, now)
}

// TokenFromValues builds a token from callback parameters.
func TokenFromValues(params url.Values, now time.Time) (*xoauth2.Token, error) {
	if code := params.Get(ParamError); code != "" {
		return nil, &CallbackError{Code: code, Description: params.Get(ParamErrorDescription)}
	}

	tok := &xoauth2.Token{
		AccessToken:  params.Get(ParamAccessToken),
		RefreshToken: params.Get(ParamRefreshToken),
		TokenType:    params.Get(ParamTokenType),
	}
	if s := params.Get(ParamExpiresIn); s != "" {
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
			tok.ExpiresIn = secs
			tok.Expiry = now.Add(time.Duration(secs) * time.Second)
		}
	}

	extra := url.Values{}
	if id := params.Get(ParamIDToken); id != "" {
		extra.Set(ParamIDToken, id)
	}
	tok = tok.WithExtra(extra)

	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: callback carried no token", autherrors.ErrMissingCredential)
	}
	return tok, nil
}
