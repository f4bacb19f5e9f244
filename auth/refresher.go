package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-auth-session/autherrors"
	"github.com/jrsteele09/go-auth-session/normalize"
	"github.com/jrsteele09/go-auth-session/oauth2"
	"github.com/jrsteele09/go-auth-session/pipeline"
	"github.com/jrsteele09/go-auth-session/token/refresh"
)

var _ refresh.Refresher = (*httpRefresher)(nil)

// httpRefresher calls the refresh endpoint. It sends anonymously so a 401
// from the refresh endpoint never triggers another refresh.
type httpRefresher struct {
	pipeline   *pipeline.Pipeline
	path       string
	normalizer *normalize.Normalizer
}

func (r *httpRefresher) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	req := pipeline.NewRequest(http.MethodPost, r.path, oauth2.RefreshRequest{RefreshToken: refreshToken})
	req.Anonymous = true

	resp, err := r.pipeline.Send(ctx, req)
	if err != nil {
		return "", "", err
	}
	if !resp.OK() {
		return "", "", refreshError(resp)
	}

	creds, err := r.normalizer.Normalize(resp.Body, normalize.Hint{})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", autherrors.ErrRefreshUnavailable, err)
	}
	return creds.AccessToken, creds.RefreshToken, nil
}
