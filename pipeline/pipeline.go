// Package pipeline sends API requests with the stored access token, retries
// idempotent requests on 5xx with exponential backoff and replays a request
// once after a 401 triggered a token refresh.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/autherrors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 250 * time.Millisecond
	DefaultLedgerTTL   = time.Minute
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// TokenSource supplies the current access token, "" when logged out.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Refresher returns an access token newer than stale.
type Refresher interface {
	EnsureFresh(ctx context.Context, stale string) (string, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Pipeline struct {
	baseURL     string
	doer        Doer
	tokens      TokenSource
	refresher   Refresher
	ledger      *Ledger
	maxAttempts int
	baseDelay   time.Duration
	ledgerTTL   time.Duration
	sleep       SleepFunc
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Pipeline)

func WithTokenSource(tokens TokenSource) Option {
	return func(p *Pipeline) {
		p.tokens = tokens
	}
}

func WithRefresher(r Refresher) Option {
	return func(p *Pipeline) {
		p.refresher = r
	}
}

func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.baseDelay = d
		}
	}
}

func WithLedgerTTL(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.ledgerTTL = d
		}
	}
}

func WithSleep(sleep SleepFunc) Option {
	return func(p *Pipeline) {
		p.sleep = sleep
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New returns a pipeline sending requests relative to baseURL. A nil doer
// uses http.DefaultClient.
func New(baseURL string, doer Doer, options ...Option) *Pipeline {
	if doer == nil {
		doer = http.DefaultClient
	}
	p := &Pipeline{
		baseURL:     baseURL,
		doer:        doer,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		ledgerTTL:   DefaultLedgerTTL,
		sleep:       sleepContext,
		log:         log.Logger,
	}
	for _, opt := range options {
		opt(p)
	}
	p.ledger = NewLedger(p.baseDelay, p.ledgerTTL)
	return p
}

func (p *Pipeline) Ledger() *Ledger {
	return p.ledger
}

// SetRefresher wires the refresher after construction, for refreshers that
// themselves send through this pipeline.
func (p *Pipeline) SetRefresher(r Refresher) {
	p.refresher = r
}

// Send executes req. Non-2xx responses other than exhausted 5xx are returned
// as a Response for the caller to interpret.
//
// Errors: ErrNetworkUnavailable when no response arrived, ErrServerUnavailable
// once the 5xx budget is spent or the request may not be retried, and the
// refresher's error (ErrSessionExpired, ErrRefreshUnavailable) when a 401
// could not be recovered.
func (p *Pipeline) Send(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("[Pipeline.Send] nil request")
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	body, contentType, err := req.encodeBody()
	if err != nil {
		return nil, err
	}

	target := req.target(p.baseURL)
	signature := Signature(req.Method, target)
	requestID := uuid.NewString()
	logger := p.log.With().Str("method", req.Method).Str("url", target).Str("request_id", requestID).Logger()

	var (
		token     string
		freshened bool
	)
	for {
		if !req.Anonymous && !freshened && p.tokens != nil {
			if token, err = p.tokens.AccessToken(ctx); err != nil {
				return nil, err
			}
		}

		httpReq, err := p.newHTTPRequest(ctx, req, target, body, contentType, token, requestID)
		if err != nil {
			return nil, err
		}

		httpResp, err := p.doer.Do(httpReq)
		var resp *Response
		if err == nil {
			resp, err = readResponse(httpResp)
		}
		if err != nil {
			p.ledger.Forget(signature)
			if ctxErr := ctx.Err(); ctxErr != nil {
				p.metrics.Request(metrics.OutcomeCancelled)
				return nil, ctxErr
			}
			p.metrics.Request(metrics.OutcomeNetworkUnavailable)
			logger.Debug().Err(err).Msg("no response")
			return nil, fmt.Errorf("%w: %s: %v", autherrors.ErrNetworkUnavailable, signature, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !req.Anonymous && !freshened && p.refresher != nil:
			freshened = true
			logger.Debug().Msg("unauthorized, waiting for fresh token")
			fresh, err := p.refresher.EnsureFresh(ctx, token)
			if err != nil {
				p.ledger.Forget(signature)
				p.metrics.Request(outcomeOf(err))
				return nil, err
			}
			token = fresh

		case autherrors.IsServerError(resp.StatusCode):
			entry := p.ledger.Record(signature)
			if !req.retryable() || entry.Attempts >= p.maxAttempts {
				p.ledger.Forget(signature)
				p.metrics.Request(metrics.OutcomeServerUnavailable)
				logger.Warn().Int("status", resp.StatusCode).Int("attempts", entry.Attempts).Msg("giving up")
				return nil, autherrors.NewStatusError(resp.StatusCode, resp.Body, autherrors.ErrServerUnavailable)
			}
			p.metrics.Retry()
			logger.Debug().Int("status", resp.StatusCode).Int("attempt", entry.Attempts).Dur("delay", entry.NextDelay).Msg("retrying")
			if err := p.sleep(ctx, entry.NextDelay); err != nil {
				p.ledger.Forget(signature)
				p.metrics.Request(metrics.OutcomeCancelled)
				return nil, err
			}

		default:
			p.ledger.Forget(signature)
			if resp.OK() {
				p.metrics.Request(metrics.OutcomeOK)
			} else {
				p.metrics.Request(metrics.OutcomeClientError)
			}
			return resp, nil
		}
	}
}

func (p *Pipeline) newHTTPRequest(ctx context.Context, req *Request, target string, body []byte, contentType, token, requestID string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("[Pipeline.Send] build request: %w", err)
	}

	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	httpReq.Header.Set("Accept", ContentTypeJSON)
	httpReq.Header.Set(HeaderRequestID, requestID)
	if contentType != "" && httpReq.Header.Get(HeaderContentType) == "" {
		httpReq.Header.Set(HeaderContentType, contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, autherrors.ErrSessionExpired):
		return metrics.OutcomeSessionExpired
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCancelled
	case errors.Is(err, autherrors.ErrNetworkUnavailable):
		return metrics.OutcomeNetworkUnavailable
	}
	return metrics.OutcomeServerUnavailable
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
