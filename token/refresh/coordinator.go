package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/autherrors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State of the coordinator.
type State int

const (
	Idle State = iota
	Refreshing
	Failed // The refresh token was rejected and the session is being cleared
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const defaultRefreshTimeout = 30 * time.Second

// flight is one refresh shared by every caller that arrives while it runs.
type flight struct {
	done    chan struct{}
	token   string
	err     error
	waiters int
}

// Coordinator makes sure concurrent callers that need a fresh access token
// trigger at most one call to the refresh endpoint.
type Coordinator struct {
	store     Store
	refresher Refresher
	log       zerolog.Logger
	metrics   *metrics.Metrics
	timeout   time.Duration
	onExpired func(error)

	mu      sync.Mutex
	state   State
	current *flight
}

type Option func(*Coordinator)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTimeout bounds a single refresh call. The refresh is detached from the
// callers' contexts, so this is the only limit on it.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithExpiredHook is called after a rejected refresh has cleared the session.
func WithExpiredHook(fn func(error)) Option {
	return func(c *Coordinator) {
		c.onExpired = fn
	}
}

func NewCoordinator(store Store, refresher Refresher, options ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("[NewCoordinator] store is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewCoordinator] refresher is required")
	}
	c := &Coordinator{
		store:     store,
		refresher: refresher,
		log:       log.Logger,
		timeout:   defaultRefreshTimeout,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Waiting returns how many callers are blocked on the refresh in flight.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	return c.current.waiters
}

// EnsureFresh returns an access token newer than stale, the token a request
// was rejected with.
//
// If the store already holds a different token, it is returned without a
// network call. An empty stale means the request went out without a token, so
// any stored token counts as different. If no session exists, for example because another tab logged
// out, ErrSessionExpired is returned immediately. Otherwise the caller joins
// the refresh in flight, starting one if there is none. Cancelling ctx only
// withdraws this caller; the refresh keeps running for the others.
func (c *Coordinator) EnsureFresh(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	f := c.current
	if f == nil {
		session, err := c.store.Get(ctx)
		if err != nil {
			c.mu.Unlock()
			return "", err
		}
		if session == nil {
			c.mu.Unlock()
			return "", fmt.Errorf("%w: no session", autherrors.ErrSessionExpired)
		}
		if session.AccessToken != stale {
			c.mu.Unlock()
			return session.AccessToken, nil
		}

		f = &flight{done: make(chan struct{})}
		c.current = f
		c.state = Refreshing
		go c.run(f, session.RefreshToken)
	}
	f.waiters++
	c.mu.Unlock()

	select {
	case <-f.done:
		return f.token, f.err
	case <-ctx.Done():
		c.mu.Lock()
		f.waiters--
		c.mu.Unlock()
		return "", ctx.Err()
	}
}

func (c *Coordinator) run(f *flight, refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	token, err := c.refresh(ctx, refreshToken)

	expired := errors.Is(err, autherrors.ErrSessionExpired)
	if expired {
		c.mu.Lock()
		c.state = Failed
		c.mu.Unlock()

		if clearErr := c.store.Clear(ctx); clearErr != nil {
			c.log.Error().Err(clearErr).Msg("clearing session after rejected refresh")
		}
	}

	c.mu.Lock()
	f.token, f.err = token, err
	c.current = nil
	c.state = Idle
	close(f.done)
	c.mu.Unlock()

	if expired && c.onExpired != nil {
		c.onExpired(err)
	}
}

func (c *Coordinator) refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		c.log.Debug().Msg("session has no refresh token")
		return "", fmt.Errorf("%w: no refresh token", autherrors.ErrSessionExpired)
	}

	c.log.Debug().Msg("refreshing access token")
	started := time.Now()
	accessToken, newRefreshToken, err := c.refresher.Refresh(ctx, refreshToken)
	switch {
	case err == nil && accessToken == "":
		c.metrics.Refresh(metrics.RefreshUnavailable)
		return "", fmt.Errorf("%w: refresh returned no access token", autherrors.ErrRefreshUnavailable)
	case errors.Is(err, autherrors.ErrSessionExpired), errors.Is(err, autherrors.ErrInvalidCredentials):
		c.metrics.Refresh(metrics.RefreshExpired)
		c.log.Warn().Err(err).Msg("refresh token rejected")
		return "", fmt.Errorf("%w: %v", autherrors.ErrSessionExpired, err)
	case err != nil:
		c.metrics.Refresh(metrics.RefreshUnavailable)
		c.log.Warn().Err(err).Msg("refresh failed, keeping session")
		if errors.Is(err, autherrors.ErrRefreshUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", autherrors.ErrRefreshUnavailable, err)
	}

	updated, err := c.store.UpdateTokens(ctx, accessToken, newRefreshToken)
	if err != nil {
		// A session cleared while the call was out stays cleared.
		c.metrics.Refresh(metrics.RefreshUnavailable)
		return "", err
	}
	c.metrics.Refresh(metrics.RefreshSuccess)
	c.log.Debug().Dur("took", time.Since(started)).Msg("access token refreshed")
	return updated.AccessToken, nil
}
