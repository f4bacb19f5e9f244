// Package auth is the entry point of the session client: it logs users in
// and out, keeps their session fresh and sends authenticated requests.
package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-session/autherrors"
	"github.com/jrsteele09/go-auth-session/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/normalize"
	"github.com/jrsteele09/go-auth-session/pipeline"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoginRequest is the body posted to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Manager owns the session lifecycle. It is the only component that talks to
// the auth endpoints; everything else reads the session through it or the
// Store it was given.
type Manager struct {
	cfg         config.Config
	store       *sessions.Store
	pipeline    *pipeline.Pipeline
	coordinator *refresh.Coordinator
	normalizer  *normalize.Normalizer
	verifier    *oidc.IDTokenVerifier
	httpClient  *http.Client
	sleep       pipeline.SleepFunc
	permissive  bool
	log         zerolog.Logger
	metrics     *metrics.Metrics
	nowTime     func() time.Time // nowTime function (injectable for testing)

	listeners      map[uint64]func(error)
	nextListener   uint64
	listenersMutex sync.RWMutex
	unsubscribe    func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient replaces the default client, whose timeout comes from
// REQUEST_TIMEOUT.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = c
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithPermissiveNormalizer accepts login responses without an access token by
// fabricating one. Only for use against stub servers in tests.
func WithPermissiveNormalizer() Option {
	return func(m *Manager) {
		m.permissive = true
	}
}

// WithIDTokenVerifier verifies id_tokens returned on OAuth callbacks and
// takes the user from their claims.
func WithIDTokenVerifier(v *oidc.IDTokenVerifier) Option {
	return func(m *Manager) {
		m.verifier = v
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithSleep replaces the backoff wait (primarily for testing)
func WithSleep(sleep pipeline.SleepFunc) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// New wires a Manager around store.
func New(cfg config.Config, store *sessions.Store, options ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("[auth.New] config is required")
	}
	if store == nil {
		return nil, errors.New("[auth.New] session store is required")
	}

	m := &Manager{
		cfg:       cfg,
		store:     store,
		log:       log.Logger,
		nowTime:   time.Now,
		listeners: make(map[uint64]func(error)),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: cfg.GetRequestTimeout()}
	}

	normalizerOptions := []normalize.Option{normalize.WithLogger(m.log)}
	if m.permissive {
		normalizerOptions = append(normalizerOptions, normalize.WithPermissive())
	}
	m.normalizer = normalize.New(normalizerOptions...)

	pipelineOptions := []pipeline.Option{
		pipeline.WithTokenSource(store),
		pipeline.WithMaxAttempts(cfg.GetMaxAttempts()),
		pipeline.WithBaseDelay(cfg.GetBaseDelay()),
		pipeline.WithLedgerTTL(cfg.GetLedgerTTL()),
		pipeline.WithLogger(m.log),
		pipeline.WithMetrics(m.metrics),
	}
	if m.sleep != nil {
		pipelineOptions = append(pipelineOptions, pipeline.WithSleep(m.sleep))
	}
	m.pipeline = pipeline.New(cfg.GetAPIBaseURL(), m.httpClient, pipelineOptions...)

	// Refresh responses are never synthesized, even in permissive mode.
	refresher := &httpRefresher{
		pipeline:   m.pipeline,
		path:       cfg.GetRefreshPath(),
		normalizer: normalize.New(normalize.WithLogger(m.log)),
	}
	coordinator, err := refresh.NewCoordinator(store, refresher,
		refresh.WithLogger(m.log),
		refresh.WithMetrics(m.metrics),
		refresh.WithTimeout(cfg.GetRequestTimeout()),
		refresh.WithExpiredHook(m.unauthenticated),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[auth.New] refresh coordinator")
	}
	m.coordinator = coordinator
	m.pipeline.SetRefresher(coordinator)

	m.unsubscribe = store.Subscribe(m.onSessionChange)
	return m, nil
}

// Close detaches the manager from its store.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// RefreshState reports whether a refresh is in flight.
func (m *Manager) RefreshState() refresh.State {
	return m.coordinator.State()
}

// Login authenticates with email and password and stores the session.
func (m *Manager) Login(ctx context.Context, email, password string) (*sessions.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errors.Wrap(autherrors.ErrInvalidCredentials, "[Manager.Login] email and password are required")
	}

	req := pipeline.NewRequest(http.MethodPost, m.cfg.GetLoginPath(), LoginRequest{Email: email, Password: password})
	req.Anonymous = true
	resp, err := m.pipeline.Send(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Login] login request failed")
	}
	if !resp.OK() {
		return nil, errors.Wrap(loginError(resp), "[Manager.Login] login rejected")
	}

	creds, err := m.normalizer.Normalize(resp.Body, normalize.Hint{Email: email})
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Login] reading login response")
	}
	return m.establish(ctx, creds, "[Manager.Login]")
}

// Logout ends the session. The server is told on a best-effort basis; the
// local session is always cleared.
func (m *Manager) Logout(ctx context.Context) {
	session, err := m.store.Get(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("reading session before logout")
	}

	if session != nil {
		req := pipeline.NewRequest(http.MethodPost, m.cfg.GetLogoutPath(), nil)
		if session.RefreshToken != "" {
			req.Body = map[string]string{"refresh_token": session.RefreshToken}
		}
		req.Anonymous = true
		req.Header = http.Header{"Authorization": []string{"Bearer " + session.AccessToken}}
		if _, err := m.pipeline.Send(ctx, req); err != nil {
			m.log.Warn().Err(err).Msg("server logout failed, clearing local session anyway")
		}
	}

	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.log.Error().Err(err).Msg("clearing session on logout")
		return
	}
	m.log.Info().Msg("logged out")
}

// CheckSession returns the stored session, refreshing it first when its
// access token has expired or expires within the configured leeway. Opaque
// tokens are trusted until a request is rejected. A nil session means logged
// out.
func (m *Manager) CheckSession(ctx context.Context) (*sessions.Session, error) {
	session, err := m.store.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.CheckSession] reading session")
	}
	if session == nil {
		return nil, nil
	}

	now := m.nowTime()
	if !session.ExpiresWithin(now, m.cfg.GetExpiryLeeway()) {
		return session, nil
	}
	expired := session.ExpiresWithin(now, 0)
	if !session.CanRefresh() && !expired {
		return session, nil
	}

	if _, err := m.coordinator.EnsureFresh(ctx, session.AccessToken); err != nil {
		if autherrors.Is(err, autherrors.ErrRefreshUnavailable) && !expired {
			m.log.Warn().Err(err).Msg("proactive refresh failed, token still valid")
			return session, nil
		}
		return nil, errors.Wrap(err, "[Manager.CheckSession] refreshing session")
	}

	session, err = m.store.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.CheckSession] reading refreshed session")
	}
	return session, nil
}

// Send executes an authenticated request through the retry pipeline.
func (m *Manager) Send(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	return m.pipeline.Send(ctx, req)
}

// OnUnauthenticated registers fn to be called when the session ends without
// the user asking: the refresh token was rejected or another tab logged out.
func (m *Manager) OnUnauthenticated(fn func(error)) (unsubscribe func()) {
	m.listenersMutex.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.listenersMutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMutex.Lock()
			delete(m.listeners, id)
			m.listenersMutex.Unlock()
		})
	}
}

func (m *Manager) unauthenticated(err error) {
	m.listenersMutex.RLock()
	listeners := make([]func(error), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.listenersMutex.RUnlock()

	for _, l := range listeners {
		l(err)
	}
}

func (m *Manager) onSessionChange(c sessions.Change) {
	if c.Remote && c.Session == nil {
		m.log.Info().Msg("session cleared by another client")
		m.unauthenticated(errors.Wrap(autherrors.ErrSessionExpired, "signed out elsewhere"))
	}
}

// establish stores a session built from freshly normalized credentials.
func (m *Manager) establish(ctx context.Context, creds *normalize.Credentials, op string) (*sessions.Session, error) {
	session := sessions.New(creds.AccessToken, creds.RefreshToken, creds.User)
	if err := m.store.Set(ctx, session); err != nil {
		return nil, errors.Wrap(err, op+" storing session")
	}
	m.log.Info().Str("user_id", session.User.ID).Bool("refreshable", session.CanRefresh()).Msg("session established")
	return session.Clone(), nil
}
