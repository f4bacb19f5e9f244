package pipeline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/autherrors"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseDelay = 10 * time.Millisecond

type staticTokens struct {
	token string
	lock  sync.Mutex
}

func (s *staticTokens) AccessToken(context.Context) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.token, nil
}

func (s *staticTokens) set(token string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.token = token
}

type fakeRefresher struct {
	calls  atomic.Int32
	stale  atomic.Value
	tokens *staticTokens
	fresh  string
	err    error
}

func (f *fakeRefresher) EnsureFresh(_ context.Context, stale string) (string, error) {
	f.calls.Add(1)
	f.stale.Store(stale)
	if f.err != nil {
		return "", f.err
	}
	f.tokens.set(f.fresh)
	return f.fresh, nil
}

// recordingSleep records requested delays without waiting.
type recordingSleep struct {
	delays []time.Duration
	lock   sync.Mutex
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.lock.Lock()
	r.delays = append(r.delays, d)
	r.lock.Unlock()
	return ctx.Err()
}

func newPipeline(serverURL string, options ...pipeline.Option) *pipeline.Pipeline {
	options = append([]pipeline.Option{
		pipeline.WithLogger(zerolog.Nop()),
		pipeline.WithBaseDelay(baseDelay),
	}, options...)
	return pipeline.New(serverURL, http.DefaultClient, options...)
}

func TestSend_AttachesTokenAndRequestID(t *testing.T) {
	var gotAuth, gotID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get(pipeline.HeaderRequestID)
		assert.Equal(t, "/api/items", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	p := newPipeline(server.URL, pipeline.WithTokenSource(&staticTokens{token: "access-1"}))
	resp, err := p.Send(context.Background(), &pipeline.Request{
		Method: http.MethodGet,
		Path:   "/api/items",
		Query:  map[string][]string{"page": {"2"}},
	})
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Equal(t, "Bearer access-1", gotAuth)
	require.NotEmpty(t, gotID)

	var body struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, resp.Decode(&body))
	require.True(t, body.OK)
}

func TestSend_AnonymousCarriesNoToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	refresher := &fakeRefresher{tokens: &staticTokens{}}
	p := newPipeline(server.URL,
		pipeline.WithTokenSource(&staticTokens{token: "access-1"}),
		pipeline.WithRefresher(refresher))

	req := pipeline.NewRequest(http.MethodPost, "/api/auth/login", map[string]string{"email": "a@b.com"})
	req.Anonymous = true
	resp, err := p.Send(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, refresher.calls.Load())
}

func TestSend_RetriesGetWithIncreasingBackoff(t *testing.T) {
	var hits atomic.Int32
	var ids sync.Map
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		ids.Store(r.Header.Get(pipeline.HeaderRequestID), true)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	reg := prometheus.NewPedanticRegistry()
	m := metrics.New(reg)
	sleeper := &recordingSleep{}
	p := newPipeline(server.URL, pipeline.WithSleep(sleeper.sleep), pipeline.WithMetrics(m))

	_, err := p.Send(context.Background(), pipeline.NewRequest(http.MethodGet, "/api/items", nil))
	require.ErrorIs(t, err, autherrors.ErrServerUnavailable)
	require.Equal(t, http.StatusServiceUnavailable, autherrors.StatusCode(err))
	require.Equal(t, int32(pipeline.DefaultMaxAttempts), hits.Load())

	require.Equal(t, []time.Duration{2 * baseDelay, 4 * baseDelay}, sleeper.delays)
	for i := 1; i < len(sleeper.delays); i++ {
		require.Greater(t, sleeper.delays[i], sleeper.delays[i-1])
	}

	idCount := 0
	ids.Range(func(_, _ any) bool { idCount++; return true })
	require.Equal(t, 1, idCount)

	require.Equal(t, 0, p.Ledger().Len())
	require.Equal(t, float64(2), testutil.ToFloat64(m.Retries))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues(metrics.OutcomeServerUnavailable)))
}

func TestSend_RecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	sleeper := &recordingSleep{}
	p := newPipeline(server.URL, pipeline.WithSleep(sleeper.sleep))
	resp, err := p.Send(context.Background(), pipeline.NewRequest(http.MethodGet, "/api/items", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(2), hits.Load())

	_, found := p.Ledger().Get(pipeline.Signature(http.MethodGet, server.URL+"/api/items"))
	require.False(t, found)
}

func TestSend_PostIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sleeper := &recordingSleep{}
	p := newPipeline(server.URL, pipeline.WithSleep(sleeper.sleep))

	t.Run("default", func(t *testing.T) {
		hits.Store(0)
		_, err := p.Send(context.Background(), pipeline.NewRequest(http.MethodPost, "/api/orders", map[string]int{"qty": 1}))
		require.ErrorIs(t, err, autherrors.ErrServerUnavailable)
		require.Equal(t, int32(1), hits.Load())
		require.Empty(t, sleeper.delays)
	})

	t.Run("idempotent", func(t *testing.T) {
		hits.Store(0)
		req := pipeline.NewRequest(http.MethodPut, "/api/orders/1", map[string]int{"qty": 1})
		req.Idempotent = true
		_, err := p.Send(context.Background(), req)
		require.ErrorIs(t, err, autherrors.ErrServerUnavailable)
		require.Equal(t, int32(3), hits.Load())
	})
}

func TestSend_RefreshesAndReplaysOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tokens := &staticTokens{token: "access-1"}
	refresher := &fakeRefresher{tokens: tokens, fresh: "access-2"}
	p := newPipeline(server.URL, pipeline.WithTokenSource(tokens), pipeline.WithRefresher(refresher))

	resp, err := p.Send(context.Background(), pipeline.NewRequest(http.MethodGet, "/api/me", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, int32(1), refresher.calls.Load())
	require.Equal(t, "access-1", refresher.stale.Load())
}

func TestSend_SecondUnauthorizedIsReturned(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &staticTokens{token: "access-1"}
	refresher := &fakeRefresher{tokens: tokens, fresh: "access-2"}
	p := newPipeline(server.URL, pipeline.WithTokenSource(tokens), pipeline.WithRefresher(refresher))

	resp, err := p.Send(context.Background(), pipeline.NewRequest(http.MethodGet, "/api/me", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, int32(1), refresher.calls.Load())
}

func TestSend_RefreshFailurePropagates(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &staticTokens{token: "access-1"}
	refresher := &fakeRefresher{tokens: tokens, err: autherrors.ErrSessionExpired}
	p := newPipeline(server.URL, pipeline.WithTokenSource(tokens), pipeline.WithRefresher(refresher))

	_, err := p.Send(context.Background(), pipeline.NewRequest(http.MethodGet, "/api/me", nil))
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.Equal(t, int32(1), hits.Load())
}

func TestSend_NetworkFailureIsImmediate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	serverURL := server.URL
	server.Close()

	sleeper := &recordingSleep{}
	p := newPipeline(serverURL, pipeline.WithSleep(sleeper.sleep))
	_, err := p.Send(context.Background(), pipeline.NewRequest(http.MethodGet, "/api/items", nil))
	require.ErrorIs(t, err, autherrors.ErrNetworkUnavailable)
	require.True(t, autherrors.IsTransient(err))
	require.Empty(t, sleeper.delays)
}

func TestSend_CancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := newPipeline(server.URL, pipeline.WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}))
	_, err := p.Send(ctx, pipeline.NewRequest(http.MethodGet, "/api/items", nil))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, p.Ledger().Len())
}

func TestLedger_RecordDoublesDelay(t *testing.T) {
	l := pipeline.NewLedger(time.Second, time.Minute)
	sig := pipeline.Signature(http.MethodGet, "http://example.com/a")

	first := l.Record(sig)
	second := l.Record(sig)
	require.Equal(t, 1, first.Attempts)
	require.Equal(t, 2*time.Second, first.NextDelay)
	require.Equal(t, 2, second.Attempts)
	require.Equal(t, 4*time.Second, second.NextDelay)

	l.Forget(sig)
	_, found := l.Get(sig)
	require.False(t, found)
}

func TestLedger_SignatureSharesBudget(t *testing.T) {
	l := pipeline.NewLedger(time.Second, time.Minute)
	sig := pipeline.Signature(http.MethodGet, "http://example.com/a")
	other := pipeline.Signature(http.MethodGet, "http://example.com/b")

	// Two in-flight requests for the same method and URL count against one entry.
	l.Record(sig)
	require.Equal(t, 2, l.Record(sig).Attempts)
	require.Equal(t, 1, l.Record(other).Attempts)

	// Whichever finishes first resets the count for the other.
	l.Forget(sig)
	require.Equal(t, 1, l.Record(sig).Attempts)
	require.Equal(t, 2, l.Len())
}

func TestLedger_EntriesExpire(t *testing.T) {
	l := pipeline.NewLedger(time.Millisecond, 20*time.Millisecond)
	sig := pipeline.Signature(http.MethodGet, "http://example.com/a")
	l.Record(sig)
	require.Eventually(t, func() bool {
		_, found := l.Get(sig)
		return !found
	}, time.Second, 5*time.Millisecond)
}
