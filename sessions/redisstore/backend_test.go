package redisstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/redisstore"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testChannel = "test:session-events"

// newProcess simulates a separate process: its own client, backend and store.
func newProcess(t *testing.T, mr *miniredis.Miniredis) *sessions.Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend := redisstore.New(client, testChannel, redisstore.WithLogger(zerolog.Nop()))
	store, err := sessions.NewStore(backend, sessions.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		_ = backend.Close()
	})
	return store
}

func TestBackend_CrossProcessLogout(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	processA := newProcess(t, mr)
	processB := newProcess(t, mr)

	var (
		lock    sync.Mutex
		changes []sessions.Change
	)
	processB.Subscribe(func(c sessions.Change) {
		lock.Lock()
		defer lock.Unlock()
		changes = append(changes, c)
	})

	require.NoError(t, processA.Set(ctx, sessions.New("access-1", "refresh-1", users.New("u1", "a@b.com", ""))))

	got, err := processB.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-1", got.AccessToken)

	require.NoError(t, processA.Clear(ctx))
	got, err = processB.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	require.Eventually(t, func() bool {
		lock.Lock()
		defer lock.Unlock()
		return len(changes) == 2 && changes[1].Session == nil && changes[1].Remote
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBackend_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	backend := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testChannel)
	t.Cleanup(func() { _ = backend.Close() })

	_, found, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, backend.Set(ctx, "k", "v"))
	v, found, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", v)

	require.NoError(t, backend.Delete(ctx, "k"))
	_, found, err = backend.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}
