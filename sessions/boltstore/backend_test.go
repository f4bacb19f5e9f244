package boltstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/boltstore"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBackend_SessionSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.db")

	backend, err := boltstore.Open(path)
	require.NoError(t, err)

	store, err := sessions.NewStore(backend, sessions.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, sessions.New("access-1", "refresh-1", users.New("u1", "a@b.com", "A"))))
	store.Close()
	require.NoError(t, backend.Close())

	backend, err = boltstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	store, err = sessions.NewStore(backend, sessions.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	got, err := store.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "access-1", got.AccessToken)
	require.Equal(t, "refresh-1", got.RefreshToken)
	require.Equal(t, "a@b.com", got.User.Email)

	require.NoError(t, store.Clear(ctx))
	got, err = store.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestBackend_GetMissingKey(t *testing.T) {
	backend, err := boltstore.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	_, found, err := backend.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, backend.Delete(context.Background(), "absent"))
}
