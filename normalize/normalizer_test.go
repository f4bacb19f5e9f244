package normalize_test

import (
	"strings"
	"testing"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/autherrors"
	"github.com/jrsteele09/go-auth-session/normalize"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testEmail = "a@b.com"

func newNormalizer(options ...normalize.Option) *normalize.Normalizer {
	return normalize.New(append([]normalize.Option{normalize.WithLogger(zerolog.Nop())}, options...)...)
}

func TestNormalize_NestedData(t *testing.T) {
	n := newNormalizer()
	creds, err := n.Normalize([]byte(`{"data":{"access_token":"abc","user":{"email":"a@b.com"}}}`), normalize.Hint{})
	require.NoError(t, err)
	require.Equal(t, "abc", creds.AccessToken)
	require.Equal(t, "", creds.RefreshToken)
	require.Equal(t, testEmail, creds.User.Email)
	require.Equal(t, normalize.PlaceholderID(testEmail), creds.User.ID)
	require.False(t, creds.Synthesized)
}

func TestNormalize_SearchOrder(t *testing.T) {
	n := newNormalizer()

	t.Run("top level beats nested", func(t *testing.T) {
		creds, err := n.Normalize([]byte(`{"token":"top","data":{"access_token":"nested"}}`), normalize.Hint{})
		require.NoError(t, err)
		require.Equal(t, "top", creds.AccessToken)
	})

	t.Run("field priority within a container", func(t *testing.T) {
		creds, err := n.Normalize([]byte(`{"jwt":"third","token":"second","access_token":"first"}`), normalize.Hint{})
		require.NoError(t, err)
		require.Equal(t, "first", creds.AccessToken)
	})

	t.Run("tokens container", func(t *testing.T) {
		creds, err := n.Normalize([]byte(`{"tokens":{"accessToken":"a1","refreshToken":"r1"},"user":{"id":7,"name":"Ann","roles":["Doctor"]}}`), normalize.Hint{})
		require.NoError(t, err)
		require.Equal(t, "a1", creds.AccessToken)
		require.Equal(t, "r1", creds.RefreshToken)
		require.Equal(t, "7", creds.User.ID)
		require.Equal(t, "Ann", creds.User.Name)
		require.True(t, creds.User.HasRole("doctor"))
	})

	t.Run("data tokens container", func(t *testing.T) {
		creds, err := n.Normalize([]byte(`{"data":{"tokens":{"token":"dt"},"profile":{"email":"p@b.com","first_name":"Pat","last_name":"Lee"}}}`), normalize.Hint{})
		require.NoError(t, err)
		require.Equal(t, "dt", creds.AccessToken)
		require.Equal(t, "p@b.com", creds.User.Email)
		require.Equal(t, "Pat Lee", creds.User.Name)
	})

	t.Run("flat payload", func(t *testing.T) {
		creds, err := n.Normalize([]byte(`{"token":"flat","email":"f@b.com","role":"admin,viewer"}`), normalize.Hint{})
		require.NoError(t, err)
		require.Equal(t, "f@b.com", creds.User.Email)
		require.Equal(t, []string{"admin", "viewer"}, creds.User.Roles)
	})
}

func TestNormalize_Deterministic(t *testing.T) {
	n := newNormalizer()
	payload := []byte(`{"authToken":"z","token":"y","data":{"access_token":"x","tokens":{"access_token":"w"}},"user":{"_id":"u1","userId":"u2"}}`)

	first, err := n.Normalize(payload, normalize.Hint{})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := n.Normalize(payload, normalize.Hint{})
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Equal(t, "y", first.AccessToken)
	require.Equal(t, "u1", first.User.ID)
}

func TestNormalize_UserFromClaims(t *testing.T) {
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "user-42", "email": "claims@b.com", "roles": []any{"admin"},
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	n := newNormalizer()

	t.Run("no user object", func(t *testing.T) {
		creds, err := n.Normalize([]byte(`{"access_token":"`+raw+`"}`), normalize.Hint{Email: "hint@b.com"})
		require.NoError(t, err)
		require.Equal(t, "user-42", creds.User.ID)
		require.Equal(t, "claims@b.com", creds.User.Email)
		require.True(t, creds.User.HasRole("admin"))
	})

	t.Run("partial user filled from claims", func(t *testing.T) {
		creds, err := n.Normalize([]byte(`{"access_token":"`+raw+`","user":{"email":"body@b.com"}}`), normalize.Hint{})
		require.NoError(t, err)
		require.Equal(t, "user-42", creds.User.ID)
		require.Equal(t, "body@b.com", creds.User.Email)
	})
}

func TestNormalize_PlaceholderUser(t *testing.T) {
	n := newNormalizer()
	creds, err := n.Normalize([]byte(`{"access_token":"opaque"}`), normalize.Hint{Email: " A@B.com "})
	require.NoError(t, err)
	require.Equal(t, "A@B.com", creds.User.Email)
	require.Equal(t, normalize.PlaceholderID(testEmail), creds.User.ID, "placeholder IDs ignore case")
	require.NotEmpty(t, creds.User.ID)
}

func TestNormalize_MissingCredential(t *testing.T) {
	n := newNormalizer()
	for name, payload := range map[string]string{
		"empty":        ``,
		"not json":     `<html>`,
		"array":        `[{"access_token":"x"}]`,
		"empty object": `{}`,
		"no token":     `{"user":{"email":"a@b.com"},"message":"ok"}`,
		"empty token":  `{"access_token":"  "}`,
		"non string":   `{"access_token":{"value":"x"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := n.Normalize([]byte(payload), normalize.Hint{Email: testEmail})
			require.ErrorIs(t, err, autherrors.ErrMissingCredential)

			_, again := n.Normalize([]byte(payload), normalize.Hint{Email: testEmail})
			require.Equal(t, err.Error(), again.Error())
		})
	}
}

func TestNormalize_Permissive(t *testing.T) {
	n := newNormalizer(normalize.WithPermissive())
	creds, err := n.Normalize([]byte(`{"message":"welcome"}`), normalize.Hint{Email: testEmail})
	require.NoError(t, err)
	require.True(t, creds.Synthesized)
	require.True(t, strings.HasPrefix(creds.AccessToken, "synthesized-"))
	require.Equal(t, testEmail, creds.User.Email)

	_, err = n.Normalize([]byte(`[]`), normalize.Hint{})
	require.ErrorIs(t, err, autherrors.ErrMissingCredential, "non-objects fail even when permissive")
}

func TestNormalizeToken(t *testing.T) {
	n := newNormalizer()
	tok := (&oauth2.Token{AccessToken: "cb-access", RefreshToken: "cb-refresh"}).
		WithExtra(map[string]any{"id_token": "cb-id"})

	creds, err := n.NormalizeToken(tok, normalize.Hint{Email: testEmail})
	require.NoError(t, err)
	require.Equal(t, "cb-access", creds.AccessToken)
	require.Equal(t, "cb-refresh", creds.RefreshToken)
	require.Equal(t, "cb-id", creds.IDToken)

	_, err = n.NormalizeToken(&oauth2.Token{}, normalize.Hint{})
	require.ErrorIs(t, err, autherrors.ErrMissingCredential)
	_, err = n.NormalizeToken(nil, normalize.Hint{})
	require.ErrorIs(t, err, autherrors.ErrMissingCredential)
}
