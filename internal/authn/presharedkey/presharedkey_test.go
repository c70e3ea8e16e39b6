package presharedkey

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lingorelay/lingorelay/internal/authn"
)

func request(t *testing.T, authorization string) *http.Request {
	t.Helper()
	r, err := http.NewRequest(http.MethodGet, "/translation/abc", nil)
	require.NoError(t, err)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	return r
}

func TestNewPresharedKeyAuthenticator(t *testing.T) {
	_, err := NewPresharedKeyAuthenticator(nil)
	require.Error(t, err)

	_, err = NewPresharedKeyAuthenticator([]string{"=alice"})
	require.Error(t, err)

	pka, err := NewPresharedKeyAuthenticator([]string{"key1=alice", "key2"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"key1": "alice", "key2": "key2"}, pka.ValidKeys)
}

func TestAuthenticate(t *testing.T) {
	pka, err := NewPresharedKeyAuthenticator([]string{"key1=alice", "key2"})
	require.NoError(t, err)

	claims, err := pka.Authenticate(request(t, "Bearer key1"))
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)

	claims, err = pka.Authenticate(request(t, "bearer key2"))
	require.NoError(t, err)
	require.Equal(t, "key2", claims.Subject)

	_, err = pka.Authenticate(request(t, "Bearer nope"))
	require.ErrorIs(t, err, authn.ErrUnauthenticated)

	_, err = pka.Authenticate(request(t, ""))
	require.ErrorIs(t, err, authn.ErrMissingBearerToken)

	_, err = pka.Authenticate(request(t, "Basic key1"))
	require.ErrorIs(t, err, authn.ErrMissingBearerToken)
}
