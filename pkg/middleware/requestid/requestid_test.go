package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var seen string
	handler := NewMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		require.True(t, ok)
		seen = id
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	header := rec.Header().Get(RequestIDHeader)
	require.NotEmpty(t, header)
	require.Equal(t, seen, header)
	_, err := uuid.Parse(header)
	require.NoError(t, err)
}

func TestMiddlewareUniquePerRequest(t *testing.T) {
	handler := NewMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	ids := map[string]struct{}{}
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		ids[rec.Header().Get(RequestIDHeader)] = struct{}{}
	}
	require.Len(t, ids, 10)
}
