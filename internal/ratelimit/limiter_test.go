package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(2, time.Minute)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	require.True(t, l.Allow("b"), "keys are limited independently")

	now = now.Add(time.Minute + time.Second)
	require.True(t, l.Allow("a"), "a new window resets the count")
}

func TestLimiterDisabled(t *testing.T) {
	l := New(0, time.Minute)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a"))
	}
}

func TestLimiterCleanup(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := New(1, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(30 * time.Minute)
	l.Allow("fresh")

	l.Cleanup(10 * time.Minute)
	require.NotContains(t, l.buckets, "old")
	require.Contains(t, l.buckets, "fresh")
}

func TestLimiterMiddleware(t *testing.T) {
	l := New(1, time.Minute)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/sanitize", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNoContent, send().Code)
	rec := send()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	require.Equal(t, "198.51.100.7", ClientKey(req))

	req.RemoteAddr = "not-a-hostport"
	require.Equal(t, "not-a-hostport", ClientKey(req))
}
