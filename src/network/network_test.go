package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainflow/src/helpers"
	"chainflow/src/logger"
	"chainflow/src/models"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &models.MConfig{Network: models.MNetworkConfig{RequestTimeout: 5, MaxRetries: 2}}
	return NewManager(cfg, logger.NewLogger("ERROR", "test"))
}

// -----------------------------------------------------------------------------

func TestGetReturnsBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bar", r.URL.Query().Get("foo"))
		assert.Equal(t, "token", r.Header.Get("X-Test"))
		w.Header().Set("RateLimit-Remaining", "10")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	body, headers, err := testManager(t).Get(context.Background(), srv.URL,
		map[string]string{"foo": "bar"}, map[string]string{"X-Test": "token"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, "10", headers.Get("RateLimit-Remaining"))
}

// -----------------------------------------------------------------------------

func TestGetSurfacesRateLimitWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, _, err := testManager(t).Get(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)

	var rl *helpers.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 10*time.Second, rl.RetryAfter)
}

// -----------------------------------------------------------------------------

func TestGetRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, _, err := testManager(t).Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 2, attempts)
}

// -----------------------------------------------------------------------------

func TestParseRetryAfterFallback(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseRetryAfter(http.Header{}))

	h := http.Header{}
	h.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, ParseRetryAfter(h))

	h.Set("Retry-After", "garbage")
	assert.Equal(t, 5*time.Second, ParseRetryAfter(h))
}

// -----------------------------------------------------------------------------

func TestParseRateLimit(t *testing.T) {
	assert.Nil(t, ParseRateLimit(http.Header{}))

	h := http.Header{}
	h.Set("RateLimit-Remaining", "42")
	h.Set("RateLimit-Reset", "60")

	info := ParseRateLimit(h)
	require.NotNil(t, info)
	assert.Equal(t, 42, info.Remaining)
	assert.WithinDuration(t, time.Now().Add(time.Minute), info.Reset, 5*time.Second)
}
