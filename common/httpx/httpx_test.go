package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/atomic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorlens/onboarding-rag/config"
)

func TestPostJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Inc() == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewFromConfig(&config.HTTPClientConfig{Retry: 1, BackoffMinMs: 1, BackoffMaxMs: 2})
	body, err := c.PostJSON(context.Background(), srv.URL, nil, map[string]string{"q": "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewFromConfig(&config.HTTPClientConfig{Retry: 1, BackoffMinMs: 1, BackoffMaxMs: 2, MaxConsecutiveFailures: 2})
	for i := 0; i < 2; i++ {
		_, err := c.PostJSON(context.Background(), srv.URL, nil, struct{}{})
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusInternalServerError, se.Status)
	}
	_, err := c.PostJSON(context.Background(), srv.URL, nil, struct{}{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestHostAllowlist(t *testing.T) {
	c := NewFromConfig(&config.HTTPClientConfig{HostAllowlist: []string{"*.example.com"}})
	_, err := c.PostJSON(context.Background(), "http://evil.test/x", nil, struct{}{})
	assert.ErrorIs(t, err, ErrHostNotAllowed)

	assert.True(t, matchHost("*.example.com", "api.example.com"))
	assert.True(t, matchHost("*.example.com", "example.com"))
	assert.False(t, matchHost("example.com", "api.example.com"))
}
