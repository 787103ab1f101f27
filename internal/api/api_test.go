package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dropFirst closes the connection without answering for the first n requests.
func dropFirst(t *testing.T, n int32, calls *atomic.Int32, next http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= n {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
				}
			}
			return
		}
		next(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDoRetriesOnceOnDroppedConnection(t *testing.T) {
	var calls atomic.Int32
	srv := dropFirst(t, 1, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"authenticated":true}`))
	})

	c := NewClient(WithBaseURL(srv.URL))
	resp, err := c.GET(context.Background(), "/v1/api/iserver/auth/status", time.Second)
	require.NoError(t, err)

	var body map[string]bool
	require.NoError(t, resp.ParseJSON(&body))
	assert.True(t, body["authenticated"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoGivesUpAfterTwoAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := dropFirst(t, 10, &calls, func(w http.ResponseWriter, r *http.Request) {})

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.GET(context.Background(), "/v1/api/portfolio/accounts", time.Second)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoDoesNotRetryStatusErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no bridge", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.GET(context.Background(), "/v1/api/iserver/account/orders", time.Second)
	require.Error(t, err)

	code, ok := IsStatus(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "no bridge")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoDoesNotRetryTimeouts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.GET(context.Background(), "/slow", 50*time.Millisecond)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoSendsHeadersQueryAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "FDC3-Copilot/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL), WithInsecureTLS(true), WithPoolSize(2))
	req := NewRequest(http.MethodPost, "/search").
		WithContext(context.Background()).
		WithQuery("symbol", "AAPL").
		WithBody(map[string]any{})
	resp, err := c.Do(req)
	require.NoError(t, err)
	assert.Equal(t, "[]", resp.String())
}
