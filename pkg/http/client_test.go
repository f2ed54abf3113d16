package http

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

func fastOptions() Options {
	opts := DefaultOptions()
	opts.InitialBackoff = time.Millisecond
	opts.MaxBackoff = 2 * time.Millisecond
	opts.Timeout = time.Second
	return opts
}

func TestClient_GetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ping", r.URL.Path)
		assert.Equal(t, "ethereum", r.URL.Query().Get("chain"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, fastOptions())

	var out struct {
		Status string `json:"status"`
	}
	require.NoError(t, client.GetJSON(context.Background(), "/v1/ping", map[string]string{"chain": "ethereum"}, &out))
	assert.Equal(t, "ok", out.Status)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, fastOptions())
	body, err := client.Get(context.Background(), "/flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"not found"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, fastOptions())
	_, err := client.Get(context.Background(), "/missing", nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_ExhaustedRetriesReturnLastStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	opts := fastOptions()
	opts.MaxRetries = 1
	client := NewClient(server.URL, opts)

	_, err := client.Get(context.Background(), "/down", nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusBadGateway))
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	opts := fastOptions()
	opts.MaxRetries = 0
	opts.BreakerFailures = 2
	opts.BreakerExecution = 2
	opts.BreakerDelay = time.Minute
	client := NewClient(server.URL, opts)

	assert.False(t, client.BreakerOpen())
	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), "/fail", nil)
		require.Error(t, err)
	}
	assert.True(t, client.BreakerOpen())

	_, err := client.Get(context.Background(), "/fail", nil)
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "open breaker must not reach the server")
}
