package syncclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/delivery-service/config"
)

func testConfig(endpoint string) *config.Config {
	cfg := &config.Config{}
	cfg.Job.Name = "external-sync"
	cfg.Job.Endpoint = endpoint
	cfg.Job.RetryMax = 0
	cfg.Job.Breaker.MaxFailures = 2
	cfg.Job.Breaker.OpenTimeout = time.Minute
	return cfg
}

func TestClient_SyncPostsJob(t *testing.T) {
	var got syncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), slog.Default())
	require.NoError(t, c.Sync(context.Background()))
	assert.Equal(t, "external-sync", got.Job)
	assert.False(t, got.TriggeredAt.IsZero())
}

func TestClient_NoEndpointIsNoop(t *testing.T) {
	c := New(testConfig(""), slog.Default())
	assert.NoError(t, c.Sync(context.Background()))
}

func TestClient_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), slog.Default())
	assert.ErrorIs(t, c.Sync(context.Background()), ErrRejected)
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), slog.Default())
	ctx := context.Background()

	require.Error(t, c.Sync(ctx))
	require.Error(t, c.Sync(ctx))

	err := c.Sync(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits the request")
}
