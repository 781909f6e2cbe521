package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/domain/registry"
	"github.com/marketplace/delivery-service/internal/metrics"
	"github.com/marketplace/delivery-service/internal/service"
	"github.com/marketplace/delivery-service/internal/service/jobs"
)

func TestStatsHandler(t *testing.T) {
	hub := registry.NewHub()
	deliverer := service.NewDeliveryService(hub)
	deliverer.Subscribe("alice", registry.ConnectMetadata{Transport: "ws"})
	deliverer.Subscribe("alice", registry.ConnectMetadata{Transport: "lp"})
	hub.FanOut("alice", []byte("x"))

	m := metrics.New(nil)
	notifier := service.NewNotifier(service.NotifierConfig{}, func(model.Event) ([]byte, error) { return nil, nil }, slog.Default(), m)

	history := jobs.NewHistory(5)
	history.Record(model.JobReport{Job: "external-sync", RunID: "r1"})
	coordinator := jobs.NewCoordinator("external-sync", func(context.Context) error { return nil }, slog.Default(), jobs.WithMetrics(m))

	h := NewStatsHandler(deliverer, notifier, coordinator, history, "external-sync")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Registry.Recipients)
	assert.Equal(t, 2, got.Registry.Connections)
	assert.Equal(t, 2, got.Registry.PendingFrames)
	assert.Equal(t, uint64(2), got.Registry.FramesSent)
	assert.Equal(t, map[string]int{"ws": 1, "lp": 1}, got.Registry.Transports)
	assert.Zero(t, got.ChannelDepth)
	assert.False(t, got.Job.Running)
	require.Len(t, got.Job.Recent, 1)
	assert.Equal(t, "r1", got.Job.Recent[0].RunID)
}
