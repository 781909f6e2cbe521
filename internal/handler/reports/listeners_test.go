package reports

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/service/jobs"
)

func TestBind_DecodesAndRecords(t *testing.T) {
	history := jobs.NewHistory(10)
	h := NewReportHandler(history, slog.Default())
	handle := Bind(h, h.OnJobReport)

	payload, err := json.Marshal(model.JobReport{Job: "external-sync", RunID: "r1", Error: "boom"})
	require.NoError(t, err)

	require.NoError(t, handle(message.NewMessage(watermill.NewUUID(), payload)))
	last, ok := history.Last()
	require.True(t, ok)
	assert.Equal(t, "r1", last.RunID)

	// Undecodable payloads are acknowledged and dropped.
	assert.NoError(t, handle(message.NewMessage(watermill.NewUUID(), []byte("not json"))))
	assert.Len(t, history.Recent(), 1)
}

func TestBind_RecoversFromPanic(t *testing.T) {
	h := NewReportHandler(jobs.NewHistory(1), slog.Default())
	handle := Bind(h, func(context.Context, *model.JobReport) error { panic("boom") })

	assert.NotPanics(t, func() {
		assert.NoError(t, handle(message.NewMessage(watermill.NewUUID(), []byte(`{}`))))
	})
}

func TestRouter_ConsumesReports(t *testing.T) {
	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ch.Close()

	history := jobs.NewHistory(10)
	h := NewReportHandler(history, slog.Default())

	router, err := NewRouter(slog.Default())
	require.NoError(t, err)
	h.RegisterHandlers(router, ch, "reports")

	go func() { _ = router.Run(context.Background()) }()
	defer router.Close()
	<-router.Running()

	payload, err := json.Marshal(model.JobReport{Job: "external-sync", RunID: "r2"})
	require.NoError(t, err)
	require.NoError(t, ch.Publish("reports", message.NewMessage(watermill.NewUUID(), payload)))

	require.Eventually(t, func() bool {
		last, ok := history.Last()
		return ok && last.RunID == "r2"
	}, 2*time.Second, 10*time.Millisecond)
}
