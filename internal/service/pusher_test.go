package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/domain/queue"
	"github.com/marketplace/delivery-service/internal/domain/registry"
	"github.com/marketplace/delivery-service/internal/metrics"
)

func rawEncoder(ev model.Event) ([]byte, error) {
	return ev.Payload, nil
}

func frames(t *testing.T, conn registry.Connector) []string {
	t.Helper()
	var out []string
	for conn.Pending() > 0 {
		frame, ok := conn.Next(context.Background())
		require.True(t, ok)
		out = append(out, string(frame))
	}
	return out
}

func newTestPusher(ch *queue.Channel[model.Event], hub registry.Hubber, workers, dedupe int) *Pusher {
	return NewPusher(ch, hub, rawEncoder, workers, dedupe, slog.Default(), metrics.New(nil))
}

func TestPusher_FanOutToEveryConnection(t *testing.T) {
	hub := registry.NewHub()
	a1 := registry.NewConnector("A", registry.ConnectMetadata{})
	a2 := registry.NewConnector("A", registry.ConnectMetadata{})
	b := registry.NewConnector("B", registry.ConnectMetadata{})
	hub.Register(a1)
	hub.Register(a2)
	hub.Register(b)

	p := newTestPusher(nil, hub, 1, 0)

	assert.Equal(t, 2, p.Push(model.Event{SequenceID: 1, RecipientID: "A", Payload: []byte("x")}))
	assert.Equal(t, []string{"x"}, frames(t, a1))
	assert.Equal(t, []string{"x"}, frames(t, a2))
	assert.Empty(t, frames(t, b))
}

func TestPusher_OfflineRecipientDropped(t *testing.T) {
	p := newTestPusher(nil, registry.NewHub(), 1, 10)

	assert.Zero(t, p.Push(model.Event{SequenceID: 1, RecipientID: "ghost"}))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.metrics.Pushes.WithLabelValues(metrics.PushOffline)))
}

func TestPusher_DedupeSuppressesReplays(t *testing.T) {
	hub := registry.NewHub()
	a := registry.NewConnector("A", registry.ConnectMetadata{})
	hub.Register(a)

	p := newTestPusher(nil, hub, 1, 10)
	ev := model.Event{SequenceID: 11, RecipientID: "A", Payload: []byte("11")}

	assert.Equal(t, 1, p.Push(ev))
	assert.Zero(t, p.Push(ev), "replay of a delivered event is suppressed")
	assert.Equal(t, []string{"11"}, frames(t, a))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.metrics.Pushes.WithLabelValues(metrics.PushDuplicate)))
}

func TestPusher_ReplayAfterReconnectReachesNewConnection(t *testing.T) {
	hub := registry.NewHub()
	old := registry.NewConnector("A", registry.ConnectMetadata{})
	hub.Register(old)

	p := newTestPusher(nil, hub, 1, 10)
	batch := []model.Event{
		{SequenceID: 1, RecipientID: "A", Payload: []byte("1")},
		{SequenceID: 2, RecipientID: "A", Payload: []byte("2")},
		{SequenceID: 3, RecipientID: "A", Payload: []byte("3")},
	}

	// The first attempt got 1 and 2 out before the batch was aborted.
	require.Equal(t, 1, p.Push(batch[0]))
	require.Equal(t, 1, p.Push(batch[1]))
	assert.Equal(t, []string{"1", "2"}, frames(t, old))

	old.Close()
	fresh := registry.NewConnector("A", registry.ConnectMetadata{})
	hub.Register(fresh)

	for _, ev := range batch {
		assert.Equal(t, 1, p.Push(ev), "seq %d", ev.SequenceID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, frames(t, fresh))
	assert.Equal(t, 1, hub.Connections("A"))
}

func TestPusher_ReplaySkipsOnlyConnectionsHoldingEvent(t *testing.T) {
	hub := registry.NewHub()
	a1 := registry.NewConnector("A", registry.ConnectMetadata{})
	hub.Register(a1)

	p := newTestPusher(nil, hub, 1, 10)
	ev := model.Event{SequenceID: 4, RecipientID: "A", Payload: []byte("4")}
	require.Equal(t, 1, p.Push(ev))

	a2 := registry.NewConnector("A", registry.ConnectMetadata{})
	hub.Register(a2)

	assert.Equal(t, 1, p.Push(ev))
	assert.Equal(t, []string{"4"}, frames(t, a1))
	assert.Equal(t, []string{"4"}, frames(t, a2))
	assert.Equal(t, float64(2), testutil.ToFloat64(p.metrics.Pushes.WithLabelValues(metrics.PushDelivered)))
	assert.Zero(t, testutil.ToFloat64(p.metrics.Pushes.WithLabelValues(metrics.PushDuplicate)))
}

func TestPusher_UndeliveredEventNotRemembered(t *testing.T) {
	hub := registry.NewHub()
	p := newTestPusher(nil, hub, 1, 10)
	ev := model.Event{SequenceID: 5, RecipientID: "A", Payload: []byte("5")}

	assert.Zero(t, p.Push(ev))

	a := registry.NewConnector("A", registry.ConnectMetadata{})
	hub.Register(a)
	assert.Equal(t, 1, p.Push(ev))
}

func TestPusher_EncodeFailureSkipsEvent(t *testing.T) {
	hub := registry.NewHub()
	a := registry.NewConnector("A", registry.ConnectMetadata{})
	hub.Register(a)

	p := NewPusher(nil, hub, func(model.Event) ([]byte, error) {
		return nil, errors.New("bad payload")
	}, 1, 0, slog.Default(), metrics.New(nil))

	assert.Zero(t, p.Push(model.Event{SequenceID: 1, RecipientID: "A"}))
	assert.Zero(t, a.Pending())
}

func TestPusher_RunDrainsClosedChannel(t *testing.T) {
	hub := registry.NewHub()
	a := registry.NewConnector("A", registry.ConnectMetadata{})
	hub.Register(a)

	ch := queue.NewChannel[model.Event](10)
	for i := range 5 {
		require.True(t, ch.TryEnqueue(model.Event{SequenceID: int64(i + 1), RecipientID: "A", Payload: []byte{'a' + byte(i)}}))
	}
	ch.Close()

	p := newTestPusher(ch, hub, 3, 0)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("workers did not exit after close")
	}

	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, frames(t, a))
}

func TestPusher_RunStopsOnCancel(t *testing.T) {
	ch := queue.NewChannel[model.Event](10)
	p := newTestPusher(ch, registry.NewHub(), 2, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not exit after cancel")
	}
}
