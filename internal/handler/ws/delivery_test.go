package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/delivery-service/config"
	httpsrv "github.com/marketplace/delivery-service/infra/server/http"
	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/domain/registry"
	wsmarshaller "github.com/marketplace/delivery-service/internal/handler/marshaller/ws"
	"github.com/marketplace/delivery-service/internal/service"
)

const header = "X-Recipient-Id"

func newTestServer(t *testing.T, ws config.WSConfig) (*registry.Hub, string) {
	t.Helper()

	hub := registry.NewHub()
	cfg := &config.Config{WS: ws}
	h := NewWSHandler(slog.Default(), service.NewDeliveryService(hub), cfg)

	srv := httpsrv.NewServer(":0", time.Second, httpsrv.HeaderResolver(header), slog.Default())
	srv.Router.Get("/ws", h.ServeHTTP)

	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url, recipientID string) *websocket.Conn {
	t.Helper()
	hdr := http.Header{}
	hdr.Set(header, recipientID)
	c, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { c.Close() })
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

var relaxed = config.WSConfig{
	PingInterval: time.Second,
	PongWait:     2 * time.Second,
	WriteWait:    time.Second,
}

func TestWSHandler_HandshakeThenFrames(t *testing.T) {
	hub, url := newTestServer(t, relaxed)
	c := dial(t, url, "alice")

	hello := readEvent(t, c)
	assert.Equal(t, wsmarshaller.EventConnected, hello["event"])
	payload := hello["payload"].(map[string]any)
	assert.Equal(t, "alice", payload["recipient_id"])
	assert.Equal(t, true, payload["ok"])

	require.Eventually(t, func() bool { return hub.Connections("alice") == 1 }, time.Second, 5*time.Millisecond)

	frame, err := wsmarshaller.MarshallDeliveryEvent(model.Event{SequenceID: 7, RecipientID: "alice", Payload: []byte(`{"n":1}`), CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.FanOut("alice", frame))

	got := readEvent(t, c)
	assert.EqualValues(t, 7, got["sequence_id"])
	assert.Equal(t, map[string]any{"n": float64(1)}, got["payload"])
}

func TestWSHandler_EveryConnectionOfRecipientReceives(t *testing.T) {
	hub, url := newTestServer(t, relaxed)
	tab1 := dial(t, url, "alice")
	tab2 := dial(t, url, "alice")
	readEvent(t, tab1)
	readEvent(t, tab2)

	require.Eventually(t, func() bool { return hub.Connections("alice") == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, hub.FanOut("alice", []byte(`{"sequence_id":1}`)))

	assert.EqualValues(t, 1, readEvent(t, tab1)["sequence_id"])
	assert.EqualValues(t, 1, readEvent(t, tab2)["sequence_id"])
}

func TestWSHandler_MissingIdentity(t *testing.T) {
	_, url := newTestServer(t, relaxed)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSHandler_PeerCloseUnregisters(t *testing.T) {
	hub, url := newTestServer(t, relaxed)
	c := dial(t, url, "alice")
	readEvent(t, c)
	require.Eventually(t, func() bool { return hub.IsConnected("alice") }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.Eventually(t, func() bool { return !hub.IsConnected("alice") }, 2*time.Second, 5*time.Millisecond)
}

func TestWSHandler_MissedPongDropsConnection(t *testing.T) {
	hub, url := newTestServer(t, config.WSConfig{
		PingInterval: 20 * time.Millisecond,
		PongWait:     60 * time.Millisecond,
		WriteWait:    time.Second,
	})

	// The client never reads, so it never answers pings.
	dial(t, url, "alice")
	require.Eventually(t, func() bool { return hub.IsConnected("alice") }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return !hub.IsConnected("alice") }, 2*time.Second, 10*time.Millisecond)
}

func TestWSHandler_AnsweredPingsKeepConnection(t *testing.T) {
	hub, url := newTestServer(t, config.WSConfig{
		PingInterval: 20 * time.Millisecond,
		PongWait:     60 * time.Millisecond,
		WriteWait:    time.Second,
	})

	c := dial(t, url, "alice")
	// Reading runs the default ping handler, which answers with a pong.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool { return hub.IsConnected("alice") }, time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.True(t, hub.IsConnected("alice"))
}

func TestWSHandler_ServerShutdownSendsFarewell(t *testing.T) {
	hub, url := newTestServer(t, relaxed)
	c := dial(t, url, "alice")
	readEvent(t, c)
	require.Eventually(t, func() bool { return hub.IsConnected("alice") }, time.Second, 5*time.Millisecond)

	hub.Shutdown()

	bye := readEvent(t, c)
	assert.Equal(t, wsmarshaller.EventDisconnected, bye["event"])
	assert.Equal(t, model.DisconnectShutdown, bye["payload"].(map[string]any)["reason"])

	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestWSHandler_ShutdownFlushesQueuedFramesBeforeFarewell(t *testing.T) {
	hub, url := newTestServer(t, relaxed)
	c := dial(t, url, "alice")
	readEvent(t, c)
	require.Eventually(t, func() bool { return hub.IsConnected("alice") }, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, hub.FanOut("alice", []byte(`{"sequence_id":1}`)))
	require.Equal(t, 1, hub.FanOut("alice", []byte(`{"sequence_id":2}`)))
	hub.Shutdown()

	assert.EqualValues(t, 1, readEvent(t, c)["sequence_id"])
	assert.EqualValues(t, 2, readEvent(t, c)["sequence_id"])
	assert.Equal(t, wsmarshaller.EventDisconnected, readEvent(t, c)["event"])

	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
