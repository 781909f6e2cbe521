/*
Package registry owns the recipient -> live connections map used by the pusher
workers and the transport layer.

Key Architectural Concepts:
  - Explicit Ownership: the Hub is constructed and injected by handle, never a
    package-level singleton, so tests can build isolated registries.
  - Multi-Session: a recipient may hold zero or many connections; an empty
    connection set is removed from the map instead of being kept dangling.
  - Short Critical Sections: one exclusive lock guards the map. It is held for a
    map mutation or a single fan-out pass and never across socket I/O, because
    delivery only appends to each connection's outbound queue.
*/
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace/delivery-service/internal/domain/model"
)

// Hubber defines the gateway for session management and event routing.
type Hubber interface {
	Register(conn Connector)
	Unregister(recipientID string, connID uuid.UUID)
	Sweep(recipientID string) int
	FanOut(recipientID string, frame []byte) int
	FanOutFunc(recipientID string, frame []byte, admit func(Connector) bool) (delivered, skipped int)
	IsConnected(recipientID string) bool
	Stats() model.HubStats
	Shutdown()
}

var _ Hubber = (*Hub)(nil)

type hubConfig struct {
	sessionCapacity int
	logger          *slog.Logger
}

// [HUB] Hub maps each recipient id to its live connections behind one mutex.
type Hub struct {
	mu    sync.Mutex
	cells map[string]*cell

	config    hubConfig
	startedAt time.Time
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		cells: make(map[string]*cell),
		config: hubConfig{
			sessionCapacity: 2,
			logger:          slog.Default(),
		},
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register appends the connection to its recipient's set.
func (h *Hub) Register(conn Connector) {
	rID := conn.GetRecipientID()

	h.mu.Lock()
	defer h.mu.Unlock()

	// [LAZY_INIT] Create the set only when the first connection arrives.
	c, ok := h.cells[rID]
	if !ok {
		c = newCell(rID, h.config.sessionCapacity)
		h.cells[rID] = c
	}
	c.attach(conn)

	meta := conn.Metadata()
	h.config.logger.Debug("[HUB] session attached",
		slog.String("recipient_id", rID),
		slog.String("conn_id", conn.GetID().String()),
		slog.String("transport", meta.Transport),
		slog.String("remote_ip", meta.RemoteIP),
		slog.String("user_agent", meta.UserAgent),
		slog.Int("sessions", len(c.sessions)),
	)
}

// Unregister removes a single connection, usually called by the connection itself.
func (h *Hub) Unregister(recipientID string, connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.cells[recipientID]
	if !ok {
		return
	}
	removed, empty := c.detach(connID)
	if empty {
		delete(h.cells, recipientID)
	}
	if removed != nil {
		h.config.logger.Debug("[HUB] session detached",
			slog.String("recipient_id", recipientID),
			slog.String("conn_id", connID.String()),
			slog.String("transport", removed.Metadata().Transport),
			slog.Duration("age", time.Since(removed.CreatedAt())),
			slog.Uint64("frames_sent", removed.Sent()),
		)
	}
}

// Sweep prunes closed connections of a recipient and returns how many were removed.
func (h *Hub) Sweep(recipientID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.cells[recipientID]
	if !ok {
		return 0
	}
	removed := c.sweep()
	if len(c.sessions) == 0 {
		delete(h.cells, recipientID)
	}
	return removed
}

// FanOut delivers one frame to every live connection of the recipient in a
// single lock acquisition. There is no per-message retry: peers that miss a
// frame recover it through the REST history.
func (h *Hub) FanOut(recipientID string, frame []byte) int {
	delivered, _ := h.FanOutFunc(recipientID, frame, nil)
	return delivered
}

// FanOutFunc is FanOut restricted to the connections admit accepts. admit runs
// under the hub lock and must not call back into the hub. A nil admit accepts
// every connection.
func (h *Hub) FanOutFunc(recipientID string, frame []byte, admit func(Connector) bool) (delivered, skipped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.cells[recipientID]
	if !ok {
		return 0, 0
	}

	delivered, skipped = c.deliver(frame, admit)
	if len(c.sessions) == 0 {
		delete(h.cells, recipientID)
	}
	return delivered, skipped
}

func (h *Hub) IsConnected(recipientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.cells[recipientID]
	return ok
}

// Connections returns the number of registered connections for the recipient.
func (h *Hub) Connections(recipientID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.cells[recipientID]; ok {
		return len(c.sessions)
	}
	return 0
}

func (h *Hub) Stats() model.HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := model.HubStats{
		TotalRecipients: len(h.cells),
		Transports:      make(map[string]int),
		Uptime:          time.Since(h.startedAt),
	}
	for _, c := range h.cells {
		c.collect(&stats)
	}
	return stats
}

// Shutdown closes every registered connection and empties the map. Frames
// already queued on a connection are still flushed by its transport.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	closed := 0
	for rID, c := range h.cells {
		closed += len(c.sessions)
		c.closeAll()
		delete(h.cells, rID)
	}
	h.config.logger.Info("[HUB] registry shut down", slog.Int("closed_connections", closed))
}
