package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (HUB/TRANSPORT)
// This allows mocking and decoupling from the concrete implementation
type Connector interface {
	GetID() uuid.UUID
	GetRecipientID() string
	Send(frame []byte) bool                  // Non-blocking enqueue into the outbound queue
	Next(ctx context.Context) ([]byte, bool) // Blocks until a frame is queued or the connection dies
	Pending() int
	Sent() uint64
	Metadata() ConnectMetadata
	CreatedAt() time.Time
	IsAlive() bool
	Done() <-chan struct{}
	Close() // Terminate connection and release resources
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	Transport string
	RemoteIP  string
	UserAgent string
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id          uuid.UUID
	recipientID string
	metadata    ConnectMetadata
	createdAt   time.Time

	// [OUTBOUND_QUEUE]
	// Unbounded FIFO. A stalled peer grows only its own queue until close is detected.
	mu      sync.Mutex
	pending [][]byte
	closed  bool
	wakeCh  chan struct{}

	doneCh    chan struct{}
	closeOnce sync.Once

	sentCount atomic.Uint64
}

// NewConnector creates a live connection owned by recipientID.
func NewConnector(recipientID string, metadata ConnectMetadata) Connector {
	return &connect{
		id:          uuid.New(),
		recipientID: recipientID,
		metadata:    metadata,
		createdAt:   time.Now(),
		wakeCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}
}

// --- IMPLEMENTATION OF CONNECTOR INTERFACE ---

func (c *connect) GetID() uuid.UUID          { return c.id }
func (c *connect) GetRecipientID() string    { return c.recipientID }
func (c *connect) Metadata() ConnectMetadata { return c.metadata }
func (c *connect) CreatedAt() time.Time      { return c.createdAt }
func (c *connect) Sent() uint64              { return c.sentCount.Load() }
func (c *connect) Done() <-chan struct{}     { return c.doneCh }

// Send appends the frame to the outbound queue. It returns false only when the
// connection is already closed; the queue itself never rejects.
func (c *connect) Send(frame []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.pending = append(c.pending, frame)
	c.mu.Unlock()

	c.sentCount.Add(1)

	// [WAKEUP] Coalesced: one token is enough for the relay to drain everything.
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
	return true
}

// Next pops the oldest queued frame, waiting for one if the queue is empty.
// Frames queued before Close are still handed out; ok is false once a closed
// connection has nothing left or ctx is done.
func (c *connect) Next(ctx context.Context) ([]byte, bool) {
	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			frame := c.pending[0]
			c.pending[0] = nil
			c.pending = c.pending[1:]
			c.mu.Unlock()
			return frame, true
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return nil, false
		}

		select {
		case <-c.wakeCh:
		case <-c.doneCh:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (c *connect) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *connect) IsAlive() bool {
	select {
	case <-c.doneCh:
		return false
	default:
		return true
	}
}

// Close marks the connection dead. Send is rejected from now on, while frames
// already queued stay available to Next so the relay can flush them.
func (c *connect) Close() {
	// [IDEMPOTENCY_SHIELD]
	// Called by the transport on peer close, by the hub on shutdown and by
	// fan-out when a delivery fails.
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.doneCh)
	})
}
