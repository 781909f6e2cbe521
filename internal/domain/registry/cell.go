package registry

import (
	"github.com/google/uuid"
	"github.com/marketplace/delivery-service/internal/domain/model"
)

// cell is the connection set of a single recipient.
// It has no lock of its own: every method runs under the Hub mutex.
type cell struct {
	// [IDENTITY]
	recipientID string

	// [SESSIONS]
	// Every live transport of the recipient (browser tabs, mobile, desktop).
	sessions []Connector
}

func newCell(recipientID string, capacity int) *cell {
	return &cell{
		recipientID: recipientID,
		sessions:    make([]Connector, 0, capacity),
	}
}

func (c *cell) attach(conn Connector) {
	c.sessions = append(c.sessions, conn)
}

// detach removes a single session. It returns the removed session, if any,
// and whether the cell is now empty.
func (c *cell) detach(connID uuid.UUID) (Connector, bool) {
	var removed Connector
	for i, conn := range c.sessions {
		if conn.GetID() == connID {
			removed = conn
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			break
		}
	}
	return removed, len(c.sessions) == 0
}

// sweep drops closed sessions and returns how many were removed.
func (c *cell) sweep() int {
	live := c.sessions[:0]
	for _, conn := range c.sessions {
		if conn.IsAlive() {
			live = append(live, conn)
		}
	}
	removed := len(c.sessions) - len(live)
	clear(c.sessions[len(live):])
	c.sessions = live
	return removed
}

// deliver retains only live sessions and pushes the frame to each of them.
// Sessions refused by admit are counted as skipped and left untouched.
// A session whose send fails is closed and goes away on the next pass.
func (c *cell) deliver(frame []byte, admit func(Connector) bool) (delivered, skipped int) {
	c.sweep()

	for _, conn := range c.sessions {
		if admit != nil && !admit(conn) {
			skipped++
			continue
		}
		if conn.Send(frame) {
			delivered++
			continue
		}
		conn.Close()
	}
	return delivered, skipped
}

// collect adds the cell's sessions to stats.
func (c *cell) collect(stats *model.HubStats) {
	stats.TotalConnections += len(c.sessions)
	for _, conn := range c.sessions {
		stats.PendingFrames += conn.Pending()
		stats.FramesSent += conn.Sent()
		stats.Transports[conn.Metadata().Transport]++
	}
}

func (c *cell) closeAll() {
	for _, conn := range c.sessions {
		conn.Close()
	}
	c.sessions = nil
}
