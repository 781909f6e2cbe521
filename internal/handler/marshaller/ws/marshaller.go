package wsmarshaller

import (
	"encoding/json"
	"time"

	"github.com/marketplace/delivery-service/internal/domain/model"
)

// Event names of system frames.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// WSEvent wraps system frames sent outside the notification stream.
type WSEvent struct {
	Event   string `json:"event"`
	ID      string `json:"id"`
	SentAt  int64  `json:"sent_at"`
	Payload any    `json:"payload"`
}

// MarshallDeliveryEvent encodes one notification frame.
func MarshallDeliveryEvent(ev model.Event) ([]byte, error) {
	return json.Marshal(mapNotification(ev))
}

// MarshallConnected encodes the handshake frame written right after the upgrade.
func MarshallConnected(p *model.ConnectedPayload) ([]byte, error) {
	return json.Marshal(&WSEvent{
		Event:   EventConnected,
		ID:      p.ConnectionID,
		SentAt:  time.Now().UnixMilli(),
		Payload: p,
	})
}

// MarshallDisconnected encodes the farewell frame written before a server-side close.
func MarshallDisconnected(connID string, p *model.DisconnectedPayload) ([]byte, error) {
	return json.Marshal(&WSEvent{
		Event:   EventDisconnected,
		ID:      connID,
		SentAt:  time.Now().UnixMilli(),
		Payload: p,
	})
}
