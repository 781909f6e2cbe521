package wsmarshaller

import (
	"encoding/json"

	"github.com/marketplace/delivery-service/internal/domain/model"
)

type WSNotification struct {
	SequenceID  int64  `json:"sequence_id"`
	RecipientID string `json:"recipient_id"`
	CreatedAt   int64  `json:"created_at"`
	Payload     any    `json:"payload"`
}

// mapNotification keeps JSON payloads as-is and falls back to a string for anything else.
func mapNotification(ev model.Event) *WSNotification {
	n := &WSNotification{
		SequenceID:  ev.SequenceID,
		RecipientID: ev.RecipientID,
		CreatedAt:   ev.CreatedAt.UnixMilli(),
	}

	switch {
	case len(ev.Payload) == 0:
		n.Payload = nil
	case json.Valid(ev.Payload):
		n.Payload = json.RawMessage(ev.Payload)
	default:
		n.Payload = string(ev.Payload)
	}

	return n
}
