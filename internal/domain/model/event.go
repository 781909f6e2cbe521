package model

import "time"

// ServerVersion is reported to clients in the connection handshake.
var ServerVersion = "0.0.0"

// Event is a single notification row read from the upstream log.
// SequenceID increases strictly in storage order.
type Event struct {
	SequenceID  int64
	RecipientID string
	Payload     []byte
	CreatedAt   time.Time
}

// MaxSequenceID returns the highest sequence id in the batch, or 0 for an empty batch.
func MaxSequenceID(batch []Event) int64 {
	var top int64
	for _, ev := range batch {
		if ev.SequenceID > top {
			top = ev.SequenceID
		}
	}
	return top
}
