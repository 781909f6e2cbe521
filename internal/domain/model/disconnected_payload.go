package model

// Close reasons reported to peers before the server closes a connection.
const (
	DisconnectShutdown  = "SHUTDOWN"
	DisconnectProbeFail = "PROBE_TIMEOUT"
)

// DisconnectedPayload represents the notification sent before the server closes the stream.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
	Code   int    `json:"code,omitempty"` // websocket close code
}
