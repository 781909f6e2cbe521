package model

// ConnectedPayload is the handshake frame sent once a connection has been registered.
type ConnectedPayload struct {
	Ok            bool   `json:"ok"`
	ConnectionID  string `json:"connection_id"`
	RecipientID   string `json:"recipient_id"`
	ServerVersion string `json:"server_version"`
}
