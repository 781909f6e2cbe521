package model

import "time"

type HubStats struct {
	TotalRecipients  int            `json:"total_recipients"`
	TotalConnections int            `json:"total_connections"`
	PendingFrames    int            `json:"pending_frames"`
	FramesSent       uint64         `json:"frames_sent"`
	Transports       map[string]int `json:"transports"`
	Uptime           time.Duration  `json:"uptime"`
}
