package ops

import (
	"net/http"
	"time"

	httpsrv "github.com/marketplace/delivery-service/infra/server/http"
	"github.com/marketplace/delivery-service/internal/domain/model"
	"github.com/marketplace/delivery-service/internal/service"
	"github.com/marketplace/delivery-service/internal/service/jobs"
)

type RegistryStats struct {
	Recipients    int            `json:"recipients"`
	Connections   int            `json:"connections"`
	Transports    map[string]int `json:"transports"`
	PendingFrames int            `json:"pending_frames"`
	FramesSent    uint64         `json:"frames_sent"`
	Uptime        string         `json:"uptime"`
}

type JobStats struct {
	Name    string            `json:"name"`
	Running bool              `json:"running"`
	Recent  []model.JobReport `json:"recent"`
}

type StatsResponse struct {
	Version      string        `json:"version"`
	Registry     RegistryStats `json:"registry"`
	ChannelDepth int           `json:"channel_depth"`
	Job          JobStats      `json:"job"`
}

// StatsHandler serves a JSON snapshot of the pipeline for operators.
type StatsHandler struct {
	deliverer   service.Deliverer
	notifier    *service.Notifier
	coordinator *jobs.Coordinator
	history     *jobs.History
	jobName     string
}

func NewStatsHandler(
	deliverer service.Deliverer,
	notifier *service.Notifier,
	coordinator *jobs.Coordinator,
	history *jobs.History,
	jobName string,
) *StatsHandler {
	return &StatsHandler{
		deliverer:   deliverer,
		notifier:    notifier,
		coordinator: coordinator,
		history:     history,
		jobName:     jobName,
	}
}

func (h *StatsHandler) Snapshot() StatsResponse {
	hub := h.deliverer.Stats()
	return StatsResponse{
		Version: model.ServerVersion,
		Registry: RegistryStats{
			Recipients:    hub.TotalRecipients,
			Connections:   hub.TotalConnections,
			Transports:    hub.Transports,
			PendingFrames: hub.PendingFrames,
			FramesSent:    hub.FramesSent,
			Uptime:        hub.Uptime.Truncate(time.Second).String(),
		},
		ChannelDepth: h.notifier.Pending(),
		Job: JobStats{
			Name:    h.jobName,
			Running: h.coordinator.Running(),
			Recent:  h.history.Recent(),
		},
	}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	httpsrv.WriteJSON(w, http.StatusOK, h.Snapshot())
}
