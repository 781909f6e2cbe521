package reports

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/marketplace/delivery-service/internal/service/jobs"
)

// ReportHandler consumes job reports and keeps the recent ones for /stats.
type ReportHandler struct {
	history *jobs.History
	logger  *slog.Logger
}

func NewReportHandler(history *jobs.History, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{history: history, logger: logger}
}

func NewRouter(logger *slog.Logger) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{
		CloseTimeout: 5 * time.Second,
	}, watermill.NewSlogLogger(logger.With(slog.String("component", "watermill"))))
}

// [REGISTRATION_PIPELINE]
func (h *ReportHandler) RegisterHandlers(router *message.Router, sub message.Subscriber, topic string) {
	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{"ON_JOB_REPORT", topic, Bind(h, h.OnJobReport)},
	}

	for _, c := range configs {
		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			NewRetryMiddleware(h.logger).Middleware,
			middleware.Timeout(10*time.Second),
		)
	}

	h.logger.Info("REPORT_PIPELINE_READY", "topic", topic)
}
