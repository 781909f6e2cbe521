package reports

import (
	"context"

	"github.com/marketplace/delivery-service/internal/domain/model"
)

// [ON_JOB_REPORT]
// Records the report; failed runs are surfaced at warn level with the trace id.
func (h *ReportHandler) OnJobReport(ctx context.Context, report *model.JobReport) error {
	h.history.Record(*report)

	if report.Failed() {
		h.logger.Warn("JOB_REPORT_FAILED_RUN",
			"job", report.Job,
			"run_id", report.RunID,
			"trace_id", TraceIDFromContext(ctx),
			"err", report.Error,
		)
		return nil
	}

	h.logger.Debug("JOB_REPORT_RECEIVED",
		"job", report.Job,
		"run_id", report.RunID,
		"duration_ms", report.Duration().Milliseconds(),
	)
	return nil
}
