package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/trace"

	"github.com/marketplace/delivery-service/internal/domain/model"
)

// ReportDispatcher publishes job reports. It satisfies jobs.Reporter.
type ReportDispatcher struct {
	publisher message.Publisher
	topic     string
}

func NewReportDispatcher(pub message.Publisher, topic string) *ReportDispatcher {
	return &ReportDispatcher{
		publisher: pub,
		topic:     topic,
	}
}

func (d *ReportDispatcher) Report(ctx context.Context, report model.JobReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("report dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("job", report.Job)
	msg.Metadata.Set("run_id", report.RunID)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata.Set("trace_id", sc.TraceID().String())
	}

	if err := d.publisher.Publish(d.topic, msg); err != nil {
		return fmt.Errorf("report dispatcher: failed to publish to topic %s: %w", d.topic, err)
	}
	return nil
}

func (d *ReportDispatcher) Topic() string {
	return d.topic
}
