// Package otel configures the process-wide OpenTelemetry tracer provider.
package otel

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/marketplace/delivery-service/config"
)

var Module = fx.Module("otel",
	fx.Provide(NewTracerProvider),
	fx.Invoke(func(lc fx.Lifecycle, tp *sdktrace.TracerProvider) {
		lc.Append(fx.Hook{
			OnStop: tp.Shutdown,
		})
	}),
)

// NewTracerProvider installs a global provider. Finished spans are written to
// the debug log; there is no remote exporter.
func NewTracerProvider(cfg *config.Config, logger *slog.Logger) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.Service.Name),
		attribute.String("service.version", cfg.Service.Version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithSpanProcessor(&logProcessor{logger: logger}),
	)
	otel.SetTracerProvider(tp)
	return tp
}

// logProcessor logs every finished span at debug level.
type logProcessor struct {
	logger *slog.Logger
}

func (p *logProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !p.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	p.logger.Debug("[TRACE] span ended",
		slog.String("span", s.Name()),
		slog.String("trace_id", s.SpanContext().TraceID().String()),
		slog.Duration("duration", s.EndTime().Sub(s.StartTime())),
		slog.String("status", s.Status().Code.String()),
	)
}

func (p *logProcessor) Shutdown(context.Context) error   { return nil }
func (p *logProcessor) ForceFlush(context.Context) error { return nil }
