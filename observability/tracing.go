package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/xraph/courier"

// Tracer provides OpenTelemetry tracing for Courier.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global OpenTelemetry provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// NewTracerFrom creates a tracer from a specific provider.
func NewTracerFrom(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

func (t *Tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, eventID, endpointID string, attempt int) (context.Context, trace.Span) {
	return t.start(ctx, "courier.delivery",
		attribute.String("courier.delivery_id", deliveryID),
		attribute.String("courier.event_id", eventID),
		attribute.String("courier.endpoint_id", endpointID),
		attribute.Int("courier.attempt", attempt),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, outcome string, statusCode, latencyMs int, errMsg string) {
	span.SetAttributes(
		attribute.String("courier.outcome", outcome),
		attribute.Int("http.status_code", statusCode),
		attribute.Int("courier.latency_ms", latencyMs),
	)
	if errMsg != "" {
		span.SetAttributes(attribute.String("courier.error", errMsg))
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}

// StartScanSpan starts a span covering one scan pass.
func (t *Tracer) StartScanSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.start(ctx, "courier.scan")
}

// EndScanSpan ends a scan span with its counts.
func (t *Tracer) EndScanSpan(span trace.Span, due, claimed, conflicts int) {
	span.SetAttributes(
		attribute.Int("courier.due", due),
		attribute.Int("courier.claimed", claimed),
		attribute.Int("courier.conflicts", conflicts),
	)
	span.End()
}

// StartEmitSpan starts a span covering event emission.
func (t *Tracer) StartEmitSpan(ctx context.Context, tenantID, eventType string) (context.Context, trace.Span) {
	return t.start(ctx, "courier.emit",
		attribute.String("courier.tenant_id", tenantID),
		attribute.String("courier.event_type", eventType),
	)
}
