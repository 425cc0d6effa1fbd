package eventbus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// busMetrics holds OpenTelemetry counters. A nil *busMetrics records nothing.
type busMetrics struct {
	published     metric.Int64Counter
	delivered     metric.Int64Counter
	dropped       metric.Int64Counter
	handlerErrors metric.Int64Counter
	attrs         metric.MeasurementOption
}

func newBusMetrics(name string) *busMetrics {
	meter := otel.Meter(name)
	published, _ := meter.Int64Counter("eventbus.published",
		metric.WithDescription("Number of events published"),
		metric.WithUnit("{event}"),
	)
	delivered, _ := meter.Int64Counter("eventbus.delivered",
		metric.WithDescription("Number of channel deliveries and scheduled handler invocations"),
		metric.WithUnit("{delivery}"),
	)
	dropped, _ := meter.Int64Counter("eventbus.dropped",
		metric.WithDescription("Number of deliveries dropped because a reader lagged or the handler queue was full"),
		metric.WithUnit("{delivery}"),
	)
	handlerErrors, _ := meter.Int64Counter("eventbus.handler.errors",
		metric.WithDescription("Number of handler invocations that returned an error or panicked"),
		metric.WithUnit("{invocation}"),
	)
	return &busMetrics{
		published:     published,
		delivered:     delivered,
		dropped:       dropped,
		handlerErrors: handlerErrors,
		attrs:         metric.WithAttributes(attribute.String("bus", name)),
	}
}

func (m *busMetrics) recordPublished(ctx context.Context, topic string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.Add(ctx, 1, m.attrs, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *busMetrics) recordDelivered(ctx context.Context, n int64) {
	if m == nil || m.delivered == nil || n == 0 {
		return
	}
	m.delivered.Add(ctx, n, m.attrs)
}

func (m *busMetrics) recordDropped(ctx context.Context, n int64, reason string) {
	if m == nil || m.dropped == nil || n == 0 {
		return
	}
	m.dropped.Add(ctx, n, m.attrs, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *busMetrics) recordHandlerError(ctx context.Context, topic string) {
	if m == nil || m.handlerErrors == nil {
		return
	}
	m.handlerErrors.Add(ctx, 1, m.attrs, metric.WithAttributes(attribute.String("topic", topic)))
}
