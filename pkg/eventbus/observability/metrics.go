package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records event bus dispatch metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records one subscriber invocation: its event type,
	// duration, retry count, and whether it ultimately failed.
	RecordDispatch(ctx context.Context, eventType string, duration time.Duration, retries int, err error)

	// RecordPost records a Post call reaching the bus, independent of how
	// many subscribers it fanned out to.
	RecordPost(ctx context.Context, eventType string, subscriberCount int)

	// RecordSkipped records an idempotency check vetoing a primary.
	RecordSkipped(ctx context.Context, eventType string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatches    metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	dispatchErrors metric.Int64Counter
	posts         metric.Int64Counter
	subscriberFanOut metric.Int64Histogram
	skipped       metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventbus")

	dispatches, err := meter.Int64Counter("eventbus.dispatch.count",
		metric.WithDescription("Number of subscriber dispatches"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("eventbus.dispatch.latency_ms",
		metric.WithDescription("Subscriber dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	dispatchErrors, err := meter.Int64Counter("eventbus.dispatch.errors",
		metric.WithDescription("Number of subscriber dispatches that ended in terminal failure"),
	)
	if err != nil {
		return nil, err
	}

	posts, err := meter.Int64Counter("eventbus.post.count",
		metric.WithDescription("Number of events posted to the bus"),
	)
	if err != nil {
		return nil, err
	}

	subscriberFanOut, err := meter.Int64Histogram("eventbus.post.fanout",
		metric.WithDescription("Number of subscribers matched per post"),
	)
	if err != nil {
		return nil, err
	}

	skipped, err := meter.Int64Counter("eventbus.dispatch.skipped",
		metric.WithDescription("Number of dispatches skipped by an idempotency check"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatches:       dispatches,
		dispatchLatency:  dispatchLatency,
		dispatchErrors:   dispatchErrors,
		posts:            posts,
		subscriberFanOut: subscriberFanOut,
		skipped:          skipped,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordDispatch records a subscriber dispatch: a count, its latency and,
// when err is non-nil, an error count. The retry count is not recorded.
func (m *otelMetrics) RecordDispatch(ctx context.Context, eventType string, duration time.Duration, retries int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}

	m.dispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dispatchLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.dispatchErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordPost records a Post call.
func (m *otelMetrics) RecordPost(ctx context.Context, eventType string, subscriberCount int) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}
	m.posts.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.subscriberFanOut.Record(ctx, int64(subscriberCount), metric.WithAttributes(attrs...))
}

// RecordSkipped records an idempotency-skipped dispatch.
func (m *otelMetrics) RecordSkipped(ctx context.Context, eventType string) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}
	m.skipped.Add(ctx, 1, metric.WithAttributes(attrs...))
}
