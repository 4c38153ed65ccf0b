// Package observability provides production-grade observability features
// for the event bus: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds dispatch context to a logger.
// Returns a new logger with event_type, subscriber, and attempt fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "OrderPlaced", "billing.Charge", 1)
//	enriched.Info("processing") // includes event_type, subscriber, attempt
func EnrichLogger(logger *slog.Logger, eventType, subscriber string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_type", eventType),
		slog.String("subscriber", subscriber),
		slog.Int("attempt", attempt),
	)
}

// LogPostStart logs an event reaching the bus.
func LogPostStart(logger *slog.Logger, eventType string) {
	if logger == nil {
		return
	}
	logger.Debug("event posted",
		slog.String("event_type", eventType),
	)
}

// LogPostComplete logs a Post call finishing, including how many
// subscribers it fanned out to.
func LogPostComplete(logger *slog.Logger, eventType string, durationMs float64, subscriberCount int) {
	if logger == nil {
		return
	}
	logger.Debug("event dispatch completed",
		slog.String("event_type", eventType),
		slog.Float64("duration_ms", durationMs),
		slog.Int("subscriber_count", subscriberCount),
	)
}

// LogDispatchStart logs a single subscriber invocation starting.
func LogDispatchStart(logger *slog.Logger, eventType, subscriber string) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch starting",
		slog.String("event_type", eventType),
		slog.String("subscriber", subscriber),
	)
}

// LogDispatchComplete logs a successful subscriber invocation.
func LogDispatchComplete(logger *slog.Logger, eventType, subscriber string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch completed",
		slog.String("event_type", eventType),
		slog.String("subscriber", subscriber),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDispatchFailed logs a subscriber invocation's terminal failure.
func LogDispatchFailed(logger *slog.Logger, eventType, subscriber string, err error, totalRetries int) {
	if logger == nil {
		return
	}
	logger.Error("dispatch failed",
		slog.String("event_type", eventType),
		slog.String("subscriber", subscriber),
		slog.String("error", err.Error()),
		slog.Int("total_retries", totalRetries),
	)
}

// LogSkipped logs an idempotency check vetoing a primary handler.
func LogSkipped(logger *slog.Logger, eventType, subscriber string) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch skipped by idempotency check",
		slog.String("event_type", eventType),
		slog.String("subscriber", subscriber),
	)
}

// LogDeadEvent logs an event that matched no subscriber.
func LogDeadEvent(logger *slog.Logger, eventType string) {
	if logger == nil {
		return
	}
	logger.Warn("dead event",
		slog.String("event_type", eventType),
	)
}

// LogFailureSinkError logs a failure sink that itself errored while
// recording a terminal dispatch failure (non-fatal; dispatch already
// completed).
func LogFailureSinkError(logger *slog.Logger, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("failure sink record failed",
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
