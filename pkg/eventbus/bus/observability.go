package bus

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/toby1123yjh/eventbus/pkg/eventbus/observability"
	"go.opentelemetry.io/otel/trace"
)

func eventTypeName(event any) string {
	if event == nil {
		return "unknown"
	}
	return reflect.TypeOf(event).String()
}

// LoggingInterceptor logs every dispatch's lifecycle through the
// observability package's structured logging helpers, the bus-side
// equivalent of the original's LoggingEventInterceptor.
type LoggingInterceptor struct {
	BaseInterceptor
	logger     *slog.Logger
	subscriber string
	order      int
}

// NewLoggingInterceptor builds a LoggingInterceptor. subscriber names the
// listener this interceptor is attached to, for log correlation; logger
// defaults to slog.Default() if nil.
func NewLoggingInterceptor(subscriber string, logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger, subscriber: subscriber, order: 100}
}

// WithOrder sets the interceptor's execution order and returns it for chaining.
func (l *LoggingInterceptor) WithOrder(order int) *LoggingInterceptor {
	l.order = order
	return l
}

func (l *LoggingInterceptor) Order() int { return l.order }

func (l *LoggingInterceptor) BeforeProcessing(event any, _ *InterceptorContext) {
	observability.LogDispatchStart(l.logger, eventTypeName(event), l.subscriber)
}

func (l *LoggingInterceptor) AfterProcessingSuccess(event any, ictx *InterceptorContext) {
	if ictx.Skipped() {
		observability.LogSkipped(l.logger, eventTypeName(event), l.subscriber)
		return
	}
	observability.LogDispatchComplete(l.logger, eventTypeName(event), l.subscriber, float64(ictx.Duration().Milliseconds()))
}

func (l *LoggingInterceptor) AfterProcessingFailure(event any, cause error, ictx *InterceptorContext) {
	observability.LogDispatchFailed(l.logger, eventTypeName(event), l.subscriber, cause, ictx.RetryCount())
}

// MetricsInterceptor records dispatch metrics through a
// observability.MetricsRecorder, the bus-side equivalent of the original's
// PerformanceMonitorInterceptor.
type MetricsInterceptor struct {
	BaseInterceptor
	recorder observability.MetricsRecorder
	order    int
}

// NewMetricsInterceptor builds a MetricsInterceptor. A nil recorder falls
// back to observability.NoopMetrics{}.
func NewMetricsInterceptor(recorder observability.MetricsRecorder) *MetricsInterceptor {
	if recorder == nil {
		recorder = observability.NoopMetrics{}
	}
	return &MetricsInterceptor{recorder: recorder, order: 10}
}

// WithOrder sets the interceptor's execution order and returns it for chaining.
func (m *MetricsInterceptor) WithOrder(order int) *MetricsInterceptor {
	m.order = order
	return m
}

func (m *MetricsInterceptor) Order() int { return m.order }

func (m *MetricsInterceptor) AfterProcessingSuccess(event any, ictx *InterceptorContext) {
	ctx := context.Background()
	eventType := eventTypeName(event)
	if ictx.Skipped() {
		m.recorder.RecordSkipped(ctx, eventType)
		return
	}
	m.recorder.RecordDispatch(ctx, eventType, ictx.Duration(), ictx.RetryCount(), nil)
}

func (m *MetricsInterceptor) AfterProcessingFailure(event any, cause error, ictx *InterceptorContext) {
	m.recorder.RecordDispatch(context.Background(), eventTypeName(event), ictx.Duration(), ictx.RetryCount(), cause)
}

const tracingSpanAttribute = "bus.tracing.span"

// TracingInterceptor starts and ends an OTel span around each dispatch
// through a observability.SpanManager, the bus-side equivalent of the
// original's distributed tracing support.
//
// Spans are rooted at context.Background() rather than the Post call's
// context: Interceptor hooks are not passed a context.Context, so a
// dispatch span cannot be a child of its enclosing post span. It still
// carries the event type and duration, which is what a dashboard query
// needs.
type TracingInterceptor struct {
	BaseInterceptor
	spans observability.SpanManager
	order int
}

// NewTracingInterceptor builds a TracingInterceptor. A nil SpanManager
// falls back to observability.NoopSpanManager{}.
func NewTracingInterceptor(spans observability.SpanManager) *TracingInterceptor {
	if spans == nil {
		spans = observability.NoopSpanManager{}
	}
	return &TracingInterceptor{spans: spans, order: 10}
}

// WithOrder sets the interceptor's execution order and returns it for chaining.
func (t *TracingInterceptor) WithOrder(order int) *TracingInterceptor {
	t.order = order
	return t
}

func (t *TracingInterceptor) Order() int { return t.order }

func (t *TracingInterceptor) BeforeProcessing(event any, ictx *InterceptorContext) {
	_, span := t.spans.StartDispatchSpan(context.Background(), eventTypeName(event))
	ictx.SetAttribute(tracingSpanAttribute, span)
}

func (t *TracingInterceptor) AfterProcessingSuccess(event any, ictx *InterceptorContext) {
	t.endSpan(ictx, nil)
}

func (t *TracingInterceptor) AfterProcessingFailure(event any, cause error, ictx *InterceptorContext) {
	t.endSpan(ictx, cause)
}

func (t *TracingInterceptor) endSpan(ictx *InterceptorContext, err error) {
	v, ok := ictx.Attribute(tracingSpanAttribute)
	if !ok {
		return
	}
	span, ok := v.(trace.Span)
	if !ok {
		return
	}
	t.spans.EndSpanWithError(span, err)
}

// StatsInterceptor accumulates per-event-type dispatch counters in memory,
// the bus-side equivalent of the original's StatisticsInterceptor used for
// lightweight in-process dashboards without a metrics backend.
type StatsInterceptor struct {
	BaseInterceptor
	order int
	mu    sync.Mutex
	stats map[string]*DispatchStats
}

// DispatchStats holds running totals for one event type.
type DispatchStats struct {
	Succeeded int64
	Skipped   int64
	Failed    int64
	Retries   int64
}

// NewStatsInterceptor builds an empty StatsInterceptor.
func NewStatsInterceptor() *StatsInterceptor {
	return &StatsInterceptor{stats: make(map[string]*DispatchStats), order: 50}
}

// WithOrder sets the interceptor's execution order and returns it for chaining.
func (s *StatsInterceptor) WithOrder(order int) *StatsInterceptor {
	s.order = order
	return s
}

func (s *StatsInterceptor) Order() int { return s.order }

func (s *StatsInterceptor) AfterProcessingSuccess(event any, ictx *InterceptorContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entryLocked(eventTypeName(event))
	if ictx.Skipped() {
		st.Skipped++
		return
	}
	st.Succeeded++
	st.Retries += int64(ictx.RetryCount())
}

func (s *StatsInterceptor) AfterProcessingFailure(event any, _ error, ictx *InterceptorContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.entryLocked(eventTypeName(event))
	st.Failed++
	st.Retries += int64(ictx.RetryCount())
}

func (s *StatsInterceptor) entryLocked(eventType string) *DispatchStats {
	st, ok := s.stats[eventType]
	if !ok {
		st = &DispatchStats{}
		s.stats[eventType] = st
	}
	return st
}

// Snapshot returns a copy of the current per-event-type stats.
func (s *StatsInterceptor) Snapshot() map[string]DispatchStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]DispatchStats, len(s.stats))
	for k, v := range s.stats {
		out[k] = *v
	}
	return out
}
