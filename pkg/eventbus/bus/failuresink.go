package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/toby1123yjh/eventbus/pkg/eventbus/event"
)

// FailureSink receives every terminal dispatch failure, independent of
// whatever failure handler the subscriber itself configured. It is the
// optional adjunct to the three-phase reliability model: a durable record
// of what the bus gave up on, for later inspection or reprocessing.
type FailureSink interface {
	Record(ctx context.Context, fc *FailureContext) error
}

// WithFailureSink wires a FailureSink into every dispatch failure on the
// bus, composed alongside (not instead of) the ExceptionHandler.
func WithFailureSink(sink FailureSink) Option {
	return func(b *EventBus) { b.failureSink = sink }
}

// DeadLetterSink adapts event.DeadLetterQueue and the optional
// event.PoisonPillDetector into a FailureSink: every terminal failure is
// enqueued as an event.FailedEvent, and recorded with the poison-pill
// detector if one is configured, so a handler that fails the same kind of
// event repeatedly can be identified without reading the DLQ by hand.
type DeadLetterSink struct {
	dlq    event.DeadLetterQueue
	poison event.PoisonPillDetector
	logger *slog.Logger
}

// NewDeadLetterSink builds a DeadLetterSink. poison may be nil to skip
// poison-pill tracking.
func NewDeadLetterSink(dlq event.DeadLetterQueue, poison event.PoisonPillDetector, logger *slog.Logger) *DeadLetterSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterSink{dlq: dlq, poison: poison, logger: logger}
}

// Record implements FailureSink.
func (s *DeadLetterSink) Record(ctx context.Context, fc *FailureContext) error {
	failed := failedEventFromContext(fc)

	if s.poison != nil {
		if err := s.poison.Record(ctx, failed); err != nil {
			s.logger.Warn("poison pill detector record failed", slog.Any("error", err))
		}
	}

	return s.dlq.Enqueue(ctx, failed)
}

func failedEventFromContext(fc *FailureContext) *event.FailedEvent {
	eventType := "unknown"
	if et := reflect.TypeOf(fc.OriginalEvent()); et != nil {
		eventType = et.String()
	}

	data, err := json.Marshal(fc.OriginalEvent())
	if err != nil {
		data = []byte(fmt.Sprintf("%v", fc.OriginalEvent()))
	}

	return &event.FailedEvent{
		EventID:       fmt.Sprintf("%s-%d", eventType, fc.FirstAttemptAt().UnixNano()),
		EventType:     eventType,
		EventData:     data,
		ErrorMessage:  fc.Cause().Error(),
		AttemptCount:  fc.TotalRetries() + 1,
		FirstFailedAt: fc.FirstAttemptAt(),
		LastFailedAt:  fc.LastAttemptAt(),
		Metadata: map[string]any{
			"failure_type": fc.FailureType().String(),
		},
	}
}
