// Package bus implements an in-process publish/subscribe event bus with a
// three-phase reliability model: an optional idempotency check gates a
// retrying primary handler, and a terminal failure handler receives a
// FailureContext when every attempt is exhausted.
//
// Listener registration uses a generic builder API instead of annotation
// reflection:
//
//	bus.Subscribe(func(ctx context.Context, e OrderPlaced) error {
//	    return ship(e)
//	}).Retry(3, 200*time.Millisecond).OnFailureWithContext(handleFailure)
//
// A listener's handlers are grouped by event type; at most one primary,
// one idempotency predicate and one failure handler may exist per
// (listener, event type) pair. EventBus dispatches synchronously and
// re-entrantly on the calling goroutine; AsyncEventBus dispatches through a
// bounded worker pool while preserving per-subscriber delivery order.
package bus
