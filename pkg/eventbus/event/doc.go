// Package event provides a structured event envelope plus the
// dead-letter/poison-pill machinery the bus package's DeadLetterSink wraps.
//
// # Overview
//
//   - Event interface with correlation and causation tracking
//   - BaseEvent[T] for type-safe event construction
//   - DeadLetterQueue and ParkedLetterQueue for terminal failure storage
//   - PoisonPillDetector for identifying events that keep failing
//
// # Event Interface
//
// All events implement the Event interface, which provides:
//
//   - Identity: ID, Type, Source
//   - Correlation: CorrelationID (traces related events), CausationID (parent event)
//   - Metadata: Timestamp, Version (schema), TenantID
//   - Payload: Data() returns the event payload
//
// Use BaseEvent[T] for type-safe event construction:
//
//	evt := event.New("order.created", "orders", tenantID, OrderPayload{...})
//	bus.Post(ctx, evt)
//
// # Event Correlation
//
// Events support distributed tracing through correlation and causation IDs:
//
//	// Parent event creates a new correlation chain
//	parent := event.New("workflow.started", "flow", tenantID, payload)
//	// parent.CorrelationID() == parent.ID() (root of chain)
//
//	// Child events inherit correlation, set causation
//	child := event.NewFromParent(parent, "step.completed", "flow", stepPayload)
//	// child.CorrelationID() == parent.ID()
//	// child.CausationID() == parent.ID()
//
// # Dead Letter and Poison Pill Handling
//
// InMemoryDLQ stores events a bus.EventBus gave up on after exhausting its
// retry policy:
//
//	dlq := event.NewInMemoryDLQ(event.DefaultDLQConfig)
//	poison := event.NewInMemoryPoisonPillDetector(event.DefaultInMemoryPoisonPillConfig)
//	bus := bus.New("orders", bus.WithFailureSink(bus.NewDeadLetterSink(dlq, poison, logger)))
//
// ParkedLetterQueue stores permanently failed events requiring manual review.
package event
