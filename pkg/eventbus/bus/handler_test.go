package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

type handlerTestEvent struct{ Value int }

func TestGroupBuilder_RequiresPrimary(t *testing.T) {
	b := &GroupBuilder[handlerTestEvent]{}
	if _, err := b.build(); err == nil {
		t.Fatal("expected error building a GroupBuilder with no primary handler")
	}
}

func TestGroupBuilder_DuplicateIdempotentErrors(t *testing.T) {
	b := Subscribe(func(context.Context, handlerTestEvent) error { return nil }).
		Idempotent(func(context.Context, handlerTestEvent) bool { return true }).
		Idempotent(func(context.Context, handlerTestEvent) bool { return false })

	if _, err := b.build(); err == nil {
		t.Fatal("expected error on duplicate Idempotent")
	}
}

func TestGroupBuilder_DuplicateRetryErrors(t *testing.T) {
	b := Subscribe(func(context.Context, handlerTestEvent) error { return nil }).
		Retry(3, time.Millisecond).
		Retry(5, time.Millisecond)

	if _, err := b.build(); err == nil {
		t.Fatal("expected error on duplicate Retry")
	}
}

func TestGroupBuilder_MutuallyExclusiveFailureHandlers(t *testing.T) {
	b := Subscribe(func(context.Context, handlerTestEvent) error { return nil }).
		OnFailure(func(context.Context, handlerTestEvent) {}).
		OnFailureWithContext(func(context.Context, handlerTestEvent, *FailureContext) {})

	if _, err := b.build(); err == nil {
		t.Fatal("expected error when both OnFailure and OnFailureWithContext are set")
	}
}

func TestGroupBuilder_BuildWidensToAny(t *testing.T) {
	var received handlerTestEvent
	b := Subscribe(func(_ context.Context, e handlerTestEvent) error {
		received = e
		return nil
	})

	g, err := b.build()
	if err != nil {
		t.Fatalf("build() error: %v", err)
	}

	if err := g.primary(context.Background(), handlerTestEvent{Value: 42}); err != nil {
		t.Fatalf("primary() error: %v", err)
	}
	if received.Value != 42 {
		t.Fatalf("received.Value = %d, want 42", received.Value)
	}
}

func TestGroupBuilder_RetryIfWired(t *testing.T) {
	predicate := func(err error) bool { return err != nil && err.Error() == "retry me" }
	b := Subscribe(func(context.Context, handlerTestEvent) error { return nil }).
		Retry(3, time.Millisecond).
		RetryIf(predicate)

	g, err := b.build()
	if err != nil {
		t.Fatalf("build() error: %v", err)
	}
	if g.retryable == nil {
		t.Fatal("handlerGroup.retryable was not wired from RetryIf")
	}
	if !g.retryable(errors.New("retry me")) {
		t.Fatal("retryable predicate did not match its own sentinel error")
	}
	if g.retryable(errors.New("stop")) {
		t.Fatal("retryable predicate incorrectly matched an unrelated error")
	}
}

func TestHandlerGroup_HasFailureHandler(t *testing.T) {
	g := &handlerGroup{}
	if g.hasFailureHandler() {
		t.Fatal("hasFailureHandler() = true with no failure handler set")
	}
	g.failSimple = func(context.Context, any) {}
	if !g.hasFailureHandler() {
		t.Fatal("hasFailureHandler() = false with failSimple set")
	}
}

func TestHandlerGroup_InvokeFailurePrefersContextVariant(t *testing.T) {
	var calledSimple, calledContext bool
	g := &handlerGroup{
		failSimple:  func(context.Context, any) { calledSimple = true },
		failContext: func(context.Context, any, *FailureContext) { calledContext = true },
	}
	g.invokeFailure(context.Background(), handlerTestEvent{}, &FailureContext{})

	if !calledContext || calledSimple {
		t.Fatalf("invokeFailure() called simple=%v context=%v, want only context variant when both are set", calledSimple, calledContext)
	}
}
