package bus

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// handlerGroup is the built, type-erased form of a GroupBuilder: everything
// the registry and processor need, with the event type hidden behind `any`
// parameters so a listener's groups for different event types can live in
// the same slice.
type handlerGroup struct {
	eventType reflect.Type

	primary    func(context.Context, any) error
	idempotent func(context.Context, any) bool // nil if not configured

	failSimple  func(context.Context, any)                   // nil unless OnFailure used
	failContext func(context.Context, any, *FailureContext) // nil unless OnFailureWithContext used

	retries      int
	retryWait    time.Duration
	hasRetry     bool
	concurrent   bool
	retryable    func(error) bool // nil means every error is retryable
}

// hasFailureHandler reports whether any terminal failure handler was registered.
func (g *handlerGroup) hasFailureHandler() bool {
	return g.failSimple != nil || g.failContext != nil
}

func (g *handlerGroup) invokeFailure(ctx context.Context, event any, fc *FailureContext) {
	switch {
	case g.failContext != nil:
		g.failContext(ctx, event, fc)
	case g.failSimple != nil:
		g.failSimple(ctx, event)
	}
}

// groupBuilder is the package-private interface that lets Register accept a
// heterogeneous variadic list of GroupBuilder[E1], GroupBuilder[E2], ...
// without exposing the event type parameter at the call site.
type groupBuilder interface {
	build() (*handlerGroup, error)
}

// GroupBuilder assembles the handlers a single listener registers for a
// single event type E. Build it with Subscribe and chain the optional
// Idempotent/Retry/Concurrent/OnFailure(WithContext) calls.
type GroupBuilder[E any] struct {
	primary    func(context.Context, E) error
	idempotent func(context.Context, E) bool

	failSimple  func(context.Context, E)
	failContext func(context.Context, E, *FailureContext)

	retries   int
	retryWait time.Duration
	hasRetry  bool
	concurrent bool
	retryable func(error) bool

	err error // first configuration error, surfaced at build()
}

// Subscribe starts a GroupBuilder for event type E with its required primary
// handler.
func Subscribe[E any](primary func(context.Context, E) error) *GroupBuilder[E] {
	return &GroupBuilder[E]{primary: primary}
}

// Idempotent installs a predicate consulted before the primary runs; when it
// returns false the primary (and any retry/failure handling) is skipped.
// Return true to let the primary proceed.
func (b *GroupBuilder[E]) Idempotent(fn func(context.Context, E) bool) *GroupBuilder[E] {
	if b.idempotent != nil {
		b.err = fmt.Errorf("bus: duplicate Idempotent for %T", *new(E))
		return b
	}
	b.idempotent = fn
	return b
}

// Retry configures the primary to be retried up to `retries` additional
// times, waiting `interval` between attempts.
func (b *GroupBuilder[E]) Retry(retries int, interval time.Duration) *GroupBuilder[E] {
	if b.hasRetry {
		b.err = fmt.Errorf("bus: duplicate Retry for %T", *new(E))
		return b
	}
	b.hasRetry = true
	b.retries = retries
	b.retryWait = interval
	return b
}

// RetryIf narrows which errors consume a retry attempt; an error for which
// fn returns false goes straight to the terminal failure handler instead of
// waiting out the remaining attempts. Pairs naturally with
// github.com/toby1123yjh/eventbus/pkg/eventbus/errors.IsRetryable so a
// subscriber can distinguish a transient downstream failure from a
// permanent one.
func (b *GroupBuilder[E]) RetryIf(fn func(error) bool) *GroupBuilder[E] {
	b.retryable = fn
	return b
}

// Concurrent marks the primary as safe to run concurrently with itself; by
// default a subscriber's primary invocations are serialized.
func (b *GroupBuilder[E]) Concurrent() *GroupBuilder[E] {
	b.concurrent = true
	return b
}

// OnFailure installs a terminal failure handler that only receives the
// event. Mutually exclusive with OnFailureWithContext.
func (b *GroupBuilder[E]) OnFailure(fn func(context.Context, E)) *GroupBuilder[E] {
	if b.failSimple != nil || b.failContext != nil {
		b.err = fmt.Errorf("bus: duplicate failure handler for %T", *new(E))
		return b
	}
	b.failSimple = fn
	return b
}

// OnFailureWithContext installs a terminal failure handler that also
// receives the FailureContext describing why the primary never succeeded.
// Mutually exclusive with OnFailure.
func (b *GroupBuilder[E]) OnFailureWithContext(fn func(context.Context, E, *FailureContext)) *GroupBuilder[E] {
	if b.failSimple != nil || b.failContext != nil {
		b.err = fmt.Errorf("bus: duplicate failure handler for %T", *new(E))
		return b
	}
	b.failContext = fn
	return b
}

// build type-erases the builder into a handlerGroup, widening E's handler
// signatures to accept `any` and type-asserting back down on each call.
func (b *GroupBuilder[E]) build() (*handlerGroup, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.primary == nil {
		return nil, fmt.Errorf("bus: Subscribe requires a primary handler for %T", *new(E))
	}

	g := &handlerGroup{
		eventType:  reflect.TypeOf((*E)(nil)).Elem(),
		retries:    b.retries,
		retryWait:  b.retryWait,
		hasRetry:   b.hasRetry,
		concurrent: b.concurrent,
		retryable:  b.retryable,
	}

	primary := b.primary
	g.primary = func(ctx context.Context, event any) error {
		return primary(ctx, event.(E))
	}

	if idempotent := b.idempotent; idempotent != nil {
		g.idempotent = func(ctx context.Context, event any) bool {
			return idempotent(ctx, event.(E))
		}
	}

	if failSimple := b.failSimple; failSimple != nil {
		g.failSimple = func(ctx context.Context, event any) {
			failSimple(ctx, event.(E))
		}
	}

	if failContext := b.failContext; failContext != nil {
		g.failContext = func(ctx context.Context, event any, fc *FailureContext) {
			failContext(ctx, event.(E), fc)
		}
	}

	return g, nil
}
