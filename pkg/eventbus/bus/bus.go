package bus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	busdirectory "github.com/toby1123yjh/eventbus/pkg/eventbus/registry"
)

// directory holds every named EventBus this process has constructed, the Go
// equivalent of looking up a Spring-managed bean by its
// easyeventbus.identifier: a component can call Lookup(id) to reach a bus
// built elsewhere instead of threading a reference through its constructor.
var directory = busdirectory.New[string, *EventBus]()

// Lookup returns the bus registered under identifier, if any EventBus or
// AsyncEventBus has been constructed with it.
func Lookup(identifier string) (*EventBus, bool) {
	return directory.Get(identifier)
}

// ExceptionHandler is notified of every terminal dispatch failure, in
// addition to whatever failure handler the subscriber itself configured.
// It is the bus-wide equivalent of Guava's SubscriberExceptionHandler.
type ExceptionHandler interface {
	HandleException(ctx context.Context, event any, fc *FailureContext)
}

// ExceptionHandlerFunc adapts a plain function to ExceptionHandler.
type ExceptionHandlerFunc func(ctx context.Context, event any, fc *FailureContext)

func (f ExceptionHandlerFunc) HandleException(ctx context.Context, event any, fc *FailureContext) {
	f(ctx, event, fc)
}

// loggingExceptionHandler is the default ExceptionHandler: it warns with
// the failure's classification and cause, matching LoggingEventInterceptor's
// register-a-warning-and-move-on behavior.
type loggingExceptionHandler struct {
	logger *slog.Logger
}

func (h *loggingExceptionHandler) HandleException(_ context.Context, event any, fc *FailureContext) {
	h.logger.Warn("event dispatch failed",
		slog.String("event_type", reflect.TypeOf(event).String()),
		slog.String("failure_type", fc.FailureType().String()),
		slog.Int("total_retries", fc.TotalRetries()),
		slog.Any("cause", fc.Cause()),
	)
}

type dispatchStateKey struct{}

// dispatchState threads a per-initial-Post queue and in-flight flag through
// context.Context, Go's substitute for the thread-local the original used
// to make synchronous dispatch re-entrant: a handler that posts another
// event using the ctx it was given enqueues onto the same state instead of
// recursing, so causal order is preserved and stack depth stays bounded.
type dispatchState struct {
	mu          sync.Mutex
	queue       []any
	dispatching bool
}

// Option configures an EventBus at construction.
type Option func(*EventBus)

// WithLogger overrides the bus's slog.Logger (defaults to slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(b *EventBus) { b.logger = logger }
}

// WithInterceptors installs the bus's interceptor chain.
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(b *EventBus) { b.interceptors = interceptors }
}

// WithExceptionHandler overrides the bus-wide ExceptionHandler.
func WithExceptionHandler(h ExceptionHandler) Option {
	return func(b *EventBus) { b.exceptionHandler = h }
}

// WithMaxSubscribersPerEvent sets an advisory cap: exceeding it logs a
// warning rather than rejecting Register, matching the original's
// advisory framing of maxSubscribersPerEvent.
func WithMaxSubscribersPerEvent(max int) Option {
	return func(b *EventBus) { b.maxSubscribersPerEvent = max }
}

// EventBus is a synchronous, re-entrant, concurrency-safe publish/subscribe
// bus. Post dispatches on the calling goroutine, in registration order per
// event type, serializing a given subscriber's non-Concurrent primary
// across concurrent Post calls.
type EventBus struct {
	identifier             string
	logger                 *slog.Logger
	registry               *registry
	processor              *processor
	interceptors           []Interceptor
	exceptionHandler       ExceptionHandler
	failureSink            FailureSink
	maxSubscribersPerEvent int
}

// New creates a synchronous EventBus identified by identifier, the way
// multiple independent buses can coexist in one process.
func New(identifier string, opts ...Option) *EventBus {
	b := &EventBus{identifier: identifier}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.exceptionHandler == nil {
		b.exceptionHandler = &loggingExceptionHandler{logger: b.logger}
	}
	if b.failureSink != nil {
		base := b.exceptionHandler
		sink := b.failureSink
		b.exceptionHandler = ExceptionHandlerFunc(func(ctx context.Context, event any, fc *FailureContext) {
			base.HandleException(ctx, event, fc)
			if err := sink.Record(ctx, fc); err != nil {
				b.logger.Warn("failure sink record failed", slog.Any("error", err))
			}
		})
	}
	b.registry = newRegistry(b.maxSubscribersPerEvent, b.onMaxSubscribersExceeded)
	b.processor = newProcessor(NewInterceptorChain(b.logger, b.interceptors...))
	directory.Register(identifier, b)
	return b
}

// Identifier returns the name this bus was constructed with.
func (b *EventBus) Identifier() string { return b.identifier }

func (b *EventBus) onMaxSubscribersExceeded(eventType reflect.Type, count, max int) {
	b.logger.Warn("subscriber count exceeds configured maximum",
		slog.String("event_type", eventType.String()),
		slog.Int("count", count),
		slog.Int("max", max),
	)
}

// Register attaches one or more GroupBuilder results to listener. Each
// builder targets a distinct event type; at most one primary, idempotency
// predicate and failure handler may exist per (listener, event type) pair.
// Register is atomic: if any builder fails, nothing is registered.
func (b *EventBus) Register(listener any, builders ...groupBuilder) error {
	id := identify(listener)

	groups := make([]*handlerGroup, 0, len(builders))
	for _, gb := range builders {
		g, err := gb.build()
		if err != nil {
			return err
		}
		groups = append(groups, g)
	}

	registered := make([]*subscriber, 0, len(groups))
	for _, g := range groups {
		sub := &subscriber{listener: listener, identity: id, group: g}
		if err := b.registry.register(sub); err != nil {
			for _, r := range registered {
				b.registry.unregister(r.identity, r.group.eventType)
			}
			return err
		}
		registered = append(registered, sub)
	}
	return nil
}

// Unregister removes every handler group listener registered on this bus.
// It returns an error if listener was never registered.
func (b *EventBus) Unregister(listener any) error {
	if !b.registry.unregister(identify(listener), nil) {
		return fmt.Errorf("bus: listener not registered")
	}
	return nil
}

// Post dispatches event to every matching subscriber, synchronously and in
// registration order. It is safe to call concurrently from multiple
// goroutines, and safe to call re-entrantly from inside a handler as long
// as the handler forwards the ctx it was given.
func (b *EventBus) Post(ctx context.Context, event any) error {
	if state, ok := ctx.Value(dispatchStateKey{}).(*dispatchState); ok {
		state.mu.Lock()
		state.queue = append(state.queue, event)
		if state.dispatching {
			state.mu.Unlock()
			return nil
		}
		state.dispatching = true
		state.mu.Unlock()
		b.drain(ctx, state)
		return nil
	}

	state := &dispatchState{queue: []any{event}, dispatching: true}
	derived := context.WithValue(ctx, dispatchStateKey{}, state)
	b.drain(derived, state)
	return ctx.Err()
}

func (b *EventBus) drain(ctx context.Context, state *dispatchState) {
	for {
		state.mu.Lock()
		if len(state.queue) == 0 {
			state.dispatching = false
			state.mu.Unlock()
			return
		}
		event := state.queue[0]
		state.queue = state.queue[1:]
		state.mu.Unlock()

		b.dispatchOne(ctx, event)
	}
}

func (b *EventBus) dispatchOne(ctx context.Context, event any) {
	concreteType := reflect.TypeOf(event)
	subs := b.registry.lookup(concreteType)

	if len(subs) == 0 {
		b.postDeadEvent(ctx, event)
		return
	}

	for _, sub := range subs {
		b.processor.process(ctx, sub, event, b.exceptionHandler)
	}
}

func (b *EventBus) postDeadEvent(ctx context.Context, event any) {
	deadEventType := reflect.TypeOf(DeadEvent{})
	if !b.registry.hasSubscriberFor(deadEventType) {
		return
	}
	dead := DeadEvent{Source: b, OriginalEvent: event}
	for _, sub := range b.registry.lookup(deadEventType) {
		b.processor.process(ctx, sub, dead, b.exceptionHandler)
	}
}
