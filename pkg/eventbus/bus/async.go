package bus

import (
	"context"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// AsyncEventBus dispatches through a bounded worker pool instead of the
// calling goroutine. Delivery to any single subscriber stays strictly FIFO
// even though the pool interleaves work across subscribers: each
// subscriber owns a private task queue, and only one drain goroutine per
// subscriber ever runs at a time, gated by a shared semaphore that caps
// total concurrent subscriber invocations across the whole bus.
type AsyncEventBus struct {
	*EventBus

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	delayedCfg  DelayedConfiguration
	schedOnce   sync.Once
	schedulerMu sync.Mutex
	scheduler   *delayedScheduler
}

// NewAsync creates an AsyncEventBus. cfg.AsyncWorkers bounds how many
// subscriber invocations may run concurrently across the whole bus
// (default 10, matching EasyEventBusProperties' asyncThreadPoolSize); the
// delayed scheduler described by cfg.Delayed is created lazily on first
// PostDelayed call.
func NewAsync(cfg Configuration, opts ...Option) *AsyncEventBus {
	workers := cfg.AsyncWorkers
	if workers <= 0 {
		workers = 10
	}
	opts = append(opts, WithMaxSubscribersPerEvent(cfg.MaxSubscribersPerEvent))
	return &AsyncEventBus{
		EventBus:   New(cfg.Identifier, opts...),
		sem:        semaphore.NewWeighted(int64(workers)),
		delayedCfg: cfg.Delayed,
	}
}

// Post enqueues event onto every matching subscriber's FIFO lane and
// returns without waiting for any handler to run. It never returns a
// dispatch error: terminal failures surface through the subscriber's
// failure handler and the bus's ExceptionHandler, same as the sync bus.
func (ab *AsyncEventBus) Post(ctx context.Context, event any) error {
	concreteType := reflect.TypeOf(event)
	subs := ab.registry.lookup(concreteType)

	if len(subs) == 0 {
		ab.dispatchDeadEvent(ctx, event)
		return nil
	}

	for _, sub := range subs {
		ab.dispatchToSubscriber(ctx, sub, event)
	}
	return nil
}

func (ab *AsyncEventBus) dispatchDeadEvent(ctx context.Context, event any) {
	deadEventType := reflect.TypeOf(DeadEvent{})
	if !ab.registry.hasSubscriberFor(deadEventType) {
		return
	}
	dead := DeadEvent{Source: ab.EventBus, OriginalEvent: event}
	for _, sub := range ab.registry.lookup(deadEventType) {
		ab.dispatchToSubscriber(ctx, sub, dead)
	}
}

func (ab *AsyncEventBus) dispatchToSubscriber(ctx context.Context, sub *subscriber, event any) {
	task := func() {
		ab.processor.process(ctx, sub, event, ab.exceptionHandler)
	}
	if sub.enqueue(task) {
		ab.wg.Add(1)
		go ab.drainSubscriber(sub)
	}
}

// drainSubscriber runs until sub's queue empties, acquiring the shared
// semaphore before each task so the subscriber's own order is preserved
// while the bus-wide concurrency cap is respected. An idle subscriber holds
// no goroutine between bursts.
func (ab *AsyncEventBus) drainSubscriber(sub *subscriber) {
	defer ab.wg.Done()
	for {
		task, ok := sub.next()
		if !ok {
			return
		}
		if err := ab.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		task()
		ab.sem.Release(1)
	}
}

// PostDelayed schedules event to post after delay elapses, creating the
// delayed scheduler on first use. A delay <= 0 posts immediately.
func (ab *AsyncEventBus) PostDelayed(ctx context.Context, event any, delay time.Duration) int64 {
	return ab.ensureScheduler().schedule(ctx, event, delay)
}

func (ab *AsyncEventBus) ensureScheduler() *delayedScheduler {
	ab.schedOnce.Do(func() {
		ab.schedulerMu.Lock()
		ab.scheduler = newDelayedScheduler(ab.logger, ab.delayedCfg, func(ctx context.Context, event any) {
			_ = ab.Post(ctx, event)
		})
		ab.schedulerMu.Unlock()
	})
	ab.schedulerMu.Lock()
	defer ab.schedulerMu.Unlock()
	return ab.scheduler
}

// CancelDelayed cancels a task returned by PostDelayed before it fires.
func (ab *AsyncEventBus) CancelDelayed(id int64) bool {
	ab.schedulerMu.Lock()
	s := ab.scheduler
	ab.schedulerMu.Unlock()
	if s == nil {
		return false
	}
	return s.cancel(id)
}

// Close waits for every queued dispatch to drain and shuts down the
// delayed scheduler if one was created, returning early if ctx is
// cancelled first.
func (ab *AsyncEventBus) Close(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ab.wg.Wait()
		return nil
	})

	ab.schedulerMu.Lock()
	s := ab.scheduler
	ab.schedulerMu.Unlock()
	if s != nil {
		g.Go(func() error { return s.shutdown(gctx) })
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
