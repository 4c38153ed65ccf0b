package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// delayedTask is one pending delayed post. schedule returns its id, which
// can be passed to cancel before the timer fires.
type delayedTask struct {
	id    int64
	timer *time.Timer
}

// delayedScheduler posts events after a delay, the Go equivalent of
// DelayedEventScheduler's ScheduledThreadPoolExecutor: each task fires
// on its own time.AfterFunc goroutine under a round-robin worker label (Go has no portable way to
// name a goroutine, so the label travels through log fields instead), and a
// graceful shutdown that gives in-flight dispatches a fixed grace period
// before abandoning anything left pending.
type delayedScheduler struct {
	logger   *slog.Logger
	dispatch func(ctx context.Context, event any)

	threadNamePrefix string
	workers          int32 // core worker count, used for round-robin worker labels

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]*delayedTask
	inFlight sync.WaitGroup
	closed   bool
}

func newDelayedScheduler(logger *slog.Logger, cfg DelayedConfiguration, dispatch func(context.Context, any)) *delayedScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.CoreWorkers
	if workers <= 0 {
		workers = 2
	}
	prefix := cfg.ThreadNamePrefix
	if prefix == "" {
		prefix = "DelayedEvent-"
	}
	return &delayedScheduler{
		logger:           logger,
		dispatch:         dispatch,
		threadNamePrefix: prefix,
		workers:          int32(workers),
		pending:          make(map[int64]*delayedTask),
	}
}

// schedule posts event immediately if delay <= 0, matching the original's
// scheduleDelayedEvent short-circuit, otherwise arranges for it to post
// after delay elapses. It returns a handle usable with cancel.
func (s *delayedScheduler) schedule(ctx context.Context, event any, delay time.Duration) int64 {
	if delay <= 0 {
		s.dispatch(ctx, event)
		return 0
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("delayed event scheduled after shutdown, dropping", slog.Duration("delay", delay))
		return 0
	}
	s.nextID++
	id := s.nextID
	worker := int32(id) % s.workers
	label := fmt.Sprintf("%s%d", s.threadNamePrefix, worker)

	s.inFlight.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer s.inFlight.Done()
		s.mu.Lock()
		_, ok := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if !ok {
			return // cancelled before it fired
		}
		s.logger.Debug("dispatching delayed event", slog.String("worker", label), slog.Int64("task_id", id))
		s.dispatch(ctx, event)
	})
	s.pending[id] = &delayedTask{id: id, timer: timer}
	s.mu.Unlock()
	return id
}

// cancel prevents a pending task from firing. It reports false if the task
// already fired or never existed.
func (s *delayedScheduler) cancel(id int64) bool {
	if id == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	// Stop reports false when the timer already fired (or is firing): its
	// AfterFunc goroutine owns the matching inFlight.Done in that case, so
	// calling it again here would double-decrement the WaitGroup.
	if task.timer.Stop() {
		s.inFlight.Done()
	}
	return true
}

// shutdown stops accepting new schedules, cancels everything still pending,
// and waits up to 5 seconds for in-flight dispatches to finish before
// giving up, mirroring DelayedEventScheduler.shutdown's awaitTermination(5,
// SECONDS) then shutdownNow() fallback.
func (s *delayedScheduler) shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, task := range s.pending {
		delete(s.pending, id)
		if task.timer.Stop() {
			s.inFlight.Done()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	grace := time.NewTimer(5 * time.Second)
	defer grace.Stop()
	select {
	case <-done:
		return nil
	case <-grace.C:
		s.logger.Warn("delayed scheduler shutdown timed out waiting for in-flight dispatches")
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
