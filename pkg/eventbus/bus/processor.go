package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// PanicError wraps a recovered panic so it flows through the same error
// path as a returned error, carrying the stack trace captured at the point
// of recovery.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("bus: handler panicked: %v", e.Value)
}

// classify assigns a FailureType the way the original's reflective
// invocation path did: a panic is always a system exception, an error
// surviving a configured retry policy is retry-exhausted, anything else is
// a plain processing exception.
func classify(err error, totalRetries int) FailureType {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return SystemException
	}
	if totalRetries > 0 {
		return RetryExhausted
	}
	return ProcessingException
}

// processor runs the three-phase reliability algorithm for one subscriber:
// idempotency check, retrying primary, terminal failure handler.
type processor struct {
	chain *InterceptorChain
}

func newProcessor(chain *InterceptorChain) *processor {
	if chain == nil {
		chain = NewInterceptorChain(nil)
	}
	return &processor{chain: chain}
}

// process dispatches event to sub, serializing non-Concurrent primaries
// through sub.invokeMu. It never returns an error itself: a terminal
// failure is reported to the group's failure handler (if any) and to
// exceptionHandler, matching the original's "failure handling never
// propagates to the caller" contract.
func (p *processor) process(ctx context.Context, sub *subscriber, event any, exceptionHandler ExceptionHandler) {
	g := sub.group
	ictx := NewInterceptorContext()
	p.chain.BeforeProcessing(event, ictx)

	if !g.concurrent {
		sub.invokeMu.Lock()
		defer sub.invokeMu.Unlock()
	}

	if g.idempotent != nil {
		skip, panicErr := p.safeIdempotent(ctx, g, event)
		if panicErr != nil {
			now := time.Now()
			ictx.finish()
			p.chain.AfterProcessingFailure(event, panicErr, ictx)

			fc := &FailureContext{
				originalEvent:  event,
				cause:          panicErr,
				firstAttemptAt: now,
				lastAttemptAt:  now,
				failureType:    SystemException,
			}
			if g.hasFailureHandler() {
				p.safeInvokeFailure(ctx, g, event, fc)
			}
			if exceptionHandler != nil {
				exceptionHandler.HandleException(ctx, event, fc)
			}
			return
		}
		if skip {
			ictx.setSkipped(true)
			ictx.finish()
			p.chain.AfterProcessingSuccess(event, ictx)
			return
		}
	}

	first := time.Now()
	last := first
	attempts := 0
	var lastErr error
	cancelled := false

	for {
		lastErr = p.invokePrimary(ctx, g, event)
		last = time.Now()
		attempts++
		ictx.setRetryCount(attempts - 1)

		if lastErr == nil {
			ictx.finish()
			p.chain.AfterProcessingSuccess(event, ictx)
			return
		}

		if !g.hasRetry || attempts > g.retries {
			break
		}
		if g.retryable != nil && !g.retryable(lastErr) {
			break
		}
		if waitErr := waitBackoff(ctx, g.retryWait); waitErr != nil {
			lastErr = waitErr
			cancelled = true
			break
		}
	}

	ictx.finish()
	p.chain.AfterProcessingFailure(event, lastErr, ictx)

	totalRetries := attempts - 1
	failureType := classify(lastErr, totalRetries)
	if cancelled {
		failureType = ProcessingException
	}
	fc := &FailureContext{
		originalEvent:  event,
		cause:          lastErr,
		totalRetries:   totalRetries,
		firstAttemptAt: first,
		lastAttemptAt:  last,
		totalDuration:  last.Sub(first),
		failureType:    failureType,
	}

	if g.hasFailureHandler() {
		p.safeInvokeFailure(ctx, g, event, fc)
	}
	if exceptionHandler != nil {
		exceptionHandler.HandleException(ctx, event, fc)
	}
}

func (p *processor) invokePrimary(ctx context.Context, g *handlerGroup, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return g.primary(ctx, event)
}

// safeIdempotent reports whether event should be skipped: the predicate
// returns true when the primary should proceed, so a false return skips
// the primary. A panic from the predicate is recovered and returned as
// panicErr instead, for the caller to route through the failure branch
// rather than silently falling through to the primary.
func (p *processor) safeIdempotent(ctx context.Context, g *handlerGroup, event any) (skip bool, panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			skip = false
			panicErr = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return !g.idempotent(ctx, event), nil
}

func (p *processor) safeInvokeFailure(ctx context.Context, g *handlerGroup, event any, fc *FailureContext) {
	defer func() {
		// a failure handler must never escalate back into dispatch
		if r := recover(); r != nil {
			p.chain.logger.Warn("failure handler panicked",
				slog.String("event_type", fmt.Sprintf("%T", event)),
				slog.Any("panic", r),
			)
		}
	}()
	g.invokeFailure(ctx, event, fc)
}

// waitBackoff blocks for interval, or until ctx is cancelled, whichever
// comes first. It uses a constant backoff policy bound to ctx so the retry
// wait participates in the same cancellation and context-deadline machinery
// as the rest of the bus, rather than a bare time.Sleep.
func waitBackoff(ctx context.Context, interval time.Duration) error {
	policy := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	d := policy.NextBackOff()
	if d == backoff.Stop {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
