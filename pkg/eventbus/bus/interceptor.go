package bus

import (
	"log/slog"
	"sort"
)

// Interceptor observes every primary-phase dispatch. Implementations can
// embed BaseInterceptor for no-op defaults and override only the hooks they
// care about.
type Interceptor interface {
	// BeforeProcessing runs before the idempotency check, in ascending
	// Order.
	BeforeProcessing(event any, ictx *InterceptorContext)

	// AfterProcessingSuccess runs once the primary phase completes (or is
	// skipped by idempotency), in descending Order.
	AfterProcessingSuccess(event any, ictx *InterceptorContext)

	// AfterProcessingFailure runs once the primary phase exhausts its
	// attempts, in descending Order. cause is the last primary error.
	AfterProcessingFailure(event any, cause error, ictx *InterceptorContext)

	// Order controls execution position; lower runs first in
	// BeforeProcessing and last in the after-hooks.
	Order() int
}

// BaseInterceptor supplies no-op hooks and Order() == 0 so concrete
// interceptors only need to implement the hooks they use.
type BaseInterceptor struct{}

func (BaseInterceptor) BeforeProcessing(any, *InterceptorContext)            {}
func (BaseInterceptor) AfterProcessingSuccess(any, *InterceptorContext)      {}
func (BaseInterceptor) AfterProcessingFailure(any, error, *InterceptorContext) {}
func (BaseInterceptor) Order() int                                          { return 0 }

// InterceptorChain holds an immutable, order-sorted list of interceptors.
// A panicking or erroring interceptor is logged and skipped; it never
// affects its siblings or the handler outcome.
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain sorts interceptors ascending by Order and freezes the
// chain. A nil logger falls back to slog.Default().
func NewInterceptorChain(logger *slog.Logger, interceptors ...Interceptor) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := make([]Interceptor, len(interceptors))
	copy(sorted, interceptors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order() < sorted[j].Order()
	})
	return &InterceptorChain{interceptors: sorted, logger: logger}
}

// Len returns the number of interceptors in the chain.
func (c *InterceptorChain) Len() int { return len(c.interceptors) }

// BeforeProcessing runs every interceptor's BeforeProcessing hook, ascending.
func (c *InterceptorChain) BeforeProcessing(event any, ictx *InterceptorContext) {
	for _, in := range c.interceptors {
		c.safeCall(in, "before_processing", func() { in.BeforeProcessing(event, ictx) })
	}
}

// AfterProcessingSuccess runs every interceptor's success hook, descending.
func (c *InterceptorChain) AfterProcessingSuccess(event any, ictx *InterceptorContext) {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		in := c.interceptors[i]
		c.safeCall(in, "after_processing_success", func() { in.AfterProcessingSuccess(event, ictx) })
	}
}

// AfterProcessingFailure runs every interceptor's failure hook, descending.
func (c *InterceptorChain) AfterProcessingFailure(event any, cause error, ictx *InterceptorContext) {
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		in := c.interceptors[i]
		c.safeCall(in, "after_processing_failure", func() { in.AfterProcessingFailure(event, cause, ictx) })
	}
}

func (c *InterceptorChain) safeCall(in Interceptor, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("interceptor hook panicked",
				slog.String("interceptor", interceptorName(in)),
				slog.String("hook", hook),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

func interceptorName(in Interceptor) string {
	type named interface{ Name() string }
	if n, ok := in.(named); ok {
		return n.Name()
	}
	return "interceptor"
}
