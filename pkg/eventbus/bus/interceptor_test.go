package bus

import (
	"errors"
	"testing"
)

type orderedInterceptor struct {
	BaseInterceptor
	id    int
	order int
	log   *[]string
}

func (o *orderedInterceptor) BeforeProcessing(any, *InterceptorContext) {
	*o.log = append(*o.log, "before", itoa(o.id))
}

func (o *orderedInterceptor) AfterProcessingSuccess(any, *InterceptorContext) {
	*o.log = append(*o.log, "afterSuccess", itoa(o.id))
}

func (o *orderedInterceptor) AfterProcessingFailure(any, error, *InterceptorContext) {
	*o.log = append(*o.log, "afterFailure", itoa(o.id))
}

func (o *orderedInterceptor) Order() int { return o.order }

func itoa(n int) string {
	return string(rune('0' + n))
}

func TestInterceptorChain_OrderingBeforeAscendingAfterDescending(t *testing.T) {
	var log []string
	one := &orderedInterceptor{id: 1, order: 1, log: &log}
	two := &orderedInterceptor{id: 2, order: 2, log: &log}

	chain := NewInterceptorChain(nil, two, one) // registered out of order
	chain.BeforeProcessing(nil, NewInterceptorContext())
	chain.AfterProcessingSuccess(nil, NewInterceptorContext())

	want := []string{"before", "1", "before", "2", "afterSuccess", "2", "afterSuccess", "1"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
}

type panickingInterceptor struct {
	BaseInterceptor
}

func (panickingInterceptor) BeforeProcessing(any, *InterceptorContext) {
	panic("interceptor exploded")
}

func TestInterceptorChain_PanicIsRecoveredAndSiblingsStillRun(t *testing.T) {
	var log []string
	sibling := &orderedInterceptor{id: 9, order: 1, log: &log}
	chain := NewInterceptorChain(nil, panickingInterceptor{}, sibling)

	chain.BeforeProcessing(nil, NewInterceptorContext())

	if len(log) == 0 {
		t.Fatal("sibling interceptor did not run after a panicking interceptor")
	}
}

func TestInterceptorChain_AfterProcessingFailureOrder(t *testing.T) {
	var log []string
	one := &orderedInterceptor{id: 1, order: 1, log: &log}
	two := &orderedInterceptor{id: 2, order: 2, log: &log}
	chain := NewInterceptorChain(nil, one, two)

	chain.AfterProcessingFailure(nil, errors.New("boom"), NewInterceptorContext())

	want := []string{"afterFailure", "2", "afterFailure", "1"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("log = %v, want %v", log, want)
		}
	}
}

func TestInterceptorContext_AttributeRoundTrip(t *testing.T) {
	ictx := NewInterceptorContext()
	if _, ok := ictx.Attribute("missing"); ok {
		t.Fatal("Attribute() found a value for an unset key")
	}

	ictx.SetAttribute("key", 42)
	v, ok := ictx.Attribute("key")
	if !ok || v.(int) != 42 {
		t.Fatalf("Attribute(key) = (%v, %v), want (42, true)", v, ok)
	}
}

func TestInterceptorContext_SkippedAndRetryCount(t *testing.T) {
	ictx := NewInterceptorContext()
	if ictx.Skipped() {
		t.Fatal("Skipped() = true before being set")
	}
	ictx.setSkipped(true)
	if !ictx.Skipped() {
		t.Fatal("Skipped() = false after setSkipped(true)")
	}

	ictx.setRetryCount(3)
	if ictx.RetryCount() != 3 {
		t.Fatalf("RetryCount() = %d, want 3", ictx.RetryCount())
	}
}

func TestInterceptorChain_LenReflectsConstruction(t *testing.T) {
	chain := NewInterceptorChain(nil, BaseInterceptor{}, BaseInterceptor{})
	if chain.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", chain.Len())
	}
}
