package bus

import (
	"fmt"
	"reflect"
	"sync"
)

// listenerIdentity distinguishes listeners for duplicate-registration and
// Unregister purposes. Reference-kind listeners (pointers, funcs, maps,
// chans, slices) are identified by their runtime pointer value; value-kind
// listeners (plain structs, ints, strings passed by value) get a token
// derived from their Go-syntax representation, since Go gives them no
// pointer identity to compare. The token is a pure function of the
// listener's value, so two equal values always produce the same token and
// the same listener registered and later unregistered by value resolves to
// the same identity.
type listenerIdentity struct {
	pointer uintptr
	token   string
}

func identify(listener any) listenerIdentity {
	v := reflect.ValueOf(listener)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.Slice, reflect.UnsafePointer:
		if !v.IsNil() {
			return listenerIdentity{pointer: v.Pointer()}
		}
	}
	return listenerIdentity{token: fmt.Sprintf("%T:%#v", listener, listener)}
}

// subscriber binds one listener's handlerGroup for one event type into the
// registry. It owns the serialization and FIFO-queue state the processor and
// async dispatcher depend on.
type subscriber struct {
	listener any
	identity listenerIdentity
	group    *handlerGroup

	// invokeMu serializes primary invocations for non-Concurrent groups.
	// Needed even on the sync bus: Post may run concurrently from multiple
	// goroutines and resolve the same subscriber.
	invokeMu sync.Mutex

	// Async dispatch: a mutex-guarded FIFO queue plus a draining flag.
	// dispatchToSubscriber appends a task and, only if no drain goroutine
	// is already running, starts one; drainSubscriber exits once the
	// queue empties so idle subscribers hold no goroutine.
	queueMu  sync.Mutex
	queue    []func()
	draining bool
}

// enqueue appends a task to the subscriber's FIFO lane and reports whether
// the caller must start a drain goroutine (true only on the 0->1 transition
// while not already draining).
func (s *subscriber) enqueue(task func()) bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue = append(s.queue, task)
	if s.draining {
		return false
	}
	s.draining = true
	return true
}

// next pops the front task, or reports empty and clears the draining flag.
func (s *subscriber) next() (func(), bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) == 0 {
		s.draining = false
		return nil, false
	}
	task := s.queue[0]
	s.queue = s.queue[1:]
	return task, true
}
