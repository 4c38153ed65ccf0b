package bus

import (
	"fmt"
	"reflect"
	"sync"
)

// anyEventType stands in for Java's Object: a registration against it
// matches every concrete event type, the way Guava/EasyEventBus's Object
// subscribers do.
var anyEventType = reflect.TypeOf((*any)(nil)).Elem()

// registry is the bus's subscriber index: event type -> ordered subscriber
// list, plus a concrete-type lookup cache that flattens the interface
// hierarchy a concrete type satisfies. Mutations take the write lock;
// lookup copies the matching subscribers into a fresh slice under the read
// lock, so the slice it returns is not affected by later registrations.
type registry struct {
	mu sync.RWMutex

	// byType holds every directly-registered event type, concrete or
	// interface, in registration order.
	byType map[reflect.Type][]*subscriber

	// interfaceTypes is every registered type of interface kind (plus
	// anyEventType once anything registers against it), in the order
	// they were first registered. A concrete lookup walks this list to
	// find interface subscriptions it also satisfies.
	interfaceTypes []reflect.Type

	// cache memoizes, per concrete event type, the flattened list of
	// types to union together (itself plus every satisfied interface
	// type). Invalidated only when a new interface type is registered.
	cache   map[reflect.Type][]reflect.Type
	version int

	maxPerEvent int // 0 means unlimited
	onMaxExceeded func(eventType reflect.Type, count, max int)
}

func newRegistry(maxPerEvent int, onMaxExceeded func(reflect.Type, int, int)) *registry {
	return &registry{
		byType:        make(map[reflect.Type][]*subscriber),
		cache:         make(map[reflect.Type][]reflect.Type),
		maxPerEvent:   maxPerEvent,
		onMaxExceeded: onMaxExceeded,
	}
}

// register adds sub under its group's event type. It rejects a second
// primary handler for the same (listener, event type) pair, leaving the
// registry unchanged on error.
func (r *registry) register(sub *subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := sub.group.eventType
	for _, existing := range r.byType[t] {
		if existing.identity == sub.identity {
			return fmt.Errorf("bus: listener already subscribed to %s", t)
		}
	}

	r.byType[t] = append(r.byType[t], sub)

	if t.Kind() == reflect.Interface {
		isNew := true
		for _, it := range r.interfaceTypes {
			if it == t {
				isNew = false
				break
			}
		}
		if isNew {
			r.interfaceTypes = append(r.interfaceTypes, t)
			r.version++
			r.cache = make(map[reflect.Type][]reflect.Type)
		}
	}

	if r.maxPerEvent > 0 {
		if n := len(r.byType[t]); n == r.maxPerEvent+1 && r.onMaxExceeded != nil {
			r.onMaxExceeded(t, n, r.maxPerEvent)
		}
	}

	return nil
}

// unregister removes every subscriber belonging to listenerID, optionally
// scoped to a single event type when eventType is non-nil. It reports
// whether anything was actually removed.
func (r *registry) unregister(id listenerIdentity, eventType reflect.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	for t, subs := range r.byType {
		if eventType != nil && t != eventType {
			continue
		}
		kept := subs[:0:0]
		for _, s := range subs {
			if s.identity != id {
				kept = append(kept, s)
			} else {
				removed = true
			}
		}
		if len(kept) == 0 {
			delete(r.byType, t)
		} else {
			r.byType[t] = kept
		}
	}
	return removed
}

// lookup returns every subscriber registered for concreteType itself, any
// interface type concreteType implements, and anyEventType, in registration
// order. Each subscriber appears once; a listener subscribed to several
// matching types receives the event once per subscription.
func (r *registry) lookup(concreteType reflect.Type) []*subscriber {
	r.mu.RLock()
	types, cached := r.cache[concreteType]
	version := r.version
	r.mu.RUnlock()

	if !cached {
		types = r.matchingTypes(concreteType)
		r.mu.Lock()
		if r.version == version {
			r.cache[concreteType] = types
		}
		r.mu.Unlock()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[*subscriber]struct{})
	var out []*subscriber
	for _, t := range types {
		for _, s := range r.byType[t] {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func (r *registry) matchingTypes(concreteType reflect.Type) []reflect.Type {
	types := []reflect.Type{concreteType}
	for _, it := range r.interfaceTypes {
		if it == anyEventType || concreteType.Implements(it) {
			types = append(types, it)
		}
	}
	return types
}

// hasSubscriberFor reports whether anything is registered for exactly t
// (used for dead-event opt-in: only synthesize a DeadEvent if something
// actually subscribes to it).
func (r *registry) hasSubscriberFor(t reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType[t]) > 0
}
