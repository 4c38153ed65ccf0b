package bus

// DeadEvent wraps an event that matched no subscriber. The bus only
// synthesizes one when some listener has itself subscribed to DeadEvent;
// otherwise posting an unmatched event is a silent no-op, the same opt-in
// behavior Guava's EventBus uses.
type DeadEvent struct {
	Source        *EventBus
	OriginalEvent any
}
