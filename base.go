package eventcore

// Base is an embeddable helper to implement Aggregate boilerplate.
// Semantics:
//   - Apply(e): mutate state via applier and bump version by 1. Does NOT enqueue.
//   - Raise(e): Apply(e) + enqueue to pending (for newly produced events).
//   - Version(): current version INCLUDING pending.
//   - Uncommitted(): returns pending without clearing it; also returns
//     expectedVersion = currentVersion - len(pending).
//   - MarkCommitted(): clears pending. Only called after a successful save,
//     so a failed or cancelled save leaves the buffer intact for a retry.
type Base struct {
	aggregateType string
	aggregateID   string
	version       int64
	pending       []Event
	applier       func(Event)
}

// Init sets the aggregate type/id and the state mutation function (applier).
func (b *Base) Init(aggregateType, aggregateID string, applier func(Event)) {
	b.aggregateType = aggregateType
	b.aggregateID = aggregateID
	b.applier = applier
}

// StreamID returns the unique identifier for this aggregate's event stream.
func (b *Base) StreamID() string { return NewStreamID(b.aggregateType, b.aggregateID) }

// AggregateType returns the short tag naming this aggregate's class.
func (b *Base) AggregateType() string { return b.aggregateType }

// AggregateID returns the stable identifier of this aggregate.
func (b *Base) AggregateID() string { return b.aggregateID }

// SetAggregateID overrides the id (e.g., when the first event assigns it).
func (b *Base) SetAggregateID(aggregateID string) { b.aggregateID = aggregateID }

// SetApplier replaces the state mutation function.
func (b *Base) SetApplier(applier func(Event)) { b.applier = applier }

// SetVersion forces the current version (used when restoring from a snapshot).
// It sets the internal counter; no pending events are affected.
func (b *Base) SetVersion(v int64) { b.version = v }

// Apply mutates state by a single event and advances the version by 1.
// Typically used for event replay (rehydration) or confirming committed events.
func (b *Base) Apply(e Event) {
	if b.applier != nil {
		b.applier(e)
	}
	b.version++
}

// Raise records a new domain event: Apply(e) and enqueue it into the pending buffer.
// Uncommitted returns the buffer for persistence; MarkCommitted clears it.
func (b *Base) Raise(e Event) {
	b.Apply(e)
	b.pending = append(b.pending, e)
}

// Uncommitted returns the pending events without clearing them, plus the
// expected stream version for optimistic locking:
// expectedVersion = currentVersion - len(pending)
func (b *Base) Uncommitted() (events []Event, expectedVersion int64) {
	events = b.pending
	expectedVersion = b.version - int64(len(events))
	return
}

// MarkCommitted clears the pending buffer after the events have been durably
// appended. A save that fails before this point leaves pending untouched, so
// the caller can retry with the same expected version.
func (b *Base) MarkCommitted() { b.pending = nil }

// Version returns the current aggregate version INCLUDING pending events.
func (b *Base) Version() int64 { return b.version }
