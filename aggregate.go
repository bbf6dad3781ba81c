package eventcore

// Aggregate represents a domain entity that is rebuilt from a stream of events.
// Implementations are expected to embed Base (see base.go) rather than
// reimplement version bookkeeping by hand.
type Aggregate interface {
	// StreamID returns the unique identifier for this aggregate's event stream,
	// e.g., "content_generation:12345".
	StreamID() string

	// AggregateType returns the short tag naming this aggregate's class,
	// e.g., "content_generation". It must equal the type half of StreamID.
	AggregateType() string

	// AggregateID returns the stable identifier of this aggregate, stable
	// across its lifetime. It must equal the id half of StreamID.
	AggregateID() string

	// Apply mutates the aggregate's state by applying a single event.
	// It is typically called during event replay (rehydration) or when
	// recording new events. Apply is pure: it derives new state from current
	// state and one event, and never performs I/O.
	Apply(e Event)

	// Uncommitted returns the ordered pending events without clearing them,
	// plus the expected stream version for optimistic locking.
	//
	// expectedVersion = currentVersion - len(pending)
	Uncommitted() (events []Event, expectedVersion int64)

	// MarkCommitted clears the pending buffer. It is called only after the
	// events have been durably appended, so a failed save leaves the buffer
	// intact and a retry sees the same events and expected version.
	MarkCommitted()

	// Version returns the current aggregate version (for optimistic locking).
	Version() int64
}

// Snapshotable is an Aggregate that can serialize/restore its own state for
// the SnapshotStore, per the Repository's polymorphism contract:
//   - an empty constructor given an id (supplied externally via a Kind factory)
//   - a method to rehydrate from a snapshot blob (LoadState)
//   - the Apply capability (inherited from Aggregate)
//   - a method to serialize its state (SerializeState)
type Snapshotable interface {
	Aggregate

	// SerializeState returns a self-describing serialized representation of
	// the aggregate's current state, suitable for SnapshotStore.Save. It
	// must not include pending/uncommitted events.
	SerializeState() ([]byte, error)

	// LoadState restores the aggregate's state from a previously serialized
	// blob (as produced by SerializeState) at the given version. It is called
	// at most once, immediately after construction, before any events are
	// applied on top of it.
	LoadState(state []byte, version int64) error
}
