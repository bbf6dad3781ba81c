package eventcore

import (
	"context"
	"time"
)

// EventStore defines the interface for persisting and retrieving events
// in an event-sourced system.
//
// It provides the core abstraction that enables aggregates to record domain
// events (via Append) and later rebuild their state (via Load), and lets
// projectors recover from a checkpoint via LoadByType.
//
// Implementations may persist events to PostgreSQL, DynamoDB, or other durable
// backends. All operations must be safe for concurrent use and respect
// optimistic locking semantics. Every failure above the storage layer is
// fatal to the current call — implementations must not retry internally;
// callers decide retry policy.
type EventStore interface {
	// Load returns all events for the given stream with version strictly
	// greater than fromVersion (0 means "from the beginning"), ordered by
	// version ascending. The second return value is the last version read
	// (0 if the stream is empty).
	Load(ctx context.Context, streamID string, fromVersion int64) ([]StoredEvent, int64, error)

	// LoadByType returns events of a given aggregate type committed at or
	// after sinceTimestamp, ordered by (timestamp, aggregate_id, version),
	// capped at limit. Used by projectors recovering from a checkpoint.
	// A limit <= 0 means "no cap".
	LoadByType(ctx context.Context, aggregateType string, sinceTimestamp time.Time, limit int) ([]StoredEvent, error)

	// Append writes a non-empty batch of events to the store atomically and
	// returns them back as committed StoredEvents — same order, with the
	// store-assigned id, version, and commit timestamp filled in. Callers
	// (chiefly AggregateRepository.Save) must publish these returned events
	// to the bus rather than reconstruct their own: only the store knows the
	// real id/timestamp a projector's checkpoint comparison depends on.
	//
	// expectedVersion must match the current persisted version of the stream.
	// If the versions differ (for example, due to a concurrent writer),
	// the method must return a *VersionConflictError, which can be tested with:
	//
	//   if errors.Is(err, ErrVersionConflict) { ... }
	//
	// Implementations must ensure atomicity — either all events are appended,
	// or none are. The commit timestamp is assigned by the store, never by
	// the caller.
	Append(ctx context.Context, streamID, aggregateType string, expectedVersion int64, events []Event, md Metadata) ([]StoredEvent, error)

	// SaveSnapshot stores a serialized representation of the aggregate's
	// current state. This is an optional optimization to avoid replaying
	// the entire event history when reloading aggregates. Snapshots are
	// safe to treat as caches — failure to save should not affect event
	// consistency, and losing all snapshots must not corrupt the system,
	// only slow rehydration.
	SaveSnapshot(ctx context.Context, streamID, aggregateType string, version int64, state []byte) error

	// LoadSnapshot retrieves the latest snapshot for the given stream.
	//
	// If no snapshot exists, the returned Snapshot has Found=false and zero
	// values for State and Version.
	LoadSnapshot(ctx context.Context, streamID, aggregateType string) (Snapshot, error)
}
