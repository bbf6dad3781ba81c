// Package repository provides a generic aggregate loader/saver: it
// rehydrates an aggregate from (snapshot + tail events) and persists
// changes as (events appended, snapshot upserted), then publishes the
// committed batch to an EventBus.
//
// Repository is parameterized over the small eventcore.Snapshotable
// interface and never knows a concrete aggregate's internals; any
// aggregate kind plugs in through a Kind binding.
package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/bus"
)

// Kind binds an aggregate type tag to a constructor, supplied once per T
// instead of being hard-coded into the repository.
type Kind[T eventcore.Snapshotable] struct {
	// Type is the short tag naming this aggregate class,
	// e.g. "content_generation".
	Type string

	// New constructs a zero-value aggregate seeded with the given id. The
	// returned aggregate must report Version() == 0 and AggregateType()
	// equal to Type.
	New func(id string) T
}

// Repository is a generic AggregateRepository<T> bound to one aggregate Kind.
type Repository[T eventcore.Snapshotable] struct {
	store  eventcore.EventStore
	bus    bus.EventBus
	kind   Kind[T]
	logger *zap.Logger
}

// Option configures a Repository.
type Option[T eventcore.Snapshotable] func(*Repository[T])

// WithBus attaches an EventBus that committed batches are published to
// after a successful Save. Without this option, Save behaves as pure
// durable persistence with no fan-out.
func WithBus[T eventcore.Snapshotable](b bus.EventBus) Option[T] {
	return func(r *Repository[T]) { r.bus = b }
}

// WithLogger sets the structured logger. Defaults to zap.NewNop().
func WithLogger[T eventcore.Snapshotable](logger *zap.Logger) Option[T] {
	return func(r *Repository[T]) { r.logger = logger }
}

// New creates a Repository bound to the given EventStore and aggregate Kind.
func New[T eventcore.Snapshotable](store eventcore.EventStore, kind Kind[T], opts ...Option[T]) *Repository[T] {
	r := &Repository[T]{
		store:  store,
		kind:   kind,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load fetches and rehydrates an aggregate by its id: read snapshot if
// present, construct a fresh aggregate seeded from snapshot state, fetch
// events with version > snapshot.version, apply them in order, return.
// If no snapshot and no events exist, returns a *eventcore.NotFoundError.
func (r *Repository[T]) Load(ctx context.Context, id string) (T, error) {
	var zero T
	streamID := eventcore.NewStreamID(r.kind.Type, id)

	agg := r.kind.New(id)

	snap, err := r.store.LoadSnapshot(ctx, streamID, r.kind.Type)
	if err != nil {
		return zero, err
	}

	fromVersion := int64(0)
	if snap.Found {
		if err := agg.LoadState(snap.State, snap.Version); err != nil {
			// A corrupt/unreadable snapshot must not corrupt the aggregate —
			// snapshots are a cache. Fall back to a full replay from
			// version 0.
			r.logger.Warn("snapshot decode failed; falling back to full replay",
				zap.String("stream_id", streamID), zap.Error(err))
			agg = r.kind.New(id)
		} else {
			fromVersion = snap.Version
		}
	}

	events, last, err := r.store.Load(ctx, streamID, fromVersion)
	if err != nil {
		return zero, err
	}

	if !snap.Found && len(events) == 0 {
		return zero, &eventcore.NotFoundError{StreamID: streamID}
	}

	for _, ev := range events {
		agg.Apply(ev.Payload)
	}

	if last != 0 && agg.Version() != last {
		return zero, &eventcore.StorageError{
			Op:  "load",
			Err: fmt.Errorf("version mismatch after replay: aggregate=%d store=%d", agg.Version(), last),
		}
	}

	return agg, nil
}

// Save persists the aggregate's pending events with optimistic locking,
// upserts its snapshot at the resulting version, and — on success — marks
// the events committed and publishes them to the bus.
//
// On *eventcore.VersionConflictError — or any other append failure,
// including a cancelled context — the in-memory aggregate state and its
// uncommitted events are left untouched; the caller may retry, and for a
// version conflict must re-Load, re-apply the command, and retry.
func (r *Repository[T]) Save(ctx context.Context, agg T, md eventcore.Metadata) error {
	events, expectedVersion := agg.Uncommitted()
	if len(events) == 0 {
		return nil
	}

	streamID := agg.StreamID()

	committed, err := r.store.Append(ctx, streamID, r.kind.Type, expectedVersion, events, md)
	if err != nil {
		return err
	}
	agg.MarkCommitted()
	newVersion := committed[len(committed)-1].Version

	state, err := agg.SerializeState()
	if err != nil {
		r.logger.Warn("serialize state failed; snapshot not updated", zap.String("stream_id", streamID), zap.Error(err))
	} else if err := r.store.SaveSnapshot(ctx, streamID, r.kind.Type, newVersion, state); err != nil {
		// Snapshots are a performance optimization, not a source of
		// truth — a failed snapshot write never fails the command.
		r.logger.Warn("snapshot save failed", zap.String("stream_id", streamID), zap.Error(err))
	}

	if r.bus == nil {
		return nil
	}

	// Publish exactly what the store committed — server-assigned id and
	// commit timestamp included. A hand-reconstructed batch here would carry
	// a zero-value At, which projector checkpoint comparisons treat as
	// already-seen and silently drop forever.
	if err := r.bus.Publish(ctx, committed); err != nil {
		// The durable effect of the command is already preserved. A bus
		// failure here is surfaced but is NOT reverted — projector
		// checkpoints are responsible for recovering any dispatch this
		// drops.
		r.logger.Error("bus publish failed after commit; projector checkpoints will recover",
			zap.String("stream_id", streamID), zap.Error(err))
		return &eventcore.BusUnavailableError{StreamID: streamID, Err: err}
	}

	return nil
}
