// Package mem provides an in-memory eventcore.EventStore, suitable for
// tests, prototypes, and local runs. It mirrors stores/pgx's semantics
// exactly (same optimistic concurrency, same LoadByType ordering) so the
// shared storetest.Run compliance suite passes identically against both.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	eventcore "github.com/thinkrank/eventcore"
)

// Store is an in-memory EventStore implementation.
// It is concurrency-safe and suitable for tests, prototypes, and local runs.
// NOTE: Events and snapshots are kept in-process and will be lost on restart.
type Store struct {
	mu        sync.RWMutex
	streams   map[string][]eventcore.StoredEvent
	snapshots map[string]snapshot
	extractor eventcore.MetadataExtractor
}

type snapshot struct {
	version int64
	state   []byte
	at      time.Time
}

// Option configures the in-memory Store.
type Option func(*Store)

// WithMetadataExtractor sets a function that builds Metadata from context.
// When provided, Append will merge extracted metadata with the explicit md;
// explicit keys take precedence over extracted ones.
func WithMetadataExtractor(ex eventcore.MetadataExtractor) Option {
	return func(s *Store) { s.extractor = ex }
}

// New creates a new in-memory Store.
func New(opts ...Option) *Store {
	st := &Store{
		streams:   make(map[string][]eventcore.StoredEvent),
		snapshots: make(map[string]snapshot),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Append persists a batch of events using optimistic concurrency control.
//
// Semantics:
//   - expectedVersion must equal the current persisted version for streamID.
//   - On version mismatch, returns *eventcore.VersionConflictError (errors.Is
//     with ErrVersionConflict works).
//   - Returns the committed StoredEvents (id/version/timestamp filled in) in
//     the order they were appended.
//   - events must be non-empty; empty batches are rejected.
func (s *Store) Append(
	ctx context.Context,
	streamID, aggregateType string,
	expectedVersion int64,
	events []eventcore.Event,
	md eventcore.Metadata,
) ([]eventcore.StoredEvent, error) {
	if err := eventcore.ValidateBatch(events); err != nil {
		return nil, err
	}
	// A cancelled call writes nothing, matching the transactional rollback
	// the pgx store gets for free.
	if err := ctx.Err(); err != nil {
		return nil, &eventcore.StorageError{Op: "append", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Merge context-derived metadata (if configured) with explicit md.
	// Later maps take precedence → explicit md overrides extracted.
	if s.extractor != nil {
		extracted := s.extractor(ctx)
		md = extracted.Merge(md)
	}

	_, aggregateID := eventcore.ParseStreamID(streamID)

	seq := s.streams[streamID]
	currentVersion := int64(len(seq))
	if currentVersion != expectedVersion {
		return nil, &eventcore.VersionConflictError{
			StreamID:        streamID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   currentVersion,
		}
	}

	now := time.Now()
	// Append each event, assigning the next version number.
	committed := make([]eventcore.StoredEvent, 0, len(events))
	for _, e := range events {
		currentVersion++
		stored := eventcore.StoredEvent{
			ID:            uuid.NewString(),
			StreamID:      streamID,
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			Type:          eventcore.EventType(e),
			Payload:       e,
			Metadata:      md, // already a new map via Merge; safe to reuse
			Version:       currentVersion,
			At:            now,
		}
		seq = append(seq, stored)
		committed = append(committed, stored)
	}
	s.streams[streamID] = seq
	return committed, nil
}

// Load returns all events for a given stream strictly after fromVersion,
// ordered by version ascending. The second return value is the last version read.
func (s *Store) Load(
	_ context.Context,
	streamID string,
	fromVersion int64,
) ([]eventcore.StoredEvent, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.streams[streamID]
	if len(seq) == 0 {
		return nil, 0, nil
	}

	// fromVersion is exclusive; indexes are zero-based (version = index+1)
	start := fromVersion
	if start < 0 {
		start = 0
	}
	if start > int64(len(seq)) {
		start = int64(len(seq))
	}

	var out []eventcore.StoredEvent
	for i := start; i < int64(len(seq)); i++ {
		out = append(out, seq[i])
	}
	last := seq[len(seq)-1].Version
	return out, last, nil
}

// LoadByType returns events of a given aggregate type committed at or after
// sinceTimestamp, ordered by (timestamp, aggregate_id, version).
func (s *Store) LoadByType(
	_ context.Context,
	aggregateType string,
	sinceTimestamp time.Time,
	limit int,
) ([]eventcore.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []eventcore.StoredEvent
	for _, seq := range s.streams {
		for _, ev := range seq {
			if ev.AggregateType != aggregateType {
				continue
			}
			if ev.At.Before(sinceTimestamp) {
				continue
			}
			out = append(out, ev)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		if out[i].AggregateID != out[j].AggregateID {
			return out[i].AggregateID < out[j].AggregateID
		}
		return out[i].Version < out[j].Version
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveSnapshot upserts the snapshot state for a stream at a given version.
// Snapshots are an optimization for fast rehydration and are safe to treat as cache.
func (s *Store) SaveSnapshot(
	_ context.Context,
	streamID, _ string,
	version int64,
	state []byte,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[streamID] = snapshot{
		version: version,
		state:   state,
		at:      time.Now(),
	}
	return nil
}

// LoadSnapshot retrieves the latest snapshot for a stream. If not found, Found=false.
func (s *Store) LoadSnapshot(
	_ context.Context,
	streamID, _ string,
) (eventcore.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[streamID]
	if !ok {
		return eventcore.Snapshot{Found: false}, nil
	}
	return eventcore.Snapshot{
		State:   snap.state,
		Version: snap.version,
		Found:   true,
		At:      snap.at,
	}, nil
}

var _ eventcore.EventStore = (*Store)(nil)
