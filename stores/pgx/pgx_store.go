// Package pgx provides a PostgreSQL-backed eventcore.EventStore built on
// jackc/pgx. It owns the events and snapshots tables and serves any
// aggregate type via an explicit aggregate_type column and a
// per-event-type codec registry.
package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	eventcore "github.com/thinkrank/eventcore"
)

// EventStore is a concrete EventStore backed by PostgreSQL (pgx).
// It supports optimistic concurrency, JSON-encoded payloads, and optional
// context-derived Metadata injection via a user-supplied MetadataExtractor.
type EventStore struct {
	pool         *pgxpool.Pool
	typeRegistry map[string]eventcore.EventCodec
	extractor    eventcore.MetadataExtractor
	logger       *zap.Logger
}

// Option configures EventStore.
type Option func(*EventStore)

// WithTypeRegistry sets the registry that maps event type names to codecs.
func WithTypeRegistry(reg map[string]eventcore.EventCodec) Option {
	return func(s *EventStore) { s.typeRegistry = reg }
}

// WithMetadataExtractor sets a function that builds Metadata from context.
// When provided, Append() will merge extracted metadata with the explicit md;
// explicit keys take precedence over extracted ones.
func WithMetadataExtractor(ex eventcore.MetadataExtractor) Option {
	return func(s *EventStore) { s.extractor = ex }
}

// WithLogger sets the structured logger used for warnings and storage
// errors. Defaults to zap.NewNop() so the store is silent unless configured.
func WithLogger(logger *zap.Logger) Option {
	return func(s *EventStore) { s.logger = logger }
}

// NewEventStore creates a Postgres-backed EventStore.
func NewEventStore(pool *pgxpool.Pool, opts ...Option) *EventStore {
	s := &EventStore{
		pool:         pool,
		typeRegistry: map[string]eventcore.EventCodec{},
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append persists a batch of events using optimistic concurrency control and
// returns them back as committed StoredEvents, with the server-assigned id
// and commit timestamp filled in for each — callers must publish these
// rather than reconstruct their own (see eventcore.EventStore.Append).
func (s *EventStore) Append(
	ctx context.Context,
	streamID, aggregateType string,
	expectedVersion int64,
	events []eventcore.Event,
	md eventcore.Metadata,
) ([]eventcore.StoredEvent, error) {
	if err := eventcore.ValidateBatch(events); err != nil {
		return nil, err
	}

	// Merge context-derived metadata (if configured) with explicit md.
	// Later maps take precedence → explicit md overrides extracted.
	if s.extractor != nil {
		extracted := s.extractor(ctx)
		md = extracted.Merge(md)
	}

	_, aggregateID := eventcore.ParseStreamID(streamID)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &eventcore.StorageError{Op: "begin transaction", Err: err}
	}
	defer func(tx pgx.Tx, ctx context.Context) {
		_ = tx.Rollback(ctx)
	}(tx, ctx)

	// Read current stream version.
	var currentVersion int64
	if err := tx.QueryRow(
		ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = $1`,
		streamID,
	).Scan(&currentVersion); err != nil {
		return nil, &eventcore.StorageError{Op: "read current version", Err: err}
	}
	if currentVersion != expectedVersion {
		return nil, &eventcore.VersionConflictError{
			StreamID:        streamID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   currentVersion,
		}
	}

	metaJSON, err := json.Marshal(md)
	if err != nil {
		return nil, &eventcore.StorageError{Op: "encode metadata", Err: err}
	}

	// Insert each event with the next version, capturing the server-assigned
	// id and commit timestamp so the caller can publish the real committed
	// event rather than a reconstruction.
	committed := make([]eventcore.StoredEvent, 0, len(events))
	for _, e := range events {
		eventType := eventcore.EventType(e)
		codec := s.typeRegistry[eventType]
		if codec == nil {
			return nil, &eventcore.StorageError{Op: "append", Err: fmt.Errorf("no codec registered for event type %q", eventType)}
		}

		payload, err := codec.Encode(e)
		if err != nil {
			return nil, &eventcore.StorageError{Op: "encode event", Err: err}
		}

		currentVersion++

		var id string
		var at time.Time
		if err := tx.QueryRow(
			ctx,
			`
			INSERT INTO events (id, stream_id, aggregate_type, aggregate_id, version, event_type, payload, metadata, at)
			VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, now())
			RETURNING id, at
			`,
			streamID,
			aggregateType,
			aggregateID,
			currentVersion,
			eventType,
			payload,
			metaJSON,
		).Scan(&id, &at); err != nil {
			if isUniqueViolation(err) {
				return nil, &eventcore.VersionConflictError{
					StreamID:        streamID,
					ExpectedVersion: expectedVersion,
					ActualVersion:   currentVersion,
				}
			}
			return nil, &eventcore.StorageError{Op: "insert event", Err: err}
		}

		committed = append(committed, eventcore.StoredEvent{
			ID:            id,
			StreamID:      streamID,
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			Type:          eventType,
			Payload:       e,
			Metadata:      md,
			Version:       currentVersion,
			At:            at,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &eventcore.StorageError{Op: "commit transaction", Err: err}
	}
	return committed, nil
}

// Load returns all events for a given stream strictly after fromVersion,
// ordered by version ascending. The second return value is the last version read.
func (s *EventStore) Load(
	ctx context.Context,
	streamID string,
	fromVersion int64,
) ([]eventcore.StoredEvent, int64, error) {
	rows, err := s.pool.Query(
		ctx,
		`
		SELECT id, aggregate_type, aggregate_id, version, event_type, payload, metadata, at
		FROM events
		WHERE stream_id = $1 AND version > $2
		ORDER BY version ASC
		`,
		streamID,
		fromVersion,
	)
	if err != nil {
		return nil, 0, &eventcore.StorageError{Op: "query events", Err: err}
	}
	defer rows.Close()

	out, last, err := s.scanEvents(rows, streamID)
	if err != nil {
		return nil, 0, err
	}
	return out, last, nil
}

// LoadByType returns events of a given aggregate type committed at or after
// sinceTimestamp, ordered by (timestamp, aggregate_id, version), used by
// projectors replaying from a checkpoint.
func (s *EventStore) LoadByType(
	ctx context.Context,
	aggregateType string,
	sinceTimestamp time.Time,
	limit int,
) ([]eventcore.StoredEvent, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, stream_id, version, event_type, payload, metadata, at
		FROM events
		WHERE aggregate_type = $1 AND at >= $2
		ORDER BY at ASC, aggregate_id ASC, version ASC
	`
	args := []any{aggregateType, sinceTimestamp}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &eventcore.StorageError{Op: "query events by type", Err: err}
	}
	defer rows.Close()

	var out []eventcore.StoredEvent
	for rows.Next() {
		var (
			id, aggType, aggID, streamID, eventType string
			version                                 int64
			payload, meta                            []byte
			at                                       time.Time
		)
		if err := rows.Scan(&id, &aggType, &aggID, &streamID, &version, &eventType, &payload, &meta, &at); err != nil {
			return nil, &eventcore.StorageError{Op: "scan event", Err: err}
		}
		ev, err := s.decode(eventType, payload, meta)
		if err != nil {
			return nil, err
		}
		ev.ID, ev.AggregateType, ev.AggregateID, ev.StreamID, ev.Version, ev.At = id, aggType, aggID, streamID, version, at
		out = append(out, ev)
	}
	return out, nil
}

func (s *EventStore) scanEvents(rows pgx.Rows, streamID string) ([]eventcore.StoredEvent, int64, error) {
	var out []eventcore.StoredEvent
	var last int64

	for rows.Next() {
		var (
			id, aggType, aggID, eventType string
			version                       int64
			payload, meta                 []byte
			at                            time.Time
		)
		if err := rows.Scan(&id, &aggType, &aggID, &version, &eventType, &payload, &meta, &at); err != nil {
			return nil, 0, &eventcore.StorageError{Op: "scan event", Err: err}
		}
		ev, err := s.decode(eventType, payload, meta)
		if err != nil {
			return nil, 0, err
		}
		ev.ID, ev.AggregateType, ev.AggregateID, ev.StreamID, ev.Version, ev.At = id, aggType, aggID, streamID, version, at
		out = append(out, ev)
		last = version
	}
	return out, last, nil
}

func (s *EventStore) decode(eventType string, payload, meta []byte) (eventcore.StoredEvent, error) {
	codec := s.typeRegistry[eventType]
	if codec == nil {
		return eventcore.StoredEvent{}, &eventcore.StorageError{Op: "decode", Err: fmt.Errorf("unknown event type: %s", eventType)}
	}
	decoded, err := codec.Decode(payload)
	if err != nil {
		return eventcore.StoredEvent{}, &eventcore.StorageError{Op: "decode event", Err: err}
	}
	var md eventcore.Metadata
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &md); err != nil {
			return eventcore.StoredEvent{}, &eventcore.StorageError{Op: "decode metadata", Err: err}
		}
	}
	return eventcore.StoredEvent{Type: eventType, Payload: decoded, Metadata: md}, nil
}

// SaveSnapshot upserts the snapshot state for a stream at a given version.
// Snapshots are an optimization for fast rehydration and are safe to treat
// as a cache — failure to save should not compromise domain consistency.
func (s *EventStore) SaveSnapshot(
	ctx context.Context,
	streamID, aggregateType string,
	version int64,
	state []byte,
) error {
	_, aggregateID := eventcore.ParseStreamID(streamID)
	_, err := s.pool.Exec(
		ctx,
		`
		INSERT INTO snapshots (stream_id, aggregate_type, aggregate_id, version, state, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, now(), now())
		ON CONFLICT (stream_id) DO UPDATE
		SET version    = EXCLUDED.version,
		    state      = EXCLUDED.state,
		    updated_at = now()
		`,
		streamID,
		aggregateType,
		aggregateID,
		version,
		state,
	)
	if err != nil {
		// Snapshots are a cache: losing the ability to
		// write one must not be treated as a consistency failure by callers
		// that choose to ignore it, but we still surface it so operators see
		// slow-rehydration risk building up.
		s.logger.Warn("snapshot save failed; rehydration will fall back to full replay",
			zap.String("stream_id", streamID), zap.Error(err))
		return &eventcore.StorageError{Op: "save snapshot", Err: err}
	}
	return nil
}

// LoadSnapshot retrieves the latest snapshot for a stream. If not found, Found=false.
func (s *EventStore) LoadSnapshot(
	ctx context.Context,
	streamID, _ string,
) (eventcore.Snapshot, error) {
	row := s.pool.QueryRow(
		ctx,
		`SELECT version, state, updated_at FROM snapshots WHERE stream_id = $1 AND active`,
		streamID,
	)

	var version int64
	var raw []byte
	var at time.Time

	if err := row.Scan(&version, &raw, &at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eventcore.Snapshot{Found: false}, nil
		}
		return eventcore.Snapshot{}, &eventcore.StorageError{Op: "scan snapshot", Err: err}
	}

	return eventcore.Snapshot{
		State:   raw,
		Version: version,
		Found:   true,
		At:      at,
	}, nil
}

var _ eventcore.EventStore = (*EventStore)(nil)
