// Package storetest provides a shared compliance suite that every
// eventcore.EventStore implementation (mem, pgx, ...) runs against, so new
// backends can't silently drift from the store contract.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	eventcore "github.com/thinkrank/eventcore"
)

const streamType = "teststream"

type Opened struct{ ID string }

func (Opened) EventType() string { return "Opened" }

type Added struct{ N int }

func (Added) EventType() string { return "Added" }

// Factory creates a new EventStore instance for testing.
// Each test should receive a fresh, isolated instance.
// Use t.Cleanup for teardown logic if necessary.
type Factory func(t *testing.T) eventcore.EventStore

// Registry provides a minimal codec registry used for tests.
// It avoids dependency on domain-specific event definitions.
func Registry() map[string]eventcore.EventCodec {
	return map[string]eventcore.EventCodec{
		"Opened": eventcore.JSONCodec[Opened](),
		"Added":  eventcore.JSONCodec[Added](),
	}
}

// Run executes a suite of compliance tests that verify an EventStore
// implementation adheres to the expected semantics.
// Each subtest runs in parallel, so stores must be concurrency-safe.
func Run(t *testing.T, newStore Factory) {
	t.Run("append/load/version", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		s := newStore(t)

		streamID := eventcore.NewStreamID(streamType, "1")

		// Append first event
		committed, err := s.Append(ctx, streamID, streamType, 0, []eventcore.Event{
			Opened{ID: "1"},
		}, nil)
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if len(committed) != 1 || committed[0].Version != 1 {
			t.Fatalf("expected one committed event at version 1, got %+v", committed)
		}
		if committed[0].ID == "" {
			t.Fatalf("expected a store-assigned id, got empty string")
		}
		if committed[0].At.IsZero() {
			t.Fatalf("expected a store-assigned commit timestamp, got zero value")
		}
		v := committed[0].Version

		// Append second event
		committed, err = s.Append(ctx, streamID, streamType, v, []eventcore.Event{
			Added{N: 5},
		}, nil)
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if len(committed) != 1 || committed[0].Version != 2 {
			t.Fatalf("expected one committed event at version 2, got %+v", committed)
		}
		v = committed[0].Version

		// Load all events
		evs, last, err := s.Load(ctx, streamID, 0)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if len(evs) != 2 {
			t.Fatalf("expected 2 events, got %d", len(evs))
		}
		if last != 2 {
			t.Fatalf("expected last version 2, got %d", last)
		}
		if evs[0].Version != 1 || evs[1].Version != 2 {
			t.Fatalf("expected dense versions 1,2; got %d,%d", evs[0].Version, evs[1].Version)
		}
	})

	t.Run("load from version is exclusive", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		s := newStore(t)
		streamID := eventcore.NewStreamID(streamType, "from-version")

		if _, err := s.Append(ctx, streamID, streamType, 0, []eventcore.Event{
			Opened{ID: "fv"}, Added{N: 1}, Added{N: 2},
		}, nil); err != nil {
			t.Fatalf("append failed: %v", err)
		}

		evs, last, err := s.Load(ctx, streamID, 1)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if len(evs) != 2 {
			t.Fatalf("expected 2 events after version 1, got %d", len(evs))
		}
		if last != 3 {
			t.Fatalf("expected last version 3, got %d", last)
		}
	})

	t.Run("empty batch is rejected", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		s := newStore(t)
		streamID := eventcore.NewStreamID(streamType, "empty")

		_, err := s.Append(ctx, streamID, streamType, 0, nil, nil)
		var ib *eventcore.InvalidBatchError
		if !errors.As(err, &ib) {
			t.Fatalf("expected InvalidBatchError, got %v", err)
		}
	})

	t.Run("version conflict", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		s := newStore(t)
		streamID := eventcore.NewStreamID(streamType, "2")

		// First append succeeds
		if _, err := s.Append(ctx, streamID, streamType, 0, []eventcore.Event{
			Opened{ID: "2"},
		}, nil); err != nil {
			t.Fatalf("append failed: %v", err)
		}

		// Second append with wrong expected version should fail
		_, err := s.Append(ctx, streamID, streamType, 0, []eventcore.Event{
			Added{N: 1},
		}, nil)

		var vc *eventcore.VersionConflictError
		if !errors.As(err, &vc) {
			t.Fatalf("expected VersionConflictError, got %v", err)
		}
		if !errors.Is(err, eventcore.ErrVersionConflict) {
			t.Fatalf("expected errors.Is match against ErrVersionConflict")
		}

		// And nothing partial was written: stream is still at version 1.
		_, last, err := s.Load(ctx, streamID, 0)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if last != 1 {
			t.Fatalf("expected version to remain 1 after conflict, got %d", last)
		}
	})

	t.Run("concurrent append: exactly one wins", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		s := newStore(t)
		streamID := eventcore.NewStreamID(streamType, "race")

		if _, err := s.Append(ctx, streamID, streamType, 0, []eventcore.Event{
			Opened{ID: "race"},
		}, nil); err != nil {
			t.Fatalf("append failed: %v", err)
		}

		const n = 8
		results := make(chan error, n)
		for i := 0; i < n; i++ {
			go func(i int) {
				_, err := s.Append(ctx, streamID, streamType, 1, []eventcore.Event{
					Added{N: i},
				}, nil)
				results <- err
			}(i)
		}

		successes, conflicts := 0, 0
		for i := 0; i < n; i++ {
			err := <-results
			switch {
			case err == nil:
				successes++
			case errors.Is(err, eventcore.ErrVersionConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if successes != 1 {
			t.Fatalf("expected exactly 1 success, got %d (conflicts=%d)", successes, conflicts)
		}
		if conflicts != n-1 {
			t.Fatalf("expected %d conflicts, got %d", n-1, conflicts)
		}
	})

	t.Run("cancelled context appends nothing", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		streamID := eventcore.NewStreamID(streamType, "cancelled")

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		if _, err := s.Append(ctx, streamID, streamType, 0, []eventcore.Event{
			Opened{ID: "c"},
		}, nil); err == nil {
			t.Fatalf("expected error from cancelled context")
		}

		evs, last, err := s.Load(t.Context(), streamID, 0)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if len(evs) != 0 || last != 0 {
			t.Fatalf("cancelled append must write nothing, got %d events last=%d", len(evs), last)
		}

		// A retry with the same expected version succeeds.
		if _, err := s.Append(t.Context(), streamID, streamType, 0, []eventcore.Event{
			Opened{ID: "c"},
		}, nil); err != nil {
			t.Fatalf("retry append failed: %v", err)
		}
	})

	t.Run("snapshot round trip", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		s := newStore(t)
		streamID := eventcore.NewStreamID(streamType, "snap")

		snap, err := s.LoadSnapshot(ctx, streamID, streamType)
		if err != nil {
			t.Fatalf("load snapshot failed: %v", err)
		}
		if snap.Found {
			t.Fatalf("expected no snapshot for a fresh stream")
		}

		if err := s.SaveSnapshot(ctx, streamID, streamType, 3, []byte(`{"n":3}`)); err != nil {
			t.Fatalf("save snapshot failed: %v", err)
		}

		snap, err = s.LoadSnapshot(ctx, streamID, streamType)
		if err != nil {
			t.Fatalf("load snapshot failed: %v", err)
		}
		if !snap.Found || snap.Version != 3 || string(snap.State) != `{"n":3}` {
			t.Fatalf("unexpected snapshot: %+v", snap)
		}

		// Save is idempotent/upsert on the same stream.
		if err := s.SaveSnapshot(ctx, streamID, streamType, 5, []byte(`{"n":5}`)); err != nil {
			t.Fatalf("save snapshot failed: %v", err)
		}
		snap, err = s.LoadSnapshot(ctx, streamID, streamType)
		if err != nil {
			t.Fatalf("load snapshot failed: %v", err)
		}
		if snap.Version != 5 || string(snap.State) != `{"n":5}` {
			t.Fatalf("expected snapshot overwrite, got %+v", snap)
		}
	})

	t.Run("LoadByType orders by timestamp then aggregate then version", func(t *testing.T) {
		t.Parallel()
		ctx := t.Context()
		s := newStore(t)

		for _, id := range []string{"by-type-a", "by-type-b"} {
			streamID := eventcore.NewStreamID(streamType, id)
			if _, err := s.Append(ctx, streamID, streamType, 0, []eventcore.Event{
				Opened{ID: id},
			}, nil); err != nil {
				t.Fatalf("append failed: %v", err)
			}
		}

		evs, err := s.LoadByType(ctx, streamType, time.Time{}, 0)
		if err != nil {
			t.Fatalf("load by type failed: %v", err)
		}
		if len(evs) < 2 {
			t.Fatalf("expected at least 2 events, got %d", len(evs))
		}
		for i := 1; i < len(evs); i++ {
			prev, cur := evs[i-1], evs[i]
			if cur.At.Before(prev.At) {
				t.Fatalf("events not ordered by timestamp ascending")
			}
			if cur.At.Equal(prev.At) {
				if cur.AggregateID < prev.AggregateID {
					t.Fatalf("events with equal timestamps not ordered by aggregate id")
				}
				if cur.AggregateID == prev.AggregateID && cur.Version <= prev.Version {
					t.Fatalf("events of one aggregate with equal timestamps not ordered by version")
				}
			}
		}
	})
}
