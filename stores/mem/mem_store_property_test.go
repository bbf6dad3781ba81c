package mem_test

import (
	"context"
	"errors"
	"testing"

	"pgregory.net/rapid"

	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/stores/mem"
)

type bumped struct{ N int }

func (bumped) EventType() string { return "Bumped" }

// TestStore_VersionDensityProperty checks version density for any sequence
// of legal and illegal Append calls: the committed version set for one
// stream is always exactly {1, ..., N} for some N >= 0 — a conflicting
// Append (wrong expectedVersion, generated here on purpose) must never
// leave a gap or a duplicate behind.
func TestStore_VersionDensityProperty(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		store := mem.New()
		streamID := eventcore.NewStreamID("property", "stream-1")

		var committed int64

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			batchSize := rapid.IntRange(1, 3).Draw(t, "batchSize")
			// Occasionally lie about the expected version to exercise the
			// conflict path; otherwise supply the true current version.
			var expected int64
			if rapid.Bool().Draw(t, "conflict") {
				expected = committed + int64(rapid.IntRange(1, 5).Draw(t, "wrongDelta"))
			} else {
				expected = committed
			}

			events := make([]eventcore.Event, batchSize)
			for j := range events {
				events[j] = bumped{N: j}
			}

			appended, err := store.Append(ctx, streamID, "property", expected, events, nil)
			if err != nil {
				var vc *eventcore.VersionConflictError
				if !errors.As(err, &vc) {
					t.Fatalf("unexpected error: %v", err)
				}
				// Rejected: committed version must be unchanged.
				_, last, loadErr := store.Load(ctx, streamID, 0)
				if loadErr != nil {
					t.Fatalf("load failed: %v", loadErr)
				}
				if last != committed {
					t.Fatalf("conflict must not mutate stream: want %d, got %d", committed, last)
				}
				continue
			}

			if expected != committed {
				t.Fatalf("append should only succeed when expectedVersion matched: expected=%d committed=%d", expected, committed)
			}
			if len(appended) != batchSize {
				t.Fatalf("expected %d committed events, got %d", batchSize, len(appended))
			}
			for _, ev := range appended {
				if ev.ID == "" {
					t.Fatalf("committed event missing id")
				}
				if ev.At.IsZero() {
					t.Fatalf("committed event missing commit timestamp")
				}
			}
			committed = appended[len(appended)-1].Version
		}

		evs, last, err := store.Load(ctx, streamID, 0)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if last != committed {
			t.Fatalf("last version mismatch: want %d, got %d", committed, last)
		}
		for idx, ev := range evs {
			if ev.Version != int64(idx+1) {
				t.Fatalf("version density violated at index %d: got version %d", idx, ev.Version)
			}
		}
	})
}
