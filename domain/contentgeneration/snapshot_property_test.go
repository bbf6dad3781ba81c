package contentgeneration_test

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/thinkrank/eventcore/domain/contentgeneration"
)

// TestAggregate_SnapshotEquivalenceProperty: for any legal command sequence
// producing events 1..M and any cut point N, restoring from the snapshot
// taken at N and applying events N+1..M yields the same serialized state as
// replaying all M events from scratch.
func TestAggregate_SnapshotEquivalenceProperty(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		driver := contentgeneration.New("req-1")
		if err := driver.RequestContentGeneration("topic", "easy"); err != nil {
			t.Fatalf("request: %v", err)
		}

		steps := rapid.IntRange(0, 10).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if driver.Status() == contentgeneration.StatusDeleted {
				break
			}
			switch rapid.IntRange(0, 2).Draw(t, "command") {
			case 0:
				if driver.Status() == contentgeneration.StatusRequested {
					if err := driver.CompleteContentGeneration("text", "uri"); err != nil {
						t.Fatalf("complete: %v", err)
					}
				}
			case 1:
				ai := rapid.Bool().Draw(t, "ai")
				confidence := rapid.Float64Range(0, 1).Draw(t, "confidence")
				if err := driver.FlagContentGeneration(ai, confidence, "verdict"); err != nil {
					t.Fatalf("flag: %v", err)
				}
			case 2:
				if err := driver.DeleteContentGeneration(); err != nil {
					t.Fatalf("delete: %v", err)
				}
			}
		}

		events, _ := driver.Uncommitted()

		full := contentgeneration.New("req-1")
		for _, e := range events {
			full.Apply(e)
		}
		want, err := full.SerializeState()
		if err != nil {
			t.Fatalf("serialize full replay: %v", err)
		}

		cut := rapid.IntRange(0, len(events)).Draw(t, "cut")
		mid := contentgeneration.New("req-1")
		for _, e := range events[:cut] {
			mid.Apply(e)
		}
		blob, err := mid.SerializeState()
		if err != nil {
			t.Fatalf("serialize snapshot: %v", err)
		}

		restored := contentgeneration.New("req-1")
		if err := restored.LoadState(blob, mid.Version()); err != nil {
			t.Fatalf("load snapshot: %v", err)
		}
		for _, e := range events[cut:] {
			restored.Apply(e)
		}

		got, err := restored.SerializeState()
		if err != nil {
			t.Fatalf("serialize restored: %v", err)
		}
		if string(got) != string(want) {
			t.Fatalf("snapshot+tail state diverged from full replay:\n got=%s\nwant=%s", got, want)
		}
	})
}
