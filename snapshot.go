package eventcore

import (
	"time"
)

// Snapshot represents the current persisted state of an aggregate
// at a specific version, optionally loaded from storage.
//
// State is returned as the raw encoded bytes (not a deserialized map) so
// that the store stays opaque to aggregate-specific shapes. Only the owning
// aggregate's LoadState decodes it.
type Snapshot struct {
	State   []byte    // Self-describing serialized state, owned by the aggregate.
	Version int64     // Aggregate version at which the snapshot was taken.
	Found   bool      // Whether a snapshot exists.
	At      time.Time // Timestamp of when it was taken.
}
