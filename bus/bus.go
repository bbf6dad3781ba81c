// Package bus defines the EventBus contract: distribute each
// committed event to every registered subscriber at least once, preserving
// per-aggregate FIFO order. Concrete transports live in sibling packages —
// bus/membus (in-process, bounded queues) and bus/kafkabus (broker-backed,
// partition-keyed by aggregate_id) — mirroring the stores/mem and
// stores/pgx split on the EventStore side.
package bus

import (
	"context"
	"time"

	eventcore "github.com/thinkrank/eventcore"
)

// Handler processes one committed event. Handlers must be idempotent: the
// bus guarantees at-least-once delivery, never exactly-once.
type Handler func(ctx context.Context, event eventcore.StoredEvent) error

// Subscription represents a registered handler. Close stops new deliveries;
// in-flight deliveries are drained up to an implementation-defined timeout,
// then abandoned. Abandoned events are recovered on next start via the
// subscriber's own checkpoint (see package projector), not by the bus.
type Subscription interface {
	Close(ctx context.Context) error
}

// RetryPolicy bounds how a bus retries a failing handler before parking the
// event in a DeadLetterSink.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is a handful of attempts with short exponential
// backoff, not an unbounded loop.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Backoff returns the delay before retry attempt n (1-indexed).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// DeadLetterEntry is what a bus hands to a DeadLetterSink once a handler has
// exhausted its RetryPolicy for one event.
type DeadLetterEntry struct {
	SubscriberID string
	Event        eventcore.StoredEvent
	LastError    error
	FailedAt     time.Time
}

// DeadLetterSink durably records events a handler could never process, so an
// operator can inspect and optionally replay them. bus/deadletter provides a
// Redis-backed implementation.
type DeadLetterSink interface {
	Park(ctx context.Context, entry DeadLetterEntry) error
}

// EventBus distributes committed batches to subscribers.
//
// Guarantees:
//   - at-least-once delivery to every subscriber;
//   - per-aggregate FIFO: for e1, e2 with the same AggregateID, if
//     e1.Version < e2.Version every subscriber observes e1 before e2;
//   - no ordering is imposed across different aggregates;
//   - no transactional coupling between subscribers — one handler's failure
//     never blocks delivery to another, or to later events.
type EventBus interface {
	// Subscribe registers handler for one event type under subscriberID,
	// which must be non-empty and stable across restarts: it names the
	// subscriber in dead-letter entries and, on broker-backed buses, pins
	// its consumer-group identity so each subscriber keeps receiving the
	// whole stream independently. Multiple subscribers per type are allowed.
	Subscribe(subscriberID, eventType string, handler Handler) (Subscription, error)

	// SubscribeAll registers handler for every event type, under the same
	// subscriberID contract as Subscribe.
	SubscribeAll(subscriberID string, handler Handler) (Subscription, error)

	// Publish accepts an ordered batch committed by a single Save call and
	// fans it out to subscribers. The batch must already be in version
	// order; Publish does not reorder it.
	Publish(ctx context.Context, events []eventcore.StoredEvent) error

	// Start begins dispatching to subscribers. Subscriptions registered
	// before Start are honored from the first Publish onward.
	Start(ctx context.Context) error

	// Close drains in-flight deliveries up to an implementation-defined
	// timeout, then stops. Publish after Close returns an error.
	Close(ctx context.Context) error
}
