package eventcore

import (
	"fmt"
	"strings"
	"time"
)

// Event is a semantic alias of `any` that represents a domain event payload.
// Concrete event types are plain structs; the store never inspects their
// fields and only needs EventType() for routing and codec lookup.
type Event any

// StoredEvent represents an event that has been durably committed to the
// event store. It is what EventStore.Load, EventStore.LoadByType, and the
// EventBus hand to callers — never the bare Event.
type StoredEvent struct {
	ID            string
	StreamID      string
	AggregateType string
	AggregateID   string
	Type          string
	Payload       Event
	Metadata      Metadata
	Version       int64
	At            time.Time
}

// EventType returns the canonical name for a given event.
// If the event implements `EventType() string`, that value is used.
// Otherwise, it falls back to the Go type name (e.g., "contentgeneration.ContentRequested").
func EventType(e Event) string {
	if named, ok := e.(interface{ EventType() string }); ok {
		return named.EventType()
	}
	return fmt.Sprintf("%T", e)
}

// NewStreamID composes the canonical stream identity from an aggregate's
// type tag and its stable identifier, e.g. NewStreamID("content_generation", "abc")
// -> "content_generation:abc". A shared helper because every aggregate
// kind in this module needs it.
func NewStreamID(aggregateType, aggregateID string) string {
	return aggregateType + ":" + aggregateID
}

// ParseStreamID splits a composed stream id back into its aggregate type and
// id. It is the inverse of NewStreamID and tolerates stream ids that were
// never composed (returns the whole string as aggregateID with an empty type).
func ParseStreamID(streamID string) (aggregateType, aggregateID string) {
	idx := strings.Index(streamID, ":")
	if idx < 0 {
		return "", streamID
	}
	return streamID[:idx], streamID[idx+1:]
}
