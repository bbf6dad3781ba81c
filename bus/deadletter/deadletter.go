// Package deadletter implements a Redis-backed bus.DeadLetterSink: events a
// subscriber could never process are appended to a bounded list so an
// operator can inspect and optionally replay them, instead of being
// silently lost. It calls go-redis/v9 directly rather than through an
// extra abstraction layer.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/bus"
)

// DefaultMaxLen caps the dead-letter list so a persistently failing handler
// can't grow it without bound.
const DefaultMaxLen = 10_000

const keyPrefix = "eventcore:deadletter:"

// Entry is the JSON shape stored in Redis for one parked event.
type Entry struct {
	SubscriberID string              `json:"subscriber_id"`
	Event        eventcore.StoredEvent `json:"event"`
	LastError    string              `json:"last_error"`
	FailedAt     time.Time           `json:"failed_at"`
}

// Sink parks dead-lettered events into a Redis list keyed by subscriber id.
type Sink struct {
	client *redis.Client
	maxLen int64
}

// Option configures a Sink.
type Option func(*Sink)

// WithMaxLen overrides DefaultMaxLen.
func WithMaxLen(n int64) Option {
	return func(s *Sink) { s.maxLen = n }
}

// New creates a Sink backed by an existing *redis.Client.
func New(client *redis.Client, opts ...Option) *Sink {
	s := &Sink{client: client, maxLen: DefaultMaxLen}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Park appends entry to the subscriber's dead-letter list, trimming to maxLen.
func (s *Sink) Park(ctx context.Context, entry bus.DeadLetterEntry) error {
	payload := Entry{
		SubscriberID: entry.SubscriberID,
		Event:        entry.Event,
		FailedAt:     entry.FailedAt,
	}
	if entry.LastError != nil {
		payload.LastError = entry.LastError.Error()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("deadletter: encode entry: %w", err)
	}

	key := keyPrefix + entry.SubscriberID
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, s.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deadletter: park entry: %w", err)
	}
	return nil
}

// List returns the most recent entries parked for subscriberID, newest first.
func (s *Sink) List(ctx context.Context, subscriberID string, limit int64) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := s.client.LRange(ctx, keyPrefix+subscriberID, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("deadletter: list entries: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("deadletter: decode entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

var _ bus.DeadLetterSink = (*Sink)(nil)
