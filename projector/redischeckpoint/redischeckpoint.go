// Package redischeckpoint implements projector.CheckpointStore on Redis: a
// projector's replay watermark is a single string value, so a plain
// key-per-projector GET/SET is enough; it calls *redis.Client directly
// rather than through an extra abstraction layer.
package redischeckpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "eventcore:checkpoint:"

// Store is a Redis-backed projector.CheckpointStore.
type Store struct {
	client *redis.Client
}

// New creates a Store backed by an existing *redis.Client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Load returns the saved watermark for projector, or the zero time if none
// has been recorded yet.
func (s *Store) Load(ctx context.Context, projector string) (time.Time, error) {
	raw, err := s.client.Get(ctx, keyPrefix+projector).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redischeckpoint: load %s: %w", projector, err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("redischeckpoint: parse %s: %w", projector, err)
	}
	return at, nil
}

// Save persists the watermark for projector. Checkpoints never expire.
func (s *Store) Save(ctx context.Context, projector string, at time.Time) error {
	if err := s.client.Set(ctx, keyPrefix+projector, at.Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("redischeckpoint: save %s: %w", projector, err)
	}
	return nil
}
