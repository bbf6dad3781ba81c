package main

import (
	"context"
	"sync"
	"time"
)

// memCheckpointStore is a process-local projector.CheckpointStore. It is
// enough for this demo's single run; a real deployment persists checkpoints
// in Redis via projector/redischeckpoint so they survive a restart.
type memCheckpointStore struct {
	mu sync.Mutex
	at map[string]time.Time
}

func newMemCheckpointStore() *memCheckpointStore {
	return &memCheckpointStore{at: make(map[string]time.Time)}
}

func (s *memCheckpointStore) Load(_ context.Context, projector string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at[projector], nil
}

func (s *memCheckpointStore) Save(_ context.Context, projector string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.at[projector] = at
	return nil
}
