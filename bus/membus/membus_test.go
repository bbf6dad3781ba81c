package membus_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/bus"
	"github.com/thinkrank/eventcore/bus/membus"
)

func storedEvent(aggID string, version int64, eventType string) eventcore.StoredEvent {
	return eventcore.StoredEvent{
		StreamID:      eventcore.NewStreamID("widget", aggID),
		AggregateType: "widget",
		AggregateID:   aggID,
		Type:          eventType,
		Version:       version,
	}
}

func TestBus_DeliversToMatchingSubscriberOnly(t *testing.T) {
	t.Parallel()
	b := membus.New()
	require.NoError(t, b.Start(t.Context()))
	t.Cleanup(func() { _ = b.Close(t.Context()) })

	var created, renamed atomic.Int32
	_, err := b.Subscribe("created-counter", "WidgetCreated", func(ctx context.Context, e eventcore.StoredEvent) error {
		created.Add(1)
		return nil
	})
	require.NoError(t, err)
	_, err = b.Subscribe("renamed-counter", "WidgetRenamed", func(ctx context.Context, e eventcore.StoredEvent) error {
		renamed.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(t.Context(), []eventcore.StoredEvent{
		storedEvent("w1", 1, "WidgetCreated"),
	}))

	require.Eventually(t, func() bool { return created.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), renamed.Load())
}

func TestBus_SubscribeAllReceivesEveryType(t *testing.T) {
	t.Parallel()
	b := membus.New()
	require.NoError(t, b.Start(t.Context()))
	t.Cleanup(func() { _ = b.Close(t.Context()) })

	var count atomic.Int32
	_, err := b.SubscribeAll("counter", func(ctx context.Context, e eventcore.StoredEvent) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(t.Context(), []eventcore.StoredEvent{
		storedEvent("w1", 1, "WidgetCreated"),
		storedEvent("w1", 2, "WidgetRenamed"),
	}))

	require.Eventually(t, func() bool { return count.Load() == 2 }, time.Second, time.Millisecond)
}

func TestBus_PerAggregateFIFO(t *testing.T) {
	t.Parallel()
	b := membus.New()
	require.NoError(t, b.Start(t.Context()))
	t.Cleanup(func() { _ = b.Close(t.Context()) })

	var mu sync.Mutex
	var seen []int64
	_, err := b.SubscribeAll("order-capture", func(ctx context.Context, e eventcore.StoredEvent) error {
		mu.Lock()
		seen = append(seen, e.Version)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	batch := []eventcore.StoredEvent{
		storedEvent("w1", 1, "WidgetCreated"),
		storedEvent("w1", 2, "WidgetRenamed"),
		storedEvent("w1", 3, "WidgetRenamed"),
	}
	require.NoError(t, b.Publish(t.Context(), batch))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

type captureSink struct {
	mu      sync.Mutex
	entries []bus.DeadLetterEntry
}

func (s *captureSink) Park(ctx context.Context, entry bus.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestBus_ExhaustedRetriesGoToDeadLetter(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	b := membus.New(
		membus.WithRetryPolicy(bus.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		membus.WithDeadLetterSink(sink),
	)
	require.NoError(t, b.Start(t.Context()))
	t.Cleanup(func() { _ = b.Close(t.Context()) })

	var attempts atomic.Int32
	_, err := b.SubscribeAll("boom", func(ctx context.Context, e eventcore.StoredEvent) error {
		attempts.Add(1)
		return fmt.Errorf("boom")
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(t.Context(), []eventcore.StoredEvent{storedEvent("w1", 1, "WidgetCreated")}))

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "boom", sink.entries[0].SubscriberID)
}

func TestBus_SubscribeRequiresSubscriberID(t *testing.T) {
	t.Parallel()
	b := membus.New()
	_, err := b.SubscribeAll("", func(ctx context.Context, e eventcore.StoredEvent) error { return nil })
	assert.Error(t, err)
}

func TestBus_PublishAfterCloseFails(t *testing.T) {
	t.Parallel()
	b := membus.New()
	require.NoError(t, b.Start(t.Context()))
	require.NoError(t, b.Close(t.Context()))

	err := b.Publish(t.Context(), []eventcore.StoredEvent{storedEvent("w1", 1, "WidgetCreated")})
	assert.Error(t, err)
}

func TestBus_QueueFullBlocksPublisher(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	b := membus.New(membus.WithQueueSize(1))
	_, err := b.SubscribeAll("slow", func(ctx context.Context, e eventcore.StoredEvent) error {
		<-block
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, b.Start(t.Context()))
	t.Cleanup(func() {
		close(block)
		_ = b.Close(t.Context())
	})

	// First event occupies the worker, second fills the queue, third must block.
	require.NoError(t, b.Publish(t.Context(), []eventcore.StoredEvent{storedEvent("w1", 1, "A")}))
	require.NoError(t, b.Publish(t.Context(), []eventcore.StoredEvent{storedEvent("w1", 2, "A")}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = b.Publish(ctx, []eventcore.StoredEvent{storedEvent("w1", 3, "A")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
