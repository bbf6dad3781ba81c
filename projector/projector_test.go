package projector_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/bus"
	"github.com/thinkrank/eventcore/bus/membus"
	"github.com/thinkrank/eventcore/projector"
	"github.com/thinkrank/eventcore/stores/mem"
)

type memCheckpoints struct {
	mu   sync.Mutex
	data map[string]time.Time
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{data: map[string]time.Time{}}
}

func (c *memCheckpoints) Load(ctx context.Context, name string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[name], nil
}

func (c *memCheckpoints) Save(ctx context.Context, name string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[name] = at
	return nil
}

type row struct {
	id      string
	version int64
}

type memReadModel struct {
	mu   sync.Mutex
	rows map[string]row
	hits int
}

func (m *memReadModel) apply(ctx context.Context, ev eventcore.StoredEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
	existing, ok := m.rows[ev.AggregateID]
	if ok && ev.Version <= existing.version {
		return nil
	}
	m.rows[ev.AggregateID] = row{id: ev.AggregateID, version: ev.Version}
	return nil
}

func seed(t *testing.T, store eventcore.EventStore, aggregateID string, n int) {
	t.Helper()
	streamID := eventcore.NewStreamID("widget", aggregateID)
	events := make([]eventcore.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, struct{ N int }{N: i})
	}
	_, err := store.Append(t.Context(), streamID, "widget", 0, events, nil)
	require.NoError(t, err)
}

func TestProjector_ReplaysHistoryThenGoesLive(t *testing.T) {
	t.Parallel()
	store := mem.New()
	seed(t, store, "w1", 3)

	rm := &memReadModel{rows: map[string]row{}}
	ckpt := newMemCheckpoints()
	p := projector.New("widget-index", "widget", store, ckpt, rm.apply)

	b := membus.New()
	require.NoError(t, b.Start(t.Context()))
	t.Cleanup(func() { _ = b.Close(t.Context()) })

	require.NoError(t, p.Start(t.Context(), b))
	t.Cleanup(func() { _ = p.Stop(t.Context()) })

	assert.Equal(t, projector.Live, p.State())
	rm.mu.Lock()
	assert.EqualValues(t, 3, rm.rows["w1"].version)
	rm.mu.Unlock()
}

func TestProjector_LiveEventsAppendToReplayedHistory(t *testing.T) {
	t.Parallel()
	store := mem.New()

	rm := &memReadModel{rows: map[string]row{}}
	ckpt := newMemCheckpoints()
	p := projector.New("widget-index", "widget", store, ckpt, rm.apply)

	b := membus.New()
	require.NoError(t, b.Start(t.Context()))
	t.Cleanup(func() { _ = b.Close(t.Context()) })
	require.NoError(t, p.Start(t.Context(), b))
	t.Cleanup(func() { _ = p.Stop(t.Context()) })

	ev := eventcore.StoredEvent{
		StreamID: eventcore.NewStreamID("widget", "w1"), AggregateType: "widget",
		AggregateID: "w1", Type: "Created", Version: 1, At: time.Now(),
	}
	require.NoError(t, b.Publish(t.Context(), []eventcore.StoredEvent{ev}))

	require.Eventually(t, func() bool {
		rm.mu.Lock()
		defer rm.mu.Unlock()
		return rm.rows["w1"].version == 1
	}, time.Second, time.Millisecond)
}

func TestProjector_Idempotence(t *testing.T) {
	t.Parallel()
	rm := &memReadModel{rows: map[string]row{}}
	ctx := context.Background()

	ev := eventcore.StoredEvent{AggregateID: "w1", Version: 1}
	require.NoError(t, rm.apply(ctx, ev))
	require.NoError(t, rm.apply(ctx, ev))

	rm.mu.Lock()
	defer rm.mu.Unlock()
	assert.EqualValues(t, 1, rm.rows["w1"].version)
	assert.Equal(t, 2, rm.hits) // handler ran twice, but state converged once
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

func TestProjector_PoisonMessageIsolatedToDeadLetter(t *testing.T) {
	t.Parallel()
	store := mem.New()
	seed(t, store, "w1", 1)

	sink := &captureSink{}
	ckpt := newMemCheckpoints()
	var calls int
	handler := func(ctx context.Context, ev eventcore.StoredEvent) error {
		calls++
		return fmt.Errorf("permanently broken handler")
	}
	p := projector.New("widget-index", "widget", store, ckpt, handler,
		projector.WithDeadLetterSink(sink),
		projector.WithRetryPolicy(bus.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)

	b := membus.New()
	require.NoError(t, b.Start(t.Context()))
	t.Cleanup(func() { _ = b.Close(t.Context()) })

	require.NoError(t, p.Start(t.Context(), b))
	t.Cleanup(func() { _ = p.Stop(t.Context()) })

	assert.Equal(t, projector.Live, p.State())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.entries, 1)
	assert.Equal(t, 2, calls)
}

// TestProjector_HaltOnLiveEventStopsProcessing drives a permanently failing
// handler under the Halt policy through the live path: the projector must
// move to Halted, detach from the bus so later events are not applied, keep
// the failed event out of the dead-letter sink, and leave the checkpoint
// untouched so a restart replays from before the failure.
func TestProjector_HaltOnLiveEventStopsProcessing(t *testing.T) {
	t.Parallel()
	store := mem.New()
	ckpt := newMemCheckpoints()
	sink := &captureSink{}

	var calls atomic.Int32
	handler := func(ctx context.Context, ev eventcore.StoredEvent) error {
		calls.Add(1)
		return fmt.Errorf("permanently broken handler")
	}
	p := projector.New("widget-index", "widget", store, ckpt, handler,
		projector.WithDeadLetterSink(sink),
		projector.WithPoisonPolicy(projector.Halt),
		projector.WithRetryPolicy(bus.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)

	b := membus.New()
	require.NoError(t, b.Start(t.Context()))
	t.Cleanup(func() { _ = b.Close(t.Context()) })
	require.NoError(t, p.Start(t.Context(), b))
	t.Cleanup(func() { _ = p.Stop(t.Context()) })

	ev := eventcore.StoredEvent{
		StreamID: eventcore.NewStreamID("widget", "w1"), AggregateType: "widget",
		AggregateID: "w1", Type: "Created", Version: 1, At: time.Now(),
	}
	require.NoError(t, b.Publish(t.Context(), []eventcore.StoredEvent{ev}))

	require.Eventually(t, func() bool { return p.State() == projector.Halted }, time.Second, time.Millisecond)
	require.Error(t, p.Err())
	handled := calls.Load()
	assert.EqualValues(t, 2, handled) // the projector's own retries, then halt

	// A later event must not reach the handler.
	next := eventcore.StoredEvent{
		StreamID: eventcore.NewStreamID("widget", "w1"), AggregateType: "widget",
		AggregateID: "w1", Type: "Renamed", Version: 2, At: time.Now(),
	}
	require.NoError(t, b.Publish(t.Context(), []eventcore.StoredEvent{next}))
	assert.Never(t, func() bool { return calls.Load() != handled }, 100*time.Millisecond, 10*time.Millisecond)

	// Halt leaves the event unacknowledged rather than parking it.
	sink.mu.Lock()
	assert.Empty(t, sink.entries)
	sink.mu.Unlock()

	// No checkpoint advanced: a restart replays from the beginning.
	at, err := ckpt.Load(context.Background(), "widget-index")
	require.NoError(t, err)
	assert.True(t, at.IsZero())
}

func TestProjector_StateTransitions(t *testing.T) {
	t.Parallel()
	store := mem.New()
	ckpt := newMemCheckpoints()
	rm := &memReadModel{rows: map[string]row{}}
	p := projector.New("widget-index", "widget", store, ckpt, rm.apply)

	assert.Equal(t, projector.Bootstrapping, p.State())

	b := membus.New()
	require.NoError(t, b.Start(t.Context()))
	t.Cleanup(func() { _ = b.Close(t.Context()) })
	require.NoError(t, p.Start(t.Context(), b))
	assert.Equal(t, projector.Live, p.State())

	require.NoError(t, p.Stop(t.Context()))
	assert.Equal(t, projector.Stopped, p.State())
}

func TestState_String(t *testing.T) {
	states := []projector.State{
		projector.Bootstrapping, projector.CatchingUp, projector.Live,
		projector.Draining, projector.Stopped, projector.Halted,
	}
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, s.String())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"bootstrapping", "catching_up", "draining", "halted", "live", "stopped"}, names)
}
