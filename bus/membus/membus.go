// Package membus implements the in-process EventBus variant: a bounded
// per-subscriber queue with dedicated delivery workers and publisher
// backpressure on a full queue (dropping would break at-least-once
// delivery), plus bounded retry and dead-letter isolation per handler.
package membus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/bus"
)

// DefaultQueueSize bounds each subscriber's queue unless overridden with
// WithQueueSize.
const DefaultQueueSize = 1024

// Bus is an in-process EventBus. Each subscriber gets its own bounded
// channel and a single worker goroutine, so deliveries to one subscriber are
// strictly ordered while subscribers never block one another.
type Bus struct {
	mu          sync.RWMutex
	queueSize   int
	retry       bus.RetryPolicy
	deadLetter  bus.DeadLetterSink
	logger      *zap.Logger
	subscribers map[int64]*subscriber
	nextID      int64
	started     atomic.Bool
	closed      atomic.Bool
}

type subscriber struct {
	id        int64
	name      string
	eventType string // "" means subscribed to all types
	handler   bus.Handler
	queue     chan eventcore.StoredEvent
	done      chan struct{}
	wg        sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(b *Bus) { b.queueSize = n }
}

// WithRetryPolicy overrides bus.DefaultRetryPolicy().
func WithRetryPolicy(p bus.RetryPolicy) Option {
	return func(b *Bus) { b.retry = p }
}

// WithDeadLetterSink attaches a sink for events that exhaust retries.
// Without one, exhausted events are logged and dropped.
func WithDeadLetterSink(sink bus.DeadLetterSink) Option {
	return func(b *Bus) { b.deadLetter = sink }
}

// WithLogger sets the structured logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// New creates an in-memory Bus. Call Start before Publish.
func New(opts ...Option) *Bus {
	b := &Bus{
		queueSize:   DefaultQueueSize,
		retry:       bus.DefaultRetryPolicy(),
		logger:      zap.NewNop(),
		subscribers: map[int64]*subscriber{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) subscribe(subscriberID, eventType string, handler bus.Handler) (bus.Subscription, error) {
	if subscriberID == "" {
		return nil, fmt.Errorf("membus: subscriberID must not be empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("membus: handler must not be nil")
	}
	if b.closed.Load() {
		return nil, fmt.Errorf("membus: bus is closed")
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{
		id:        id,
		name:      subscriberID,
		eventType: eventType,
		handler:   handler,
		queue:     make(chan eventcore.StoredEvent, b.queueSize),
		done:      make(chan struct{}),
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	if b.started.Load() {
		b.startWorker(sub)
	}

	return &subscription{bus: b, id: id}, nil
}

// Subscribe registers handler for one event type.
func (b *Bus) Subscribe(subscriberID, eventType string, handler bus.Handler) (bus.Subscription, error) {
	if eventType == "" {
		return nil, fmt.Errorf("membus: eventType must not be empty, use SubscribeAll")
	}
	return b.subscribe(subscriberID, eventType, handler)
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(subscriberID string, handler bus.Handler) (bus.Subscription, error) {
	return b.subscribe(subscriberID, "", handler)
}

// Start begins delivery workers for every subscriber registered so far, and
// for any registered afterward.
func (b *Bus) Start(ctx context.Context) error {
	if b.started.Swap(true) {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		b.startWorker(sub)
	}
	return nil
}

func (b *Bus) startWorker(sub *subscriber) {
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for {
			select {
			case ev, ok := <-sub.queue:
				if !ok {
					return
				}
				b.deliver(sub, ev)
			case <-sub.done:
				return
			}
		}
	}()
}

func (b *Bus) deliver(sub *subscriber, ev eventcore.StoredEvent) {
	ctx := context.Background()
	var err error
	for attempt := 1; attempt <= b.retry.MaxAttempts; attempt++ {
		if err = sub.handler(ctx, ev); err == nil {
			return
		}
		if attempt < b.retry.MaxAttempts {
			select {
			case <-time.After(b.retry.Backoff(attempt)):
			case <-sub.done:
				return
			}
		}
	}

	b.logger.Warn("handler exhausted retries; parking event",
		zap.String("subscriber_id", sub.name),
		zap.String("event_type", ev.Type),
		zap.String("stream_id", ev.StreamID),
		zap.Error(err))

	if b.deadLetter == nil {
		return
	}
	entry := bus.DeadLetterEntry{
		SubscriberID: sub.name,
		Event:        ev,
		LastError:    err,
		FailedAt:     time.Now(),
	}
	if dlErr := b.deadLetter.Park(ctx, entry); dlErr != nil {
		b.logger.Error("dead-letter sink rejected event",
			zap.String("subscriber_id", sub.name), zap.Error(dlErr))
	}
}

// Publish fans the batch out to every matching subscriber, in order, one
// event at a time. A full subscriber queue blocks the publisher
// (backpressure) rather than dropping the event.
func (b *Bus) Publish(ctx context.Context, events []eventcore.StoredEvent) error {
	if b.closed.Load() {
		return fmt.Errorf("membus: bus is closed")
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, ev := range events {
		for _, sub := range subs {
			if sub.eventType != "" && sub.eventType != ev.Type {
				continue
			}
			select {
			case sub.queue <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Close stops accepting new subscriptions and publishes, and signals every
// worker to stop once its current delivery finishes. Events still waiting in
// a subscriber's queue are not guaranteed to be delivered.
func (b *Bus) Close(ctx context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		close(sub.done)
	}
	done := make(chan struct{})
	go func() {
		for _, sub := range subs {
			sub.wg.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type subscription struct {
	bus *Bus
	id  int64
}

func (s *subscription) Close(ctx context.Context) error {
	s.bus.mu.Lock()
	sub, ok := s.bus.subscribers[s.id]
	if ok {
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
	if !ok {
		return nil
	}
	close(sub.done)
	done := make(chan struct{})
	go func() {
		sub.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ bus.EventBus = (*Bus)(nil)
