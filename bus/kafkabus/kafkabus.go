// Package kafkabus implements the broker-backed EventBus variant: events
// are published to a durable topic partitioned by aggregate_id, preserving
// per-aggregate FIFO, and subscribers consume with acknowledgment
// (FetchMessage, a worker pool, CommitMessages after handling).
package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/bus"
)

// wireEvent is the JSON envelope written to Kafka. Payload carries the
// codec-encoded event body; Type selects the codec on the consuming side.
type wireEvent struct {
	ID            string            `json:"id"`
	StreamID      string            `json:"stream_id"`
	AggregateType string            `json:"aggregate_type"`
	AggregateID   string            `json:"aggregate_id"`
	Type          string            `json:"type"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      eventcore.Metadata `json:"metadata"`
	Version       int64             `json:"version"`
	At            time.Time         `json:"at"`
}

// Bus is a Kafka-backed EventBus. Publish writes to topic, partitioned by
// AggregateID so every event for one aggregate lands on the same partition
// and is therefore read back in order. Subscribe starts a consumer-group
// reader and a worker pool draining it.
type Bus struct {
	writer       *kafka.Writer
	brokers      []string
	topic        string
	groupID      string
	workerCount  int
	retry        bus.RetryPolicy
	deadLetter   bus.DeadLetterSink
	typeRegistry map[string]eventcore.EventCodec
	logger       *zap.Logger

	mu   sync.Mutex
	subs []*consumerSub
}

// Option configures a Bus.
type Option func(*Bus)

// WithGroupID sets the consumer group prefix. Each subscription joins its
// own group, "<prefix>:<subscriberID>", so distinct subscribers consume the
// whole topic independently instead of splitting partitions within one
// group. Defaults to "eventcore".
func WithGroupID(id string) Option {
	return func(b *Bus) { b.groupID = id }
}

// WithWorkerCount sets how many goroutines drain each subscriber's reader.
// Defaults to 4.
func WithWorkerCount(n int) Option {
	return func(b *Bus) { b.workerCount = n }
}

// WithRetryPolicy overrides bus.DefaultRetryPolicy().
func WithRetryPolicy(p bus.RetryPolicy) Option {
	return func(b *Bus) { b.retry = p }
}

// WithDeadLetterSink attaches a sink for events that exhaust retries.
func WithDeadLetterSink(sink bus.DeadLetterSink) Option {
	return func(b *Bus) { b.deadLetter = sink }
}

// WithTypeRegistry sets the codecs used to decode payloads back into typed
// events before handler dispatch. Required for any event type subscribers
// will receive.
func WithTypeRegistry(reg map[string]eventcore.EventCodec) Option {
	return func(b *Bus) { b.typeRegistry = reg }
}

// WithLogger sets the structured logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// New creates a Kafka-backed Bus publishing to and consuming from topic.
func New(brokers []string, topic string, opts ...Option) *Bus {
	b := &Bus{
		brokers:      brokers,
		topic:        topic,
		groupID:      "eventcore",
		workerCount:  4,
		retry:        bus.DefaultRetryPolicy(),
		typeRegistry: map[string]eventcore.EventCodec{},
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // keyed by aggregate_id -> same partition -> FIFO
		RequiredAcks: kafka.RequireAll,
	}
	return b
}

// Publish writes each event to the topic, keyed by AggregateID.
func (b *Bus) Publish(ctx context.Context, events []eventcore.StoredEvent) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		codec := b.typeRegistry[e.Type]
		var payload []byte
		var err error
		if codec != nil {
			payload, err = codec.Encode(e.Payload)
		} else {
			payload, err = json.Marshal(e.Payload)
		}
		if err != nil {
			return fmt.Errorf("kafkabus: encode event %s: %w", e.Type, err)
		}

		we := wireEvent{
			ID: e.ID, StreamID: e.StreamID, AggregateType: e.AggregateType,
			AggregateID: e.AggregateID, Type: e.Type, Payload: payload,
			Metadata: e.Metadata, Version: e.Version, At: e.At,
		}
		data, err := json.Marshal(we)
		if err != nil {
			return fmt.Errorf("kafkabus: encode envelope: %w", err)
		}

		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.AggregateID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.Type)},
				{Key: "aggregate_type", Value: []byte(e.AggregateType)},
			},
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := b.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafkabus: write messages: %w", err)
	}
	return nil
}

// Subscribe starts a reader consuming the whole topic under subscriberID's
// own consumer group, dispatching only messages whose event_type header
// matches, to handler. Consumers sharing one Kafka group split the topic's
// partitions between them, so each logical subscriber gets its own group —
// two subscribers on the same Bus each see the full stream, matching
// membus's fan-out. Every subscriber reads the full topic and filters
// client-side; Kafka consumer groups don't support per-type fan-out
// without per-type topics.
func (b *Bus) Subscribe(subscriberID, eventType string, handler bus.Handler) (bus.Subscription, error) {
	return b.subscribe(subscriberID, eventType, handler)
}

// SubscribeAll starts a reader dispatching every event to handler, under
// subscriberID's own consumer group.
func (b *Bus) SubscribeAll(subscriberID string, handler bus.Handler) (bus.Subscription, error) {
	return b.subscribe(subscriberID, "", handler)
}

func (b *Bus) subscribe(subscriberID, eventType string, handler bus.Handler) (bus.Subscription, error) {
	if subscriberID == "" {
		return nil, fmt.Errorf("kafkabus: subscriberID must not be empty")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		GroupTopics: []string{b.topic},
		GroupID:     b.groupID + ":" + subscriberID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	sub := &consumerSub{
		bus:       b,
		reader:    reader,
		name:      subscriberID,
		eventType: eventType,
		handler:   handler,
	}
	sub.ctx, sub.cancel = context.WithCancel(context.Background())

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	sub.start()
	return sub, nil
}

// Start is a no-op: each Subscribe call already starts its own reader and
// worker pool under its own consumer group.
func (b *Bus) Start(ctx context.Context) error { return nil }

// Close stops every active subscriber and the shared writer.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	subs := append([]*consumerSub(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close(ctx)
	}
	return b.writer.Close()
}

type consumerSub struct {
	bus       *Bus
	reader    *kafka.Reader
	name      string
	eventType string
	handler   bus.Handler
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	// shards holds one channel per worker. fetchLoop routes every message
	// to shards[hash(aggregate_id)%len(shards)], so all events for one
	// aggregate always land on the same worker and are handled in the
	// order Kafka delivered them — fanning out across a single shared
	// queue would let a stalled worker be overtaken by another handling a
	// later event for the same aggregate.
	shards []chan kafka.Message
}

func (s *consumerSub) start() {
	s.shards = make([]chan kafka.Message, s.bus.workerCount)
	for i := range s.shards {
		s.shards[i] = make(chan kafka.Message, 64)
	}
	s.wg.Add(1)
	go s.fetchLoop()
	for i := range s.shards {
		s.wg.Add(1)
		go s.worker(s.shards[i])
	}
}

func (s *consumerSub) fetchLoop() {
	defer s.wg.Done()
	defer func() {
		for _, shard := range s.shards {
			close(shard)
		}
	}()
	for {
		msg, err := s.reader.FetchMessage(s.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.bus.logger.Warn("kafkabus: fetch failed", zap.Error(err))
			continue
		}
		shard := s.shards[shardFor(msg.Key, len(s.shards))]
		select {
		case shard <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *consumerSub) worker(shard chan kafka.Message) {
	defer s.wg.Done()
	for msg := range shard {
		s.handle(msg)
	}
}

// shardFor hashes key (the message's aggregate_id) to a worker index in
// [0, n). The same key always maps to the same index, pinning an
// aggregate's events to one worker for the lifetime of the subscription.
func shardFor(key []byte, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}

func (s *consumerSub) handle(msg kafka.Message) {
	var we wireEvent
	if err := json.Unmarshal(msg.Value, &we); err != nil {
		s.bus.logger.Error("kafkabus: malformed envelope, committing to skip", zap.Error(err))
		_ = s.reader.CommitMessages(s.ctx, msg)
		return
	}
	if s.eventType != "" && we.Type != s.eventType {
		_ = s.reader.CommitMessages(s.ctx, msg)
		return
	}

	codec := s.bus.typeRegistry[we.Type]
	var payload eventcore.Event = we.Payload
	if codec != nil {
		decoded, err := codec.Decode(we.Payload)
		if err != nil {
			s.bus.logger.Error("kafkabus: decode failed, committing to skip", zap.String("type", we.Type), zap.Error(err))
			_ = s.reader.CommitMessages(s.ctx, msg)
			return
		}
		payload = decoded
	}

	ev := eventcore.StoredEvent{
		ID: we.ID, StreamID: we.StreamID, AggregateType: we.AggregateType,
		AggregateID: we.AggregateID, Type: we.Type, Payload: payload,
		Metadata: we.Metadata, Version: we.Version, At: we.At,
	}

	var err error
	for attempt := 1; attempt <= s.bus.retry.MaxAttempts; attempt++ {
		if err = s.handler(s.ctx, ev); err == nil {
			break
		}
		if attempt < s.bus.retry.MaxAttempts {
			select {
			case <-time.After(s.bus.retry.Backoff(attempt)):
			case <-s.ctx.Done():
				return
			}
		}
	}

	if err != nil {
		s.bus.logger.Warn("kafkabus: handler exhausted retries; parking event",
			zap.String("event_type", we.Type), zap.String("stream_id", we.StreamID), zap.Error(err))
		if s.bus.deadLetter != nil {
			entry := bus.DeadLetterEntry{
				SubscriberID: s.name,
				Event:        ev,
				LastError:    err,
				FailedAt:     time.Now(),
			}
			if dlErr := s.bus.deadLetter.Park(s.ctx, entry); dlErr != nil {
				s.bus.logger.Error("kafkabus: dead-letter sink rejected event", zap.Error(dlErr))
			}
		}
	}

	if err := s.reader.CommitMessages(s.ctx, msg); err != nil {
		s.bus.logger.Error("kafkabus: commit failed", zap.Error(err))
	}
}

// Close cancels the subscriber's fetch loop, drains in-flight workers, and
// closes its reader.
func (s *consumerSub) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return s.reader.Close()
}

var _ bus.EventBus = (*Bus)(nil)
