// Package projector maintains read models derived from the event stream: a
// checkpointed state machine that replays an aggregate type's history from
// a durable checkpoint, then attaches to the live bus, applying a
// deterministic, idempotent update per event, with poison messages
// isolated to a dead-letter sink by default.
package projector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	eventcore "github.com/thinkrank/eventcore"
	"github.com/thinkrank/eventcore/bus"
)

// State is a projector's position in its lifecycle:
// Bootstrapping → CatchingUp → Live → Draining → Stopped. A projector whose
// handler permanently fails under the Halt policy moves to Halted instead
// and stays there until an operator intervenes.
type State int

const (
	Bootstrapping State = iota
	CatchingUp
	Live
	Draining
	Stopped
	Halted
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case CatchingUp:
		return "catching_up"
	case Live:
		return "live"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// ErrSkip lets a Handler signal "this event is intentionally a no-op" —
// the checkpoint still advances, unlike a real failure.
var ErrSkip = errors.New("projector: skip event")

// PoisonPolicy chooses what happens once a Handler exhausts its retries on
// one event: isolate it and move on, or halt and block on it.
type PoisonPolicy int

const (
	// Isolate parks the event in the dead-letter sink and continues.
	Isolate PoisonPolicy = iota
	// Halt stops the projector on the offending event: the event is not
	// dead-lettered, the watermark does not move past it, no further events
	// are applied, and the projector detaches from the bus and moves to
	// Halted (the error is surfaced via Err). Other subscribers are
	// unaffected. Recovery is an operator restart, which replays from the
	// checkpoint.
	Halt
)

// EventSource is the subset of eventcore.EventStore a projector needs for
// checkpoint replay.
type EventSource interface {
	LoadByType(ctx context.Context, aggregateType string, sinceTimestamp time.Time, limit int) ([]eventcore.StoredEvent, error)
}

// CheckpointStore persists a projector's `event_type → last_global_position`
// checkpoint, modeled here as a single replay watermark
// timestamp per projector name since LoadByType is itself ordered and
// filtered by timestamp.
type CheckpointStore interface {
	Load(ctx context.Context, projector string) (time.Time, error)
	Save(ctx context.Context, projector string, at time.Time) error
}

// Handler applies one event to the read model. It must be idempotent: the
// projector may call it more than once for the same event (replay overlap,
// at-least-once bus redelivery).
type Handler func(ctx context.Context, event eventcore.StoredEvent) error

// Projector drives one read model's replay-then-live lifecycle for events
// of a single aggregate type.
type Projector struct {
	name          string
	aggregateType string
	source        EventSource
	checkpoints   CheckpointStore
	handler       Handler
	deadLetter    bus.DeadLetterSink
	retry         bus.RetryPolicy
	poisonPolicy  PoisonPolicy
	batchSize     int
	logger        *zap.Logger

	mu        sync.Mutex
	state     State
	watermark time.Time
	sub       bus.Subscription
	haltErr   error
}

// Option configures a Projector.
type Option func(*Projector)

func WithDeadLetterSink(sink bus.DeadLetterSink) Option {
	return func(p *Projector) { p.deadLetter = sink }
}

func WithRetryPolicy(policy bus.RetryPolicy) Option {
	return func(p *Projector) { p.retry = policy }
}

func WithPoisonPolicy(policy PoisonPolicy) Option {
	return func(p *Projector) { p.poisonPolicy = policy }
}

func WithBatchSize(n int) Option {
	return func(p *Projector) { p.batchSize = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Projector) { p.logger = logger }
}

// New creates a Projector for aggregateType, named name for checkpointing
// and dead-letter subscriber-id purposes.
func New(name, aggregateType string, source EventSource, checkpoints CheckpointStore, handler Handler, opts ...Option) *Projector {
	p := &Projector{
		name:          name,
		aggregateType: aggregateType,
		source:        source,
		checkpoints:   checkpoints,
		handler:       handler,
		retry:         bus.DefaultRetryPolicy(),
		batchSize:     500,
		logger:        zap.NewNop(),
		state:         Bootstrapping,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the projector's current lifecycle state.
func (p *Projector) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the error that moved the projector to Halted, or nil.
func (p *Projector) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.haltErr
}

func (p *Projector) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Start loads the checkpoint, replays history up to the live edge, then
// subscribes to b for ongoing delivery. Replay happens before attaching to
// the bus so that no live event is missed, which also closes the gap a
// crash between commit and publish leaves behind.
func (p *Projector) Start(ctx context.Context, b bus.EventBus) error {
	p.setState(Bootstrapping)

	since, err := p.checkpoints.Load(ctx, p.name)
	if err != nil {
		return fmt.Errorf("projector %s: load checkpoint: %w", p.name, err)
	}
	p.mu.Lock()
	p.watermark = since
	p.mu.Unlock()

	p.setState(CatchingUp)
	if err := p.catchUp(ctx); err != nil {
		return err
	}

	p.setState(Live)
	sub, err := b.SubscribeAll(p.name, p.onLiveEvent)
	if err != nil {
		return fmt.Errorf("projector %s: subscribe: %w", p.name, err)
	}
	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()
	return nil
}

func (p *Projector) catchUp(ctx context.Context) error {
	for {
		p.mu.Lock()
		since := p.watermark
		p.mu.Unlock()

		batch, err := p.source.LoadByType(ctx, p.aggregateType, since, p.batchSize)
		if err != nil {
			return fmt.Errorf("projector %s: load history: %w", p.name, err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, ev := range batch {
			if err := p.apply(ctx, ev); err != nil {
				var poison *eventcore.ProjectorPoisonMessageError
				if !errors.As(err, &poison) {
					// Transient, e.g. cancellation mid-retry: not a poison
					// verdict, so no halt and no watermark advance.
					return fmt.Errorf("projector %s: apply: %w", p.name, err)
				}
				if p.poisonPolicy == Halt {
					p.halt(err)
					return err
				}
				// Isolate: parked; the watermark moves past it.
			}
			p.mu.Lock()
			p.watermark = ev.At
			p.mu.Unlock()
		}
		if err := p.checkpoints.Save(ctx, p.name, p.watermark); err != nil {
			return fmt.Errorf("projector %s: save checkpoint: %w", p.name, err)
		}
		if len(batch) < p.batchSize {
			return nil
		}
	}
}

func (p *Projector) onLiveEvent(ctx context.Context, ev eventcore.StoredEvent) error {
	if ev.AggregateType != p.aggregateType {
		return nil
	}

	p.mu.Lock()
	halted := p.state == Halted
	already := !ev.At.After(p.watermark)
	p.mu.Unlock()
	if halted {
		// Nothing is applied and the watermark stays pinned at the failed
		// event; a restart replays everything from the checkpoint.
		return nil
	}
	if already {
		// Already covered by replay; redelivering would be harmless but
		// wasteful, so events at or before the watermark are discarded.
		return nil
	}

	if err := p.apply(ctx, ev); err != nil {
		var poison *eventcore.ProjectorPoisonMessageError
		if !errors.As(err, &poison) {
			// Transient, e.g. cancellation mid-retry: leave the watermark
			// alone and let the bus redeliver.
			return err
		}
		if p.poisonPolicy == Halt {
			// The event stays unacknowledged: the watermark must not move
			// past it, or a restart would replay from beyond the failure
			// and lose it. Halting also detaches from the bus, so the
			// bus's own retry and dead-letter machinery never advances
			// past this projector's failure on its behalf.
			p.halt(err)
			return err
		}
		// Isolate: parked; the watermark moves past it.
	}

	p.mu.Lock()
	p.watermark = ev.At
	p.mu.Unlock()
	if saveErr := p.checkpoints.Save(ctx, p.name, ev.At); saveErr != nil {
		p.logger.Warn("projector: checkpoint save failed", zap.String("projector", p.name), zap.Error(saveErr))
	}
	return nil
}

// halt records err, moves the projector to Halted, and closes the live
// subscription so no further deliveries arrive. The close runs in its own
// goroutine: halt is called from inside a bus delivery, and closing a
// subscription synchronously there would deadlock on the worker draining
// the current event.
func (p *Projector) halt(err error) {
	p.mu.Lock()
	if p.state == Halted {
		p.mu.Unlock()
		return
	}
	p.state = Halted
	p.haltErr = err
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()

	p.logger.Error("projector halted; operator intervention required",
		zap.String("projector", p.name), zap.Error(err))

	if sub != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = sub.Close(ctx)
		}()
	}
}

func (p *Projector) apply(ctx context.Context, ev eventcore.StoredEvent) error {
	var err error
	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		err = p.handler(ctx, ev)
		if err == nil || errors.Is(err, ErrSkip) {
			return nil
		}
		if attempt < p.retry.MaxAttempts {
			select {
			case <-time.After(p.retry.Backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	poisonErr := &eventcore.ProjectorPoisonMessageError{Projector: p.name, EventID: ev.ID, Err: err}
	p.logger.Error("projector: handler rejected event",
		zap.String("projector", p.name), zap.String("event_id", ev.ID), zap.Error(err))

	// Only Isolate parks the event: under Halt it stays unacknowledged for
	// the restart replay rather than being moved aside.
	if p.poisonPolicy == Isolate && p.deadLetter != nil {
		entry := bus.DeadLetterEntry{SubscriberID: p.name, Event: ev, LastError: err, FailedAt: time.Now()}
		if dlErr := p.deadLetter.Park(ctx, entry); dlErr != nil {
			p.logger.Error("projector: dead-letter sink rejected event", zap.String("projector", p.name), zap.Error(dlErr))
		}
	}
	return poisonErr
}

// Stop drains in-flight delivery and moves the projector to Stopped.
// A Halted projector stays Halted: its subscription is already closed, and
// the halt state (with Err) is what the operator needs to see.
func (p *Projector) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Halted {
		p.mu.Unlock()
		return nil
	}
	p.state = Draining
	sub := p.sub
	p.sub = nil
	p.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Close(ctx)
	}
	p.mu.Lock()
	if p.state != Halted {
		p.state = Stopped
	}
	p.mu.Unlock()
	return err
}
