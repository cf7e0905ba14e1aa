// Package events is the state-event log: an append-only record of observed
// uptrend-engine state transitions plus a pub/sub bus that fans each
// transition out to whatever else in the process wants to react to it (the
// API's /ws feed, the learning loop's event logger).
//
// Grounded in the teacher's internal/events/event_bus.go (EventBus,
// EventType, BaseEvent, priority-ordered subscriber dispatch via sort,
// panic-recovering handler execution, EventBusStats), generalized from
// trading events (fill, order, risk_alert) to state-machine transition
// events (s1_primer, s2_buy_signal, s3_trending, ...).
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lowcap-labs/regime-engine/pkg/types"
)

// EventType names one kind of observed state transition.
type EventType string

const (
	EventTypeS1Primer       EventType = "s1_primer"
	EventTypeS2BuySignal    EventType = "s2_buy_signal"
	EventTypeS3Trending     EventType = "s3_trending"
	EventTypeS2TrimFlag     EventType = "s2_trim_flag"
	EventTypeEmergencyExit  EventType = "emergency_exit"
	EventTypeFakeoutRecover EventType = "fakeout_recovery"
	EventTypeResetToS0      EventType = "reset_to_s0"
)

// Event is a single observed state transition for one position.
type Event struct {
	ID         string           `json:"id"`
	Type       EventType        `json:"event_type"`
	Timestamp  time.Time        `json:"ts"`
	PositionID string           `json:"token_contract"`
	State      types.EngineState `json:"state"`
	Payload    types.EnginePayload `json:"payload"`
}

func (e Event) GetType() EventType      { return e.Type }
func (e Event) GetTimestamp() time.Time { return e.Timestamp }
func (e Event) GetID() string           { return e.ID }

// NewEvent builds an Event for a transition, stamping a fresh UUID.
func NewEvent(eventType EventType, positionID string, payload types.EnginePayload) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  payload.Timestamp,
		PositionID: positionID,
		State:      payload.State,
		Payload:    payload,
	}
}

// TransitionEvents inspects a tick's payload against its previous state and
// returns every event type that transition implies (zero, one, or more —
// e.g. a buy signal and a trending entry can coincide).
func TransitionEvents(prevState types.EngineState, payload types.EnginePayload) []EventType {
	var out []EventType
	if payload.State == types.StateS1Primer && prevState != types.StateS1Primer {
		out = append(out, EventTypeS1Primer)
	}
	if payload.Flags.BuySignal {
		out = append(out, EventTypeS2BuySignal)
	}
	if payload.State == types.StateS3Trending && prevState != types.StateS3Trending {
		out = append(out, EventTypeS3Trending)
	}
	if payload.Flags.TrimFlag {
		out = append(out, EventTypeS2TrimFlag)
	}
	if payload.EmergencyExit.Active {
		out = append(out, EventTypeEmergencyExit)
	}
	if payload.Flags.FakeoutRecovery {
		out = append(out, EventTypeFakeoutRecover)
	}
	if payload.State == types.StateS0Bearish && prevState != types.StateS0Bearish {
		out = append(out, EventTypeResetToS0)
	}
	return out
}

// Handler processes one event; an error is logged, never propagated.
type Handler func(Event) error

// Subscription is one registered handler, with a priority controlling
// dispatch order (higher runs first) — grounded in the teacher's
// priority-ordered subscriber list.
type Subscription struct {
	ID       string
	Type     EventType
	Priority int
	Handler  Handler
	active   atomic.Bool
}

func (s *Subscription) IsActive() bool { return s.active.Load() }

// Stats is a snapshot of the bus's dispatch counters.
type Stats struct {
	Published         int64
	Processed         int64
	Dropped           int64
	HandlerErrors     int64
	ActiveSubscribers int64
}

// Bus fans published Events out to type-scoped subscribers via a bounded
// worker pool, same shape as the teacher's channel-dispatch EventBus but
// scoped to this package's state-transition Event type.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[EventType][]*Subscription

	eventChan chan Event

	published    atomic.Int64
	processed    atomic.Int64
	dropped      atomic.Int64
	handlerErrs  atomic.Int64
	activeCount  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures the bus's worker pool and buffer.
type Config struct {
	NumWorkers int
	BufferSize int
}

// DefaultConfig returns sensible defaults for the modest event volume a
// state-transition log produces (far below the teacher's 100K/s design
// point — there is one transition per position per tick, not per trade).
func DefaultConfig() Config {
	return Config{NumWorkers: 4, BufferSize: 4096}
}

// NewBus constructs and starts a Bus's worker pool.
func NewBus(logger *zap.Logger, cfg Config) *Bus {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger:      logger.Named("events"),
		subscribers: make(map[EventType][]*Subscription),
		eventChan:   make(chan Event, cfg.BufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-b.eventChan:
			b.dispatch(ev)
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	subs := append([]*Subscription(nil), b.subscribers[ev.Type]...)
	b.mu.RUnlock()

	sort.SliceStable(subs, func(i, j int) bool { return subs[i].Priority > subs[j].Priority })

	for _, sub := range subs {
		if !sub.IsActive() {
			continue
		}
		b.invoke(sub, ev)
	}
	b.processed.Add(1)
}

func (b *Bus) invoke(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerErrs.Add(1)
			b.logger.Error("handler panic", zap.String("subscription", sub.ID), zap.Any("panic", r))
		}
	}()
	if err := sub.Handler(ev); err != nil {
		b.handlerErrs.Add(1)
		b.logger.Warn("handler error", zap.String("subscription", sub.ID), zap.Error(err))
	}
}

// Subscribe registers handler for eventType at the given priority.
func (b *Bus) Subscribe(eventType EventType, priority int, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{ID: uuid.NewString(), Type: eventType, Priority: priority, Handler: handler}
	sub.active.Store(true)
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	b.activeCount.Add(1)
	return sub
}

// Unsubscribe deactivates a subscription; already-queued dispatches for it
// are skipped rather than retracted.
func (b *Bus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	b.activeCount.Add(-1)
}

// Publish enqueues an event for async dispatch; drops and counts it if the
// buffer is full rather than blocking the caller's tick.
func (b *Bus) Publish(ev Event) {
	select {
	case b.eventChan <- ev:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("event dropped, buffer full", zap.String("event_type", string(ev.Type)))
	}
}

// PublishSync dispatches synchronously, so the caller observes handler
// completion before proceeding; it is used by tests.
func (b *Bus) PublishSync(ev Event) {
	b.published.Add(1)
	b.dispatch(ev)
}

// Stats returns a snapshot of the bus's dispatch counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published:         b.published.Load(),
		Processed:         b.processed.Load(),
		Dropped:           b.dropped.Load(),
		HandlerErrors:     b.handlerErrs.Load(),
		ActiveSubscribers: b.activeCount.Load(),
	}
}

// Stop cancels the worker pool and waits for in-flight dispatches to drain.
func (b *Bus) Stop() {
	b.cancel()
	b.wg.Wait()
}
