package kernel

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"snipebot/pkg/snipebot"
)

// EventBus fans published events out to bounded subscriber lanes.
//
// A subscription with N workers owns N lanes and one goroutine per lane.
// Events are routed to a lane by conversation, so the events of one channel
// are handled in publish order while different channels proceed in parallel.
type EventBus struct {
	defaults laneDefaults
	report   func(context.Context, string, error)

	nextID atomic.Int64

	mu     sync.RWMutex
	closed bool
	subs   map[int64]*subscription
}

type laneDefaults struct {
	buffer  int
	workers int
	timeout time.Duration
}

// NewEventBus creates an event bus. buffer, workers and handlerTimeout apply
// to subscriptions that leave the matching field at zero.
func NewEventBus(
	buffer int,
	workers int,
	handlerTimeout time.Duration,
	report func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		defaults: laneDefaults{buffer: buffer, workers: workers, timeout: handlerTimeout},
		report:   report,
		subs:     make(map[int64]*subscription),
	}
}

// Publish routes event to every subscription whose filter matches it.
// Dropped events are reported asynchronously; only blocking deliveries that
// give up on ctx fail the publish.
func (b *EventBus) Publish(ctx context.Context, event *snipebot.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("publish event %s: %w", event.Kind, errBusClosed)
	}
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.Matches(event) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	var failed []error
	for _, sub := range targets {
		err := sub.deliver(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, snipebot.ErrEventDropped), errors.Is(err, snipebot.ErrSubscriptionClosed):
			b.reportError(ctx, sub.spec.Name, err)
		default:
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("publish event %s: %w", event.Kind, errors.Join(failed...))
	}

	return nil
}

// Subscribe starts a subscription and its lane workers.
func (b *EventBus) Subscribe(
	ctx context.Context,
	spec snipebot.SubscriptionSpec,
	handler snipebot.EventHandler,
) (snipebot.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}

	id := b.nextID.Add(1)
	sub := startSubscription(id, b.withDefaults(spec, id), handler, b)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.stop()
		return nil, fmt.Errorf("subscribe %s: %w", sub.spec.Name, errBusClosed)
	}
	b.subs[id] = sub

	return sub, nil
}

// Close stops every subscription and rejects later publishes and subscribes.
// It waits for lane workers until ctx expires.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int64]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	var failed []error
	for _, sub := range subs {
		if err := sub.wait(ctx); err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("close event bus: %w", errors.Join(failed...))
	}

	return nil
}

func (b *EventBus) withDefaults(spec snipebot.SubscriptionSpec, id int64) snipebot.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.workers
	}
	if spec.Workers <= 0 {
		spec.Workers = 1
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaults.timeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = snipebot.BackpressureDropNewest
	}
	spec.Filter = cloneInterestSet(spec.Filter)

	return spec
}

func (b *EventBus) remove(ctx context.Context, id int64) error {
	b.mu.Lock()
	sub, found := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if !found {
		return nil
	}
	sub.stop()

	return sub.wait(ctx)
}

func (b *EventBus) reportError(ctx context.Context, scope string, err error) {
	if b.report != nil {
		b.report(ctx, scope, err)
	}
}

var errBusClosed = errors.New("bus closed")

// subscription owns the lanes of one subscriber. Lanes are never closed;
// workers exit when the subscription context is canceled.
type subscription struct {
	id      int64
	spec    snipebot.SubscriptionSpec
	filter  snipebot.InterestSet
	handler snipebot.EventHandler
	bus     *EventBus
	lanes   []chan *snipebot.Event

	ctx      context.Context
	cancel   context.CancelFunc
	stopped  atomic.Bool
	stopOnce sync.Once
	exited   chan struct{}
}

func startSubscription(
	id int64,
	spec snipebot.SubscriptionSpec,
	handler snipebot.EventHandler,
	bus *EventBus,
) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		id:      id,
		spec:    spec,
		filter:  spec.Filter,
		handler: handler,
		bus:     bus,
		lanes:   make([]chan *snipebot.Event, spec.Workers),
		ctx:     ctx,
		cancel:  cancel,
		exited:  make(chan struct{}),
	}

	// Buffer is the subscription total, split evenly across lanes.
	capacity := max(1, (spec.Buffer+spec.Workers-1)/spec.Workers)
	var workers sync.WaitGroup
	for lane := range sub.lanes {
		sub.lanes[lane] = make(chan *snipebot.Event, capacity)
		workers.Add(1)
		go func() {
			defer workers.Done()
			sub.drain(lane)
		}()
	}
	go func() {
		workers.Wait()
		close(sub.exited)
	}()

	return sub
}

// Name returns the subscription name.
func (s *subscription) Name() string {
	return s.spec.Name
}

// Close unregisters the subscription and waits for its workers.
func (s *subscription) Close(ctx context.Context) error {
	if err := s.bus.remove(ctx, s.id); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", s.spec.Name, err)
	}

	return nil
}

// laneFor maps the event's conversation onto one lane.
func (s *subscription) laneFor(event *snipebot.Event) chan *snipebot.Event {
	if len(s.lanes) == 1 {
		return s.lanes[0]
	}

	hash := fnv.New32a()
	_, _ = hash.Write([]byte(event.TenantID))
	_, _ = hash.Write([]byte{0})
	_, _ = hash.Write([]byte(event.Conversation.ID))

	return s.lanes[hash.Sum32()%uint32(len(s.lanes))]
}

func (s *subscription) deliver(ctx context.Context, event *snipebot.Event) error {
	if s.stopped.Load() {
		return fmt.Errorf("deliver to %s: %w", s.spec.Name, snipebot.ErrSubscriptionClosed)
	}
	lane := s.laneFor(event)

	select {
	case lane <- event:
		return nil
	default:
	}

	switch s.spec.Backpressure {
	case snipebot.BackpressureDropNewest:
		return fmt.Errorf("deliver to %s: %w", s.spec.Name, snipebot.ErrEventDropped)
	case snipebot.BackpressureDropOldest:
		select {
		case <-lane:
		default:
		}
		select {
		case lane <- event:
			return nil
		default:
			return fmt.Errorf("deliver to %s: %w", s.spec.Name, snipebot.ErrEventDropped)
		}
	case snipebot.BackpressureBlock:
		select {
		case lane <- event:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("deliver to %s: %w", s.spec.Name, ctx.Err())
		case <-s.ctx.Done():
			return fmt.Errorf("deliver to %s: %w", s.spec.Name, snipebot.ErrSubscriptionClosed)
		}
	default:
		return fmt.Errorf("deliver to %s: %w", s.spec.Name, snipebot.ErrInvalidSubscription)
	}
}

func (s *subscription) drain(lane int) {
	queue := s.lanes[lane]
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-queue:
			if err := s.handle(lane, event); err != nil {
				s.bus.reportError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

// handle runs the handler under the subscription timeout and recovers panics.
func (s *subscription) handle(lane int, event *snipebot.Event) error {
	ctx := s.ctx
	if s.spec.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.spec.HandlerTimeout)
		defer cancel()
	}

	scope := fmt.Sprintf("subscription %s lane %d", s.spec.Name, lane)
	if err := runSafely(scope, func() error { return s.handler(ctx, event) }); err != nil {
		return fmt.Errorf("handle event %s: %w", event.Kind, err)
	}

	return nil
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.cancel()
	})
}

func (s *subscription) wait(ctx context.Context) error {
	select {
	case <-s.exited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop subscription %s: %w", s.spec.Name, ctx.Err())
	}
}

// cloneInterestSet copies the filter slices so later caller mutation cannot
// change routing.
func cloneInterestSet(interest snipebot.InterestSet) snipebot.InterestSet {
	interest.Kinds = cloneSlice(interest.Kinds)
	interest.TenantIDs = cloneSlice(interest.TenantIDs)
	interest.CommandNames = cloneSlice(interest.CommandNames)
	interest.MediaTypes = cloneSlice(interest.MediaTypes)

	return interest
}

func cloneSlice[T any](values []T) []T {
	if len(values) == 0 {
		return nil
	}

	return append([]T(nil), values...)
}
