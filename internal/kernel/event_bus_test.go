package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"snipebot/pkg/snipebot"
)

func newTestBus(
	t *testing.T,
	buffer int,
	workers int,
	report func(context.Context, string, error),
) *EventBus {
	t.Helper()

	bus := NewEventBus(buffer, workers, time.Second, report)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	return bus
}

func publishAll(t *testing.T, bus *EventBus, events ...*snipebot.Event) {
	t.Helper()

	for _, event := range events {
		if err := bus.Publish(context.Background(), event); err != nil {
			t.Fatalf("publish %s failed: %v", event.ID, err)
		}
	}
}

// recorder keeps the ids of handled events in handling order.
type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) handle(_ context.Context, event *snipebot.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, event.ID)
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ids)
}

func TestEventBusPublishRespectsFilter(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t, 8, 1, nil)
	got := &recorder{}
	_, err := bus.Subscribe(context.Background(), snipebot.SubscriptionSpec{
		Name: "guild-1-creates",
		Filter: snipebot.InterestSet{
			Kinds:     []snipebot.EventKind{snipebot.EventKindMessageCreated},
			TenantIDs: []string{"guild-1"},
		},
	}, got.handle)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	otherGuild := newTestEvent("other-guild", snipebot.EventKindMessageCreated)
	otherGuild.TenantID = "guild-2"
	publishAll(t, bus,
		otherGuild,
		newTestEvent("edit", snipebot.EventKindMessageEdited),
		newTestEvent("wanted", snipebot.EventKindMessageCreated),
	)

	eventually(t, 2*time.Second, func() bool { return len(got.snapshot()) > 0 })
	if ids := got.snapshot(); !slices.Equal(ids, []string{"wanted"}) {
		t.Fatalf("handled %v, want [wanted]", ids)
	}
}

func TestEventBusBackpressurePolicies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy snipebot.BackpressurePolicy
		// e1 is in the handler, so only one of e2 and e3 fits the lane.
		want []string
	}{
		{name: "drop newest", policy: snipebot.BackpressureDropNewest, want: []string{"e1", "e2"}},
		{name: "drop oldest", policy: snipebot.BackpressureDropOldest, want: []string{"e1", "e3"}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			drops := make(chan error, 4)
			bus := newTestBus(t, 1, 1, func(_ context.Context, _ string, err error) {
				if errors.Is(err, snipebot.ErrEventDropped) {
					drops <- err
				}
			})

			entered := make(chan struct{})
			release := make(chan struct{})
			var holdFirst sync.Once
			got := &recorder{}
			_, err := bus.Subscribe(context.Background(), snipebot.SubscriptionSpec{
				Name:         "recovery-ingest",
				Buffer:       1,
				Workers:      1,
				Backpressure: testCase.policy,
			}, func(ctx context.Context, event *snipebot.Event) error {
				holdFirst.Do(func() {
					close(entered)
					<-release
				})
				return got.handle(ctx, event)
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			publishAll(t, bus, newTestEvent("e1", snipebot.EventKindMessageCreated))
			select {
			case <-entered:
			case <-time.After(time.Second):
				t.Fatal("handler never received e1")
			}
			publishAll(t, bus,
				newTestEvent("e2", snipebot.EventKindMessageCreated),
				newTestEvent("e3", snipebot.EventKindMessageCreated),
			)
			if testCase.policy == snipebot.BackpressureDropNewest {
				select {
				case <-drops:
				case <-time.After(time.Second):
					t.Fatal("drop of e3 was never reported")
				}
			}
			close(release)

			eventually(t, 2*time.Second, func() bool { return len(got.snapshot()) == len(testCase.want) })
			if ids := got.snapshot(); !slices.Equal(ids, testCase.want) {
				t.Fatalf("handled %v, want %v", ids, testCase.want)
			}
		})
	}
}

func TestEventBusOrdersEventsWithinConversation(t *testing.T) {
	t.Parallel()

	const rounds = 20
	conversations := []string{"chan-1", "chan-2", "chan-3"}

	bus := newTestBus(t, 64, 4, nil)
	var mu sync.Mutex
	handled := map[string][]string{}
	_, err := bus.Subscribe(context.Background(), snipebot.SubscriptionSpec{
		Name:         "ordered",
		Buffer:       256,
		Workers:      4,
		Backpressure: snipebot.BackpressureBlock,
	}, func(_ context.Context, event *snipebot.Event) error {
		mu.Lock()
		defer mu.Unlock()
		handled[event.Conversation.ID] = append(handled[event.Conversation.ID], event.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	want := map[string][]string{}
	for round := range rounds {
		for _, conversation := range conversations {
			event := newTestEvent(fmt.Sprintf("%s/%02d", conversation, round), snipebot.EventKindMessageCreated)
			event.Conversation.ID = conversation
			want[conversation] = append(want[conversation], event.ID)
			publishAll(t, bus, event)
		}
	}

	eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, conversation := range conversations {
			if len(handled[conversation]) < rounds {
				return false
			}
		}
		return true
	})

	mu.Lock()
	defer mu.Unlock()
	for _, conversation := range conversations {
		if !slices.Equal(handled[conversation], want[conversation]) {
			t.Fatalf("%s handled out of order: %v", conversation, handled[conversation])
		}
	}
}

func TestEventBusBlockingPublishStopsOnContext(t *testing.T) {
	t.Parallel()

	bus := NewEventBus(1, 1, time.Second, nil)
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		_ = bus.Close(context.Background())
	})

	entered := make(chan struct{}, 1)
	_, err := bus.Subscribe(context.Background(), snipebot.SubscriptionSpec{
		Name:         "blocking",
		Buffer:       1,
		Workers:      1,
		Backpressure: snipebot.BackpressureBlock,
	}, func(context.Context, *snipebot.Event) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	publishAll(t, bus, newTestEvent("in-handler", snipebot.EventKindMessageCreated))
	<-entered
	publishAll(t, bus, newTestEvent("queued", snipebot.EventKindMessageCreated))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = bus.Publish(ctx, newTestEvent("waiting", snipebot.EventKindMessageCreated))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("publish error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestEventBusReportsHandlerPanic(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 1)
	bus := newTestBus(t, 4, 1, func(_ context.Context, _ string, err error) {
		reported <- err
	})
	_, err := bus.Subscribe(context.Background(), snipebot.SubscriptionSpec{Name: "panicky"},
		func(context.Context, *snipebot.Event) error {
			panic("snapshot index corrupted")
		},
	)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	publishAll(t, bus, newTestEvent("e1", snipebot.EventKindMessageCreated))

	select {
	case err := <-reported:
		var panicErr *PanicError
		if !errors.As(err, &panicErr) || panicErr.Value != "snapshot index corrupted" {
			t.Fatalf("reported %v, want PanicError carrying the panic value", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic was never reported")
	}
}

func TestEventBusCloseLeavesNoWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := NewEventBus(8, 4, time.Second, nil)
	for _, name := range []string{"recovery", "whitelist", "help"} {
		if _, err := bus.Subscribe(context.Background(), snipebot.SubscriptionSpec{Name: name}, ignoreEvent); err != nil {
			t.Fatalf("subscribe %s failed: %v", name, err)
		}
	}
	publishAll(t, bus, newTestEvent("e1", snipebot.EventKindMessageCreated))

	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestEventBusRejectsPublish(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		close bool
		event *snipebot.Event
	}{
		{name: "closed bus", close: true, event: newTestEvent("e1", snipebot.EventKindMessageCreated)},
		{name: "nil event"},
		{name: "invalid event", event: &snipebot.Event{ID: "no-kind"}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			bus := newTestBus(t, 8, 1, nil)
			if testCase.close {
				if err := bus.Close(context.Background()); err != nil {
					t.Fatalf("close failed: %v", err)
				}
			}
			if err := bus.Publish(context.Background(), testCase.event); err == nil {
				t.Fatal("publish succeeded, want error")
			}
		})
	}
}

func newTestEvent(id string, kind snipebot.EventKind) *snipebot.Event {
	event := &snipebot.Event{
		ID:           id,
		Kind:         kind,
		OccurredAt:   time.Now().UTC(),
		Platform:     snipebot.PlatformDiscord,
		Source:       snipebot.EventSource{Platform: snipebot.PlatformDiscord, ID: "discord-main"},
		TenantID:     "guild-1",
		Conversation: snipebot.Conversation{ID: "chan-1", Type: snipebot.ConversationTypeChannel},
		Actor:        snipebot.Actor{ID: "user-1"},
	}

	switch kind {
	case snipebot.EventKindMessageCreated:
		event.Message = &snipebot.Message{ID: "msg-1", Text: "hello"}
	case snipebot.EventKindMessageEdited:
		event.Mutation = &snipebot.Mutation{
			Type:            snipebot.MutationTypeEdit,
			TargetMessageID: "msg-1",
			After:           &snipebot.MessageSnapshot{Text: "hello again"},
		}
	case snipebot.EventKindMessageRetracted:
		event.Mutation = &snipebot.Mutation{Type: snipebot.MutationTypeRetraction, TargetMessageID: "msg-1"}
	case snipebot.EventKindCommandReceived:
		event.Message = &snipebot.Message{ID: "msg-1", Text: "!!snipe"}
		event.Command = &snipebot.CommandInvocation{
			Name:            "snipe",
			SourceEventID:   id,
			SourceEventKind: snipebot.EventKindMessageCreated,
		}
	}

	return event
}

// eventually polls condition until it holds or timeout passes.
func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	for deadline := time.Now().Add(timeout); time.Now().Before(deadline); time.Sleep(20 * time.Millisecond) {
		if condition() {
			return
		}
	}

	t.Fatal("condition not met before timeout")
}
