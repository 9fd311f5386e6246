package kernel

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"snipebot/pkg/snipebot"
)

func lookupFrom(specs ...snipebot.CommandSpec) func(string) (snipebot.CommandSpec, bool) {
	return func(name string) (snipebot.CommandSpec, bool) {
		for _, spec := range specs {
			if slices.Contains(spec.Names(), name) {
				return spec, true
			}
		}
		return snipebot.CommandSpec{}, false
	}
}

// newCommandSink wires a deriving sink over a fresh bus and returns the
// channel receiving every event the bus delivers for kinds.
func newCommandSink(
	t *testing.T,
	services snipebot.ServiceRegistry,
	kinds []snipebot.EventKind,
	specs ...snipebot.CommandSpec,
) (*commandDerivingSink, <-chan *snipebot.Event) {
	t.Helper()

	bus := newTestBus(t, 8, 1, nil)
	delivered := make(chan *snipebot.Event, 8)
	_, err := bus.Subscribe(context.Background(), snipebot.SubscriptionSpec{
		Name:   "observer",
		Filter: snipebot.InterestSet{Kinds: kinds},
	}, func(_ context.Context, event *snipebot.Event) error {
		delivered <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if services == nil {
		services = NewServiceRegistry()
	}

	return &commandDerivingSink{
		base:          bus,
		prefix:        snipebot.DefaultCommandPrefix,
		lookupCommand: lookupFrom(specs...),
		serviceLookup: services,
	}, delivered
}

var commandKinds = []snipebot.EventKind{snipebot.EventKindCommandReceived}

func expectNoEvent(t *testing.T, events <-chan *snipebot.Event) {
	t.Helper()

	select {
	case event := <-events:
		t.Fatalf("unexpected %s event %s", event.Kind, event.ID)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestCommandDerivingSinkDerivesCommandAfterSource(t *testing.T) {
	t.Parallel()

	sink, delivered := newCommandSink(t, nil, nil, snipebot.CommandSpec{Name: "whitelist", Aliases: []string{"wl"}})

	source := newSourceCreatedEvent("evt-1", "msg-1", "!!WL add 114514")
	source.Actor.Member = &snipebot.Membership{RoleIDs: []string{"r1"}}
	if err := sink.Publish(context.Background(), source); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if first := waitEvent(t, delivered); first.ID != source.ID {
		t.Fatalf("first delivered %s, want source event %s", first.ID, source.ID)
	}
	derived := waitEvent(t, delivered)
	if derived.Kind != snipebot.EventKindCommandReceived || derived.ID != "evt-1#command" {
		t.Fatalf("derived = %s %s, want command.received evt-1#command", derived.Kind, derived.ID)
	}

	want := snipebot.CommandInvocation{
		Name:            "whitelist",
		Invoked:         "wl",
		Value:           "add 114514",
		SourceEventID:   "evt-1",
		SourceEventKind: snipebot.EventKindMessageCreated,
	}
	got := *derived.Command
	if got.Name != want.Name || got.Invoked != want.Invoked || got.Value != want.Value ||
		got.SourceEventID != want.SourceEventID || got.SourceEventKind != want.SourceEventKind {
		t.Fatalf("command = %+v, want %+v", got, want)
	}
	if !slices.Equal(got.Args, []string{"add", "114514"}) {
		t.Fatalf("args = %v, want [add 114514]", got.Args)
	}

	// Routing and author context travel with the derived event.
	if derived.TenantID != source.TenantID || derived.Source != source.Source || derived.Conversation != source.Conversation {
		t.Fatalf("derived routing = %s %+v %+v, want the source routing", derived.TenantID, derived.Source, derived.Conversation)
	}
	if derived.Actor.Member == nil || !slices.Equal(derived.Actor.Member.RoleIDs, []string{"r1"}) {
		t.Fatalf("derived membership = %+v, want roles [r1]", derived.Actor.Member)
	}
}

func TestCommandDerivingSinkSkipsNonCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event *snipebot.Event
	}{
		{name: "edited into a command", event: func() *snipebot.Event {
			edited := newTestEvent("edit", snipebot.EventKindMessageEdited)
			edited.Mutation.After.Text = "!!snipe"
			return edited
		}()},
		{name: "unregistered command", event: newSourceCreatedEvent("raw", "msg-3", "!!raw")},
		{name: "short prefix", event: newSourceCreatedEvent("short", "msg-3", "!snipe")},
		{name: "bare prefix", event: newSourceCreatedEvent("bare", "msg-3", "!!")},
		{name: "plain text", event: newSourceCreatedEvent("plain", "msg-3", "snipe")},
		{name: "prefix mid sentence", event: newSourceCreatedEvent("mid", "msg-3", "try !!snipe")},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			sink, commands := newCommandSink(t, nil, commandKinds, snipebot.CommandSpec{Name: "snipe"})
			if err := sink.Publish(context.Background(), testCase.event); err != nil {
				t.Fatalf("publish failed: %v", err)
			}
			expectNoEvent(t, commands)
		})
	}
}

func TestCommandDerivingSinkRepliesUsageOnBadArity(t *testing.T) {
	t.Parallel()

	dispatcher := &commandReplyCaptureDispatcher{}
	services := NewServiceRegistry()
	if err := services.Register(snipebot.ServiceSinkDispatcher, dispatcher); err != nil {
		t.Fatalf("register dispatcher failed: %v", err)
	}
	sink, commands := newCommandSink(t, services, commandKinds, snipebot.CommandSpec{
		Name:    "whitelist",
		Usage:   "add|remove|list [role]",
		MinArgs: 1,
	})

	if err := sink.Publish(context.Background(), newSourceCreatedEvent("evt-4", "msg-4", "!!whitelist")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	requests := dispatcher.sent()
	if len(requests) != 1 {
		t.Fatalf("usage replies = %d, want 1", len(requests))
	}
	reply := requests[0]
	if !strings.Contains(reply.Text, "!!whitelist add|remove|list [role]") || reply.ReplyToMessageID != "msg-4" {
		t.Fatalf("usage reply = %q to %q, want usage line replying to msg-4", reply.Text, reply.ReplyToMessageID)
	}
	expectNoEvent(t, commands)
}

func TestRegisterModuleRejectsCommandOwnedByOtherModule(t *testing.T) {
	t.Parallel()

	k := New()
	if err := k.RegisterModule(context.Background(), &stubModule{
		name: "recovery",
		spec: snipebot.ModuleSpec{Commands: []snipebot.CommandSpec{{Name: "snipe"}}},
	}); err != nil {
		t.Fatalf("register recovery failed: %v", err)
	}

	err := k.RegisterModule(context.Background(), &stubModule{
		name: "imitator",
		spec: snipebot.ModuleSpec{Commands: []snipebot.CommandSpec{{Name: "sniper", Aliases: []string{"snipe"}}}},
	})
	if err == nil || !strings.Contains(err.Error(), "already registered by module recovery") {
		t.Fatalf("register imitator error = %v, want ownership conflict", err)
	}
	if _, found := k.lookupCommand("sniper"); found {
		t.Fatal("failed registration left sniper routed")
	}
}

func waitEvent(t *testing.T, events <-chan *snipebot.Event) *snipebot.Event {
	t.Helper()

	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func newSourceCreatedEvent(id string, messageID string, text string) *snipebot.Event {
	event := newTestEvent(id, snipebot.EventKindMessageCreated)
	event.Actor = snipebot.Actor{ID: "actor-1", DisplayName: "Actor"}
	event.Message = &snipebot.Message{ID: messageID, Text: text}

	return event
}

// commandReplyCaptureDispatcher records outbound requests instead of sending.
type commandReplyCaptureDispatcher struct {
	mu       sync.Mutex
	requests []snipebot.SendMessageRequest
}

func (d *commandReplyCaptureDispatcher) SendMessage(
	_ context.Context,
	request snipebot.SendMessageRequest,
) (*snipebot.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, request)

	return &snipebot.OutboundMessage{ID: "out-1", Target: request.Target}, nil
}

func (d *commandReplyCaptureDispatcher) sent() []snipebot.SendMessageRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.requests)
}
