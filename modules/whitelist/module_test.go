package whitelist

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"snipebot/internal/allowlist"
	"snipebot/pkg/snipebot"
)

func TestModuleHandleCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		platform  snipebot.Platform
		actorID   string
		seed      []string
		steps     [][]string
		wantTexts []string
		wantRoles []string
	}{
		{
			name:      "admin adds mention and bare id",
			platform:  snipebot.PlatformDiscord,
			actorID:   "admin-1",
			steps:     [][]string{{"add", "<@&111>"}, {"add", "222"}, {"add", "111"}},
			wantTexts: []string{"Rôle <@&111> ajouté à la whitelist.", "Rôle <@&222> ajouté à la whitelist.", "Le rôle <@&111> est déjà dans la whitelist."},
			wantRoles: []string{"111", "222"},
		},
		{
			name:      "admin removes role",
			platform:  snipebot.PlatformDiscord,
			actorID:   "admin-1",
			seed:      []string{"111"},
			steps:     [][]string{{"remove", "111"}, {"remove", "111"}},
			wantTexts: []string{"Rôle <@&111> retiré de la whitelist.", "Le rôle <@&111> n'est pas dans la whitelist."},
			wantRoles: []string{},
		},
		{
			name:      "non admin cannot edit",
			platform:  snipebot.PlatformDiscord,
			actorID:   "user-1",
			steps:     [][]string{{"add", "111"}},
			wantTexts: []string{deniedReply},
			wantRoles: []string{},
		},
		{
			name:      "anyone can list",
			platform:  snipebot.PlatformTelegram,
			actorID:   "user-1",
			seed:      []string{"admin", "creator"},
			steps:     [][]string{{"list"}},
			wantTexts: []string{"Rôles autorisés :\n- admin\n- creator"},
			wantRoles: []string{"admin", "creator"},
		},
		{
			name:      "empty list",
			platform:  snipebot.PlatformDiscord,
			actorID:   "user-1",
			steps:     [][]string{{"LIST"}},
			wantTexts: []string{emptyListReply},
			wantRoles: []string{},
		},
		{
			name:      "invalid usage",
			platform:  snipebot.PlatformDiscord,
			actorID:   "admin-1",
			steps:     [][]string{{"add"}, {"purge", "1"}, {"add", "<@123>"}},
			wantTexts: []string{"Utilisation : !!whitelist add|remove <rôle> | list", "Utilisation : !!whitelist add|remove <rôle> | list", "Rôle invalide : <@123>"},
			wantRoles: []string{},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			store, err := allowlist.NewFileStore(filepath.Join(t.TempDir(), "whitelist.json"))
			if err != nil {
				t.Fatalf("new file store failed: %v", err)
			}
			for _, roleID := range testCase.seed {
				if _, err := store.Add(context.Background(), roleID); err != nil {
					t.Fatalf("seed failed: %v", err)
				}
			}

			module, dispatcher := newTestModule(t, store)
			for _, args := range testCase.steps {
				event := commandEvent(testCase.platform, testCase.actorID, args...)
				if err := module.handleCommand(context.Background(), event); err != nil {
					t.Fatalf("handle command %v failed: %v", args, err)
				}
			}

			texts := dispatcher.texts()
			if len(texts) != len(testCase.wantTexts) {
				t.Fatalf("replies = %q, want %q", texts, testCase.wantTexts)
			}
			for idx := range texts {
				if texts[idx] != testCase.wantTexts[idx] {
					t.Fatalf("reply[%d] = %q, want %q", idx, texts[idx], testCase.wantTexts[idx])
				}
			}

			roles, err := store.AllowedRoleIDs(context.Background())
			if err != nil {
				t.Fatalf("list roles failed: %v", err)
			}
			if len(roles) != len(testCase.wantRoles) {
				t.Fatalf("roles = %v, want %v", roles, testCase.wantRoles)
			}
			for idx := range roles {
				if roles[idx] != testCase.wantRoles[idx] {
					t.Fatalf("roles = %v, want %v", roles, testCase.wantRoles)
				}
			}
		})
	}
}

func TestModuleStoreFailure(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("disk full")
	module, dispatcher := newTestModule(t, &failingStore{err: storeErr})

	err := module.handleCommand(context.Background(), commandEvent(snipebot.PlatformDiscord, "admin-1", "add", "1"))
	if !errors.Is(err, storeErr) {
		t.Fatalf("error = %v, want %v", err, storeErr)
	}
	if texts := dispatcher.texts(); len(texts) != 1 || texts[0] != storeErrorReply {
		t.Fatalf("replies = %q", texts)
	}
}

func TestModuleSpec(t *testing.T) {
	t.Parallel()

	module, _ := newTestModule(t, &failingStore{})
	spec := module.Spec()
	if len(spec.Commands) != 1 || spec.Commands[0].MinArgs != 1 || spec.Commands[0].MaxArgs != 2 {
		t.Fatalf("commands = %+v", spec.Commands)
	}
	if err := spec.Commands[0].Validate(); err != nil {
		t.Fatalf("command spec invalid: %v", err)
	}
	interest := spec.Handlers[0].Capability.Interest
	if len(interest.TenantIDs) != 1 || interest.TenantIDs[0] != "guild-1" || !interest.IgnoreBots {
		t.Fatalf("interest = %+v", interest)
	}
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, &failingStore{}); err == nil {
		t.Fatal("expected missing server error")
	}
	if _, err := New(Config{ServerID: "guild-1"}, nil); err == nil {
		t.Fatal("expected nil store error")
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		want string
		ok   bool
	}{
		"123":      {want: "123", ok: true},
		"<@&456>":  {want: "456", ok: true},
		"admin":    {want: "admin", ok: true},
		"<@789>":   {},
		"a:b":      {},
		"<@&abc>":  {},
		"  42  ":   {want: "42", ok: true},
		"<#chan1>": {},
	}
	for raw, want := range tests {
		got, ok := parseRole(raw)
		if got != want.want || ok != want.ok {
			t.Fatalf("parseRole(%q) = %q/%v, want %q/%v", raw, got, ok, want.want, want.ok)
		}
	}
}

func newTestModule(t *testing.T, store allowlist.Store) (*Module, *captureDispatcher) {
	t.Helper()

	module, err := New(Config{
		ServerID:     "guild-1",
		AdminUserIDs: []string{"admin-1"},
		Prefix:       "!!",
		Cooldown:     time.Millisecond,
		Burst:        10,
	}, store)
	if err != nil {
		t.Fatalf("new module failed: %v", err)
	}
	dispatcher := &captureDispatcher{}
	module.dispatcher = dispatcher

	return module, dispatcher
}

func commandEvent(platform snipebot.Platform, actorID string, args ...string) *snipebot.Event {
	return &snipebot.Event{
		ID:           "evt#command",
		Kind:         snipebot.EventKindCommandReceived,
		OccurredAt:   time.Unix(1, 0).UTC(),
		Platform:     platform,
		Source:       snipebot.EventSource{Platform: platform, ID: string(platform)},
		TenantID:     "guild-1",
		Conversation: snipebot.Conversation{ID: "chan-1", Type: snipebot.ConversationTypeChannel},
		Actor:        snipebot.Actor{ID: actorID},
		Message:      &snipebot.Message{ID: "msg-1"},
		Command: &snipebot.CommandInvocation{
			Name:            whitelistCommandName,
			Args:            args,
			SourceEventID:   "evt",
			SourceEventKind: snipebot.EventKindMessageCreated,
		},
	}
}

type captureDispatcher struct {
	mu       sync.Mutex
	requests []snipebot.SendMessageRequest
}

func (d *captureDispatcher) SendMessage(
	_ context.Context,
	request snipebot.SendMessageRequest,
) (*snipebot.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, request)

	return &snipebot.OutboundMessage{ID: "sent"}, nil
}

func (d *captureDispatcher) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	texts := make([]string, 0, len(d.requests))
	for _, request := range d.requests {
		texts = append(texts, request.Text)
	}

	return texts
}

type failingStore struct {
	err error
}

func (s *failingStore) AllowedRoleIDs(context.Context) ([]string, error) { return nil, s.err }
func (s *failingStore) Add(context.Context, string) (bool, error)        { return false, s.err }
func (s *failingStore) Remove(context.Context, string) (bool, error)     { return false, s.err }
func (s *failingStore) Close() error                                     { return nil }
