package snapshot

import (
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, time.March, 9, 21, 45, 0, 0, time.UTC)

func newTestStore(options ...Option) *Store {
	base := []Option{WithClock(func() time.Time { return fixedNow })}

	return New(append(base, options...)...)
}

func observed(id, channel, author, text string, attachments ...string) ObservedMessage {
	return ObservedMessage{
		ID:          id,
		ChannelID:   channel,
		Author:      Author{ID: author, DisplayName: "user-" + author},
		Text:        text,
		Attachments: attachments,
		CreatedAt:   fixedNow.Add(-time.Minute),
	}
}

func TestStoreReconstructResolutionOrder(t *testing.T) {
	tests := []struct {
		name            string
		options         []Option
		ingest          []ObservedMessage
		hint            ObservedMessage
		wantOK          bool
		wantResolution  Resolution
		wantContent     string
		wantAttachments []string
	}{
		{
			name:            "identity hit recovers stripped attachments",
			ingest:          []ObservedMessage{observed("1", "C", "a", "hello", "https://cdn/img.png")},
			hint:            observed("1", "C", "a", "hello"),
			wantOK:          true,
			wantResolution:  ResolutionIdentity,
			wantContent:     "hello",
			wantAttachments: []string{"https://cdn/img.png"},
		},
		{
			name: "identity hit wins over ring contents",
			ingest: []ObservedMessage{
				observed("1", "C", "a", "original", "https://cdn/a.png"),
				observed("2", "C", "a", "later", "https://cdn/b.png"),
			},
			hint:            observed("1", "C", "a", "", "https://cdn/hint.png"),
			wantOK:          true,
			wantResolution:  ResolutionIdentity,
			wantContent:     "original",
			wantAttachments: []string{"https://cdn/a.png"},
		},
		{
			name: "ring id match beats author media",
			options: []Option{
				WithCapacity(1),
			},
			ingest: []ObservedMessage{
				observed("2", "C", "a", "", "https://cdn/vid.mp4"),
				observed("3", "C", "a", "gone"),
				observed("9", "other", "z", "evicts 3 from identity"),
			},
			hint:            observed("3", "C", "a", ""),
			wantOK:          true,
			wantResolution:  ResolutionRecentID,
			wantContent:     "gone",
			wantAttachments: []string{},
		},
		{
			name:            "hint with media used directly",
			ingest:          []ObservedMessage{observed("2", "C", "a", "", "https://cdn/old.png")},
			hint:            observed("7", "C", "a", "fresh", "https://cdn/hint.gif"),
			wantOK:          true,
			wantResolution:  ResolutionHintMedia,
			wantContent:     "fresh",
			wantAttachments: []string{"https://cdn/hint.gif"},
		},
		{
			name: "newest author media fallback",
			ingest: []ObservedMessage{
				observed("2", "C", "a", "first", "https://cdn/one.png"),
				observed("3", "C", "a", "second", "https://cdn/two.png"),
				observed("4", "C", "b", "someone else", "https://cdn/three.png"),
				observed("5", "C", "a", "text only"),
			},
			hint:            observed("7", "C", "a", ""),
			wantOK:          true,
			wantResolution:  ResolutionAuthorMedia,
			wantContent:     "second",
			wantAttachments: []string{"https://cdn/two.png"},
		},
		{
			name:            "degraded hint fallback",
			ingest:          []ObservedMessage{observed("2", "C", "b", "", "https://cdn/one.png")},
			hint:            observed("7", "C", "a", "lost words"),
			wantOK:          true,
			wantResolution:  ResolutionHint,
			wantContent:     "lost words",
			wantAttachments: []string{},
		},
		{
			name:            "inline links appended after native attachments",
			ingest:          []ObservedMessage{observed("1", "C", "a", "lol https://tenor.com/view/cat-dance-123456", "https://cdn/a.png")},
			hint:            observed("1", "C", "a", ""),
			wantOK:          true,
			wantResolution:  ResolutionIdentity,
			wantContent:     "lol https://tenor.com/view/cat-dance-123456",
			wantAttachments: []string{"https://cdn/a.png", "https://media.tenor.com/123456.gif"},
		},
		{
			name:   "empty hint without history",
			hint:   ObservedMessage{},
			wantOK: false,
		},
		{
			name:   "empty hint with history",
			ingest: []ObservedMessage{observed("1", "C", "a", "x", "https://cdn/a.png")},
			hint:   ObservedMessage{},
			wantOK: false,
		},
		{
			name: "identity is scoped by channel",
			ingest: []ObservedMessage{
				observed("1", "other", "a", "wrong channel", "https://cdn/a.png"),
			},
			hint:            observed("1", "C", "b", "right channel"),
			wantOK:          true,
			wantResolution:  ResolutionHint,
			wantContent:     "right channel",
			wantAttachments: []string{},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			store := newTestStore(testCase.options...)
			for _, message := range testCase.ingest {
				store.Ingest(message)
			}

			record, resolution, ok := store.Reconstruct("C", testCase.hint)
			if ok != testCase.wantOK {
				t.Fatalf("ok = %v, want %v", ok, testCase.wantOK)
			}
			if !ok {
				if _, exists := store.Snipe("C"); exists {
					t.Fatal("expected no snipe record")
				}
				return
			}
			if resolution != testCase.wantResolution {
				t.Fatalf("resolution = %q, want %q", resolution, testCase.wantResolution)
			}
			if record.Content != testCase.wantContent {
				t.Fatalf("content = %q, want %q", record.Content, testCase.wantContent)
			}
			if !slices.Equal(record.Attachments, testCase.wantAttachments) {
				t.Fatalf("attachments = %v, want %v", record.Attachments, testCase.wantAttachments)
			}

			stored, exists := store.Snipe("C")
			if !exists {
				t.Fatal("expected stored snipe record")
			}
			if stored.Content != record.Content || !slices.Equal(stored.Attachments, record.Attachments) {
				t.Fatalf("stored record %+v differs from returned %+v", stored, record)
			}
		})
	}
}

func TestStoreReconstructStampsDisplayLocation(t *testing.T) {
	t.Parallel()

	paris := time.FixedZone("CET", 3600)
	store := newTestStore(WithLocation(paris))
	store.Ingest(observed("1", "C", "a", "hi"))

	record, _, ok := store.Reconstruct("C", ObservedMessage{ID: "1"})
	if !ok {
		t.Fatal("expected record")
	}
	if record.CapturedAt.Location() != paris {
		t.Fatalf("location = %v, want %v", record.CapturedAt.Location(), paris)
	}
	if got := record.CapturedAt.Format("15:04"); got != "22:45" {
		t.Fatalf("captured at = %s, want 22:45", got)
	}
	if record.Author.DisplayName != "user-a" {
		t.Fatalf("author = %+v, want user-a", record.Author)
	}
}

func TestStoreReconstructOverwritesRecord(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	store.Ingest(observed("1", "C", "a", "first"))
	store.Ingest(observed("2", "C", "a", "second"))

	store.Reconstruct("C", ObservedMessage{ID: "1"})
	store.Reconstruct("C", ObservedMessage{ID: "2"})

	record, ok := store.Snipe("C")
	if !ok || record.Content != "second" {
		t.Fatalf("snipe = %+v, %v, want second", record, ok)
	}
	if _, ok := store.Snipe("other"); ok {
		t.Fatal("expected no snipe in untouched channel")
	}
}

func TestStoreSnipeReturnsCopy(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	store.Ingest(observed("1", "C", "a", "", "https://cdn/a.png"))
	store.Reconstruct("C", ObservedMessage{ID: "1"})

	first, _ := store.Snipe("C")
	first.Attachments[0] = "mutated"

	second, _ := store.Snipe("C")
	if second.Attachments[0] != "https://cdn/a.png" {
		t.Fatalf("stored record mutated through copy: %v", second.Attachments)
	}
}

func TestStoreRingKeepsNewestDepth(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	for idx := 1; idx <= 12; idx++ {
		store.Ingest(observed(fmt.Sprint(idx), "C", "a", "m"))
	}

	recent := store.Recent("C")
	ids := make([]string, 0, len(recent))
	for _, message := range recent {
		ids = append(ids, message.ID)
	}
	if want := []string{"8", "9", "10", "11", "12"}; !slices.Equal(ids, want) {
		t.Fatalf("recent ids = %v, want %v", ids, want)
	}
}

func TestStoreIdentityEvictsOldestInserted(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	for idx := range 510 {
		store.Ingest(observed(fmt.Sprint(idx), fmt.Sprint("chan-", idx%7), "a", "m"))
	}
	// Lookups must not promote an entry.
	store.Lookup("chan-3", "10")
	store.Ingest(observed("510", "chan-0", "a", "m"))

	keys := store.identity.keys()
	if len(keys) != DefaultCapacity {
		t.Fatalf("identity size = %d, want %d", len(keys), DefaultCapacity)
	}
	if keys[0].messageID != "11" {
		t.Fatalf("oldest identity key = %s, want 11", keys[0].messageID)
	}
	if keys[len(keys)-1].messageID != "510" {
		t.Fatalf("newest identity key = %s, want 510", keys[len(keys)-1].messageID)
	}
}

func TestStoreReingestCountsAsFreshInsertion(t *testing.T) {
	t.Parallel()

	store := newTestStore(WithCapacity(3))
	store.Ingest(observed("1", "C", "a", "v1"))
	store.Ingest(observed("2", "C", "a", "m"))
	store.Ingest(observed("3", "C", "a", "m"))
	store.Ingest(observed("1", "C", "a", "v2"))
	store.Ingest(observed("4", "C", "a", "m"))

	keys := store.identity.keys()
	got := make([]string, 0, len(keys))
	for _, key := range keys {
		got = append(got, key.messageID)
	}
	if want := []string{"3", "1", "4"}; !slices.Equal(got, want) {
		t.Fatalf("identity order = %v, want %v", got, want)
	}

	message, ok := store.Lookup("C", "1")
	if !ok || message.Text != "v2" {
		t.Fatalf("lookup = %+v, %v, want v2", message, ok)
	}
}

func TestStoreReviseKeepsPosition(t *testing.T) {
	t.Parallel()

	store := newTestStore(WithCapacity(2))
	store.Ingest(observed("1", "C", "a", "before"))
	store.Ingest(observed("2", "C", "a", "m"))

	if !store.Revise(observed("1", "C", "a", "after")) {
		t.Fatal("expected known message to be revised")
	}
	if store.Revise(observed("99", "C", "a", "unknown")) {
		t.Fatal("expected unknown message not to be revised")
	}

	store.Ingest(observed("3", "C", "a", "m"))
	if _, ok := store.identity.get("C", "1"); ok {
		t.Fatal("expected revised entry to keep its insertion position and be evicted")
	}

	message, ok := store.Lookup("C", "1")
	if !ok || message.Text != "after" {
		t.Fatalf("ring lookup = %+v, %v, want after", message, ok)
	}
}

func TestStoreRetention(t *testing.T) {
	t.Parallel()

	store := newTestStore(WithRetention(time.Hour))

	old := observed("1", "C", "a", "old", "https://cdn/a.png")
	old.CreatedAt = fixedNow.Add(-2 * time.Hour)
	store.Ingest(old)

	record, resolution, ok := store.Reconstruct("C", ObservedMessage{ID: "1", Author: Author{ID: "a"}})
	if !ok || resolution != ResolutionHint {
		t.Fatalf("resolution = %q, %v, want hint fallback for stale entry", resolution, ok)
	}
	if record.Content != "" {
		t.Fatalf("content = %q, want empty", record.Content)
	}

	store.Ingest(observed("2", "C", "a", "fresh"))
	if stats := store.Stats(); stats.IdentityEntries != 1 {
		t.Fatalf("identity entries = %d, want 1 after pruning", stats.IdentityEntries)
	}
	if recent := store.Recent("C"); len(recent) != 1 || recent[0].ID != "2" {
		t.Fatalf("recent = %+v, want only message 2", recent)
	}
}

func TestStoreStats(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	store.Ingest(observed("1", "C", "a", "x"))
	store.Ingest(observed("2", "D", "a", "y"))
	store.Reconstruct("C", ObservedMessage{ID: "1"})

	stats := store.Stats()
	if stats.IdentityEntries != 2 || stats.Channels != 2 || stats.Snipes != 1 {
		t.Fatalf("stats = %+v, want 2 entries 2 channels 1 snipe", stats)
	}
}

func TestStoreConcurrentChannels(t *testing.T) {
	t.Parallel()

	store := newTestStore()
	var wg sync.WaitGroup
	for worker := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			channel := fmt.Sprint("chan-", worker)
			for idx := range 50 {
				id := fmt.Sprint(worker, "-", idx)
				store.Ingest(observed(id, channel, "a", id))
				store.Reconstruct(channel, ObservedMessage{ID: id})
				store.Snipe(channel)
			}
		}()
	}
	wg.Wait()

	for worker := range 8 {
		record, ok := store.Snipe(fmt.Sprint("chan-", worker))
		if !ok || record.Content != fmt.Sprint(worker, "-49") {
			t.Fatalf("worker %d snipe = %+v, %v", worker, record, ok)
		}
	}
}
