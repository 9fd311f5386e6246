// Package snapshot keeps a bounded memory of recently observed messages and
// rebuilds the best available copy of a message once it has been deleted.
//
// Two structures back the store: a small per-channel ring of the latest
// messages and a larger identity cache keyed by (channel, message). Deletion
// notifications frequently arrive without attachments, so reconstruction walks
// a fixed fallback chain over both before settling for the notification itself.
package snapshot

import (
	"slices"
	"sync"
	"time"

	"snipebot/internal/linkextract"
	"snipebot/internal/ringbuf"
)

const (
	// DefaultDepth is the per-channel ring depth.
	DefaultDepth = 5
	// DefaultCapacity is the identity cache capacity.
	DefaultCapacity = 500
)

// Author identifies who posted an observed message.
type Author struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// ObservedMessage is one message as seen when it was posted.
//
// Every field is always present: an absent text is "" and absent attachments
// are an empty slice.
type ObservedMessage struct {
	ID          string
	ChannelID   string
	Author      Author
	Text        string
	Attachments []string
	CreatedAt   time.Time
}

// IsZero reports whether m carries no information at all.
func (m ObservedMessage) IsZero() bool {
	return m.ID == "" && m.Author == (Author{}) && m.Text == "" && len(m.Attachments) == 0
}

// SnipeRecord is the reconstructed copy of the latest deleted message of a channel.
type SnipeRecord struct {
	MessageID   string
	ChannelID   string
	Author      Author
	Content     string
	Attachments []string
	CapturedAt  time.Time
}

// Resolution names the fallback step that produced a SnipeRecord.
type Resolution string

const (
	// ResolutionIdentity means the identity cache held the message.
	ResolutionIdentity Resolution = "identity"
	// ResolutionRecentID means the channel ring held the message.
	ResolutionRecentID Resolution = "recent_id"
	// ResolutionHintMedia means the deletion notification still carried attachments.
	ResolutionHintMedia Resolution = "hint_media"
	// ResolutionAuthorMedia means the newest ring entry with media by the same author was used.
	ResolutionAuthorMedia Resolution = "author_media"
	// ResolutionHint means only the deletion notification was available.
	ResolutionHint Resolution = "hint"
)

// Stats is a point-in-time view of store occupancy.
type Stats struct {
	IdentityEntries int
	Channels        int
	Snipes          int
}

// Option mutates store configuration.
type Option func(*Store)

// WithDepth sets the per-channel ring depth.
func WithDepth(depth int) Option {
	return func(store *Store) {
		if depth > 0 {
			store.depth = depth
		}
	}
}

// WithCapacity sets the identity cache capacity.
func WithCapacity(capacity int) Option {
	return func(store *Store) {
		if capacity > 0 {
			store.capacity = capacity
		}
	}
}

// WithClock replaces the wall clock used to stamp records.
func WithClock(clock func() time.Time) Option {
	return func(store *Store) {
		if clock != nil {
			store.clock = clock
		}
	}
}

// WithLocation sets the display location of capture timestamps.
func WithLocation(location *time.Location) Option {
	return func(store *Store) {
		if location != nil {
			store.location = location
		}
	}
}

// WithRetention ignores and prunes messages created longer than window ago.
// A zero window keeps messages until they are evicted by size.
func WithRetention(window time.Duration) Option {
	return func(store *Store) {
		if window > 0 {
			store.retention = window
		}
	}
}

// Store is the recent-message recovery cache. It is safe for concurrent use.
type Store struct {
	depth     int
	capacity  int
	retention time.Duration
	clock     func() time.Time
	location  *time.Location

	identity *identityCache

	mu       sync.Mutex
	channels map[string]*channelSlot
}

type channelSlot struct {
	mu     sync.Mutex
	recent *ringbuf.Ring[ObservedMessage]
	snipe  *SnipeRecord
}

// New creates an empty store.
func New(options ...Option) *Store {
	store := &Store{
		depth:    DefaultDepth,
		capacity: DefaultCapacity,
		clock:    time.Now,
		location: time.Local,
		channels: make(map[string]*channelSlot),
	}
	for _, option := range options {
		option(store)
	}
	store.identity = newIdentityCache(store.capacity)

	return store
}

// Ingest records one observed message. Re-ingesting a known message replaces
// the stored copy and counts as a fresh insertion.
func (s *Store) Ingest(message ObservedMessage) {
	message = cloneMessage(message)

	s.identity.put(message)
	if s.retention > 0 {
		s.identity.pruneWhile(s.isStale)
	}

	slot := s.slot(message.ChannelID, true)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	if s.retention > 0 {
		slot.recent.Retain(func(entry ObservedMessage) bool { return !s.isStale(entry) })
	}
	slot.recent.Push(message)
}

// Revise replaces the content of an already observed message while keeping
// its position in both the identity cache and the channel ring. It reports
// whether the message was known.
func (s *Store) Revise(message ObservedMessage) bool {
	message = cloneMessage(message)
	revised := s.identity.replace(message)

	slot := s.slot(message.ChannelID, false)
	if slot == nil {
		return revised
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	replaced := slot.recent.ReplaceFunc(
		func(entry ObservedMessage) bool { return entry.ID == message.ID },
		func(ObservedMessage) ObservedMessage { return cloneMessage(message) },
	)

	return revised || replaced > 0
}

// Lookup returns the stored copy of one message from the identity cache or,
// failing that, the channel ring.
func (s *Store) Lookup(channelID string, messageID string) (ObservedMessage, bool) {
	if message, ok := s.identity.get(channelID, messageID); ok && !s.isStale(message) {
		return cloneMessage(message), true
	}

	slot := s.slot(channelID, false)
	if slot == nil {
		return ObservedMessage{}, false
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	message, ok := s.recentByID(slot, messageID)
	if !ok {
		return ObservedMessage{}, false
	}

	return cloneMessage(message), true
}

// Reconstruct rebuilds a deleted message of channelID from hint, the partial
// data carried by the deletion notification, and stores the result as the
// channel's latest snipe.
//
// The source is chosen in this order, first match wins: identity cache, ring
// entry with the same id, hint carrying attachments, newest ring entry by the
// same author carrying attachments, the hint itself. When hint is empty no
// record is produced and ok is false.
func (s *Store) Reconstruct(channelID string, hint ObservedMessage) (record SnipeRecord, resolution Resolution, ok bool) {
	hint = cloneMessage(hint)
	if hint.ChannelID == "" {
		hint.ChannelID = channelID
	}

	var (
		source  ObservedMessage
		found   bool
		cached  ObservedMessage
		inCache bool
	)
	if hint.ID != "" {
		cached, inCache = s.identity.get(channelID, hint.ID)
		inCache = inCache && !s.isStale(cached)
	}

	slot := s.slot(channelID, !hint.IsZero())
	if slot == nil {
		return SnipeRecord{}, "", false
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	switch {
	case inCache:
		source, resolution, found = cached, ResolutionIdentity, true
	default:
		if recent, hit := s.recentByID(slot, hint.ID); hint.ID != "" && hit {
			source, resolution, found = recent, ResolutionRecentID, true
		} else if len(hint.Attachments) > 0 {
			source, resolution, found = hint, ResolutionHintMedia, true
		} else if recent, hit := s.recentMediaByAuthor(slot, hint.Author.ID); hint.Author.ID != "" && hit {
			source, resolution, found = recent, ResolutionAuthorMedia, true
		} else if !hint.IsZero() {
			source, resolution, found = hint, ResolutionHint, true
		}
	}
	if !found {
		return SnipeRecord{}, "", false
	}

	record = SnipeRecord{
		MessageID:   source.ID,
		ChannelID:   channelID,
		Author:      source.Author,
		Content:     source.Text,
		Attachments: mergeAttachments(source),
		CapturedAt:  s.clock().In(s.location),
	}
	if record.Author == (Author{}) {
		record.Author = hint.Author
	}
	stored := cloneRecord(record)
	slot.snipe = &stored

	return record, resolution, true
}

// Snipe returns a copy of the latest reconstructed deletion of channelID.
func (s *Store) Snipe(channelID string) (SnipeRecord, bool) {
	slot := s.slot(channelID, false)
	if slot == nil {
		return SnipeRecord{}, false
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.snipe == nil {
		return SnipeRecord{}, false
	}

	return cloneRecord(*slot.snipe), true
}

// Recent returns a copy of the channel ring, oldest first.
func (s *Store) Recent(channelID string) []ObservedMessage {
	slot := s.slot(channelID, false)
	if slot == nil {
		return nil
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	recent := slot.recent.Snapshot()
	for idx := range recent {
		recent[idx] = cloneMessage(recent[idx])
	}

	return recent
}

// Stats reports current store occupancy.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	slots := make([]*channelSlot, 0, len(s.channels))
	for _, slot := range s.channels {
		slots = append(slots, slot)
	}
	s.mu.Unlock()

	stats := Stats{
		IdentityEntries: s.identity.len(),
		Channels:        len(slots),
	}
	for _, slot := range slots {
		slot.mu.Lock()
		if slot.snipe != nil {
			stats.Snipes++
		}
		slot.mu.Unlock()
	}

	return stats
}

func (s *Store) slot(channelID string, create bool) *channelSlot {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, exists := s.channels[channelID]
	if !exists && create {
		slot = &channelSlot{recent: ringbuf.New[ObservedMessage](s.depth)}
		s.channels[channelID] = slot
	}

	return slot
}

// recentByID scans the ring newest first. The caller holds slot.mu.
func (s *Store) recentByID(slot *channelSlot, messageID string) (ObservedMessage, bool) {
	var (
		match ObservedMessage
		found bool
	)
	slot.recent.Reverse(func(entry ObservedMessage) bool {
		if entry.ID == messageID && !s.isStale(entry) {
			match, found = entry, true
			return false
		}
		return true
	})

	return match, found
}

// recentMediaByAuthor finds the newest ring entry by authorID with at least
// one native attachment. The caller holds slot.mu.
func (s *Store) recentMediaByAuthor(slot *channelSlot, authorID string) (ObservedMessage, bool) {
	var (
		match ObservedMessage
		found bool
	)
	slot.recent.Reverse(func(entry ObservedMessage) bool {
		if entry.Author.ID == authorID && len(entry.Attachments) > 0 && !s.isStale(entry) {
			match, found = entry, true
			return false
		}
		return true
	})

	return match, found
}

func (s *Store) isStale(message ObservedMessage) bool {
	if s.retention <= 0 || message.CreatedAt.IsZero() {
		return false
	}

	return s.clock().Sub(message.CreatedAt) > s.retention
}

func mergeAttachments(source ObservedMessage) []string {
	inline := linkextract.ExtractMedia(source.Text)
	merged := make([]string, 0, len(source.Attachments)+len(inline))
	merged = append(merged, source.Attachments...)

	return append(merged, inline...)
}

// cloneMessage copies message and replaces nil attachments with an empty slice.
func cloneMessage(message ObservedMessage) ObservedMessage {
	message.Attachments = slices.Clone(message.Attachments)
	if message.Attachments == nil {
		message.Attachments = []string{}
	}

	return message
}

func cloneRecord(record SnipeRecord) SnipeRecord {
	record.Attachments = slices.Clone(record.Attachments)
	if record.Attachments == nil {
		record.Attachments = []string{}
	}

	return record
}
