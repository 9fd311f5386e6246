// Package editledger remembers the latest text edit of every channel.
package editledger

import (
	"sync"
	"time"

	"snipebot/internal/snapshot"
)

// Record is one before/after pair.
type Record struct {
	MessageID  string
	Author     snapshot.Author
	Before     string
	After      string
	CapturedAt time.Time
}

// Option mutates ledger configuration.
type Option func(*Ledger)

// WithClock replaces the wall clock used to stamp records.
func WithClock(clock func() time.Time) Option {
	return func(ledger *Ledger) {
		if clock != nil {
			ledger.clock = clock
		}
	}
}

// WithLocation sets the display location of capture timestamps.
func WithLocation(location *time.Location) Option {
	return func(ledger *Ledger) {
		if location != nil {
			ledger.location = location
		}
	}
}

// Ledger holds at most one Record per channel. It is safe for concurrent use.
type Ledger struct {
	clock    func() time.Time
	location *time.Location

	mu      sync.Mutex
	records map[string]Record
}

// New creates an empty ledger.
func New(options ...Option) *Ledger {
	ledger := &Ledger{
		clock:    time.Now,
		location: time.Local,
		records:  make(map[string]Record),
	}
	for _, option := range options {
		option(ledger)
	}

	return ledger
}

// Ingest overwrites the channel record with before and after. Equal texts are
// ignored since they come from metadata-only updates. It reports whether the
// record changed.
func (l *Ledger) Ingest(channelID string, messageID string, author snapshot.Author, before string, after string) bool {
	if before == after {
		return false
	}

	record := Record{
		MessageID:  messageID,
		Author:     author,
		Before:     before,
		After:      after,
		CapturedAt: l.clock().In(l.location),
	}

	l.mu.Lock()
	l.records[channelID] = record
	l.mu.Unlock()

	return true
}

// Edit returns the latest record of channelID.
func (l *Ledger) Edit(channelID string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[channelID]
	return record, ok
}

// Len returns the number of channels holding a record.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.records)
}
