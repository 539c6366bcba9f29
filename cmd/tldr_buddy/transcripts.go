package main

import (
	"sync"
	"time"

	"github.com/tonyazhuuki/tldr-buddy/archetype"
)

type transcriptEntry struct {
	Text     string
	Score    archetype.Score
	HasScore bool

	storedAt time.Time
}

// transcriptCache keeps the latest transcript per chat so button callbacks
// can resolve without re-transcribing. Bounded and TTL-swept.
type transcriptCache struct {
	mu      sync.Mutex
	max     int
	ttl     time.Duration
	entries map[int64]transcriptEntry
}

func newTranscriptCache(max int, ttl time.Duration) *transcriptCache {
	if max <= 0 {
		max = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &transcriptCache{
		max:     max,
		ttl:     ttl,
		entries: map[int64]transcriptEntry{},
	}
}

func (c *transcriptCache) put(chatID int64, entry transcriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.storedAt = time.Now()
	c.entries[chatID] = entry

	if len(c.entries) <= c.max {
		return
	}
	// Evict the oldest entry.
	var oldestID int64
	var oldestAt time.Time
	first := true
	for id, e := range c.entries {
		if first || e.storedAt.Before(oldestAt) {
			oldestID, oldestAt = id, e.storedAt
			first = false
		}
	}
	delete(c.entries, oldestID)
}

func (c *transcriptCache) get(chatID int64) (transcriptEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[chatID]
	if !ok {
		return transcriptEntry{}, false
	}
	if time.Since(entry.storedAt) > c.ttl {
		delete(c.entries, chatID)
		return transcriptEntry{}, false
	}
	return entry, true
}
