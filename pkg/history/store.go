// Package history keeps a per-goblin, in-memory log of task messages. It is
// consulted when history cannot be fetched from the worker.
package history

import (
	"sync"
	"time"
)

// Entry is one recorded message.
type Entry struct {
	Timestamp int64  `json:"ts"` // milliseconds since the Unix epoch
	Message   string `json:"message"`
}

// Store is an append-only log keyed by goblin id.
type Store struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string][]Entry),
		now:     time.Now,
	}
}

// Record appends message to the goblin's log.
func (s *Store) Record(goblinID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[goblinID] = append(s.entries[goblinID], Entry{
		Timestamp: s.now().UnixMilli(),
		Message:   message,
	})
}

// Read returns the goblin's entries, most recent first. A positive limit
// truncates the result.
func (s *Store) Read(goblinID string, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.entries[goblinID]
	n := len(log)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, log[i])
	}
	return out
}
