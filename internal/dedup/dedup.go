// Package dedup provides the bounded processed-message set used for
// idempotent webhook delivery.
//
// The set is in-process and volatile: duplicate suppression is scoped to
// the lifetime of a single instance. Once the cap is exceeded the oldest
// entries are evicted in insertion order.
package dedup

import (
	"sync"
)

// DefaultCapacity caps the set at the last 1000 message ids.
const DefaultCapacity = 1000

// Set is a bounded, insertion-ordered set of recently seen message ids.
// All methods are safe for concurrent use.
type Set struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	cap   int
}

// NewSet creates a Set with DefaultCapacity.
func NewSet() *Set {
	return NewSetWithCapacity(DefaultCapacity)
}

// NewSetWithCapacity creates a Set bounded at the given number of entries.
func NewSetWithCapacity(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		seen: make(map[string]struct{}, capacity),
		cap:  capacity,
	}
}

// MarkProcessed records a message id and reports whether it was newly
// inserted. Returning false means the id was already present and the
// message must not be processed again. Callers insert before any
// downstream processing, so a failure after the mark cannot cause
// reprocessing on a provider retry.
func (s *Set) MarkProcessed(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[messageID]; dup {
		return false
	}
	s.seen[messageID] = struct{}{}
	s.order = append(s.order, messageID)
	s.evictLocked()
	return true
}

// Contains reports whether a message id has already been recorded.
func (s *Set) Contains(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[messageID]
	return ok
}

// Len returns the number of ids currently held.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Clear drops all recorded ids.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]struct{}, s.cap)
	s.order = s.order[:0]
}

// evictLocked removes the oldest entries until the set fits the cap.
func (s *Set) evictLocked() {
	if len(s.order) <= s.cap {
		return
	}
	excess := len(s.order) - s.cap
	for _, id := range s.order[:excess] {
		delete(s.seen, id)
	}
	s.order = append(s.order[:0], s.order[excess:]...)
}
