// Package usercontext tracks per-user conversation state: the last message
// kind, a confirmation counter, and whether the user owes a confirmation
// for an agenda notice.
//
// State is process-lifetime only; there is no automatic expiry beyond the
// weekly cleanup task.
package usercontext

import (
	"log/slog"
	"sync"
	"time"

	"github.com/citabot/citabot/internal/models"
)

// Store owns the per-user context map. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	contexts map[string]*models.UserContext
}

// NewStore creates an empty context store.
func NewStore() *Store {
	return &Store{contexts: make(map[string]*models.UserContext)}
}

// Get returns the context for a user, creating a default record if absent.
// The returned value is a copy; mutations go through Update.
func (s *Store) Get(userID string) models.UserContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.getOrCreateLocked(userID)
}

// Update records an inbound message of the given kind for a user.
//
// kind=confirmation increments the confirmation counter and clears the
// awaiting flag; kind=agenda_sent sets the awaiting flag and resets the
// counter; any other kind only updates last-message bookkeeping and is
// stored verbatim.
func (s *Store) Update(userID string, kind models.MessageKind, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.getOrCreateLocked(userID)
	ctx.LastMessageType = kind
	ctx.LastMessageTime = time.Now()

	switch kind {
	case models.MessageKindConfirmation:
		ctx.ConfirmationCount++
		ctx.AwaitingConfirmation = false
	case models.MessageKindAgendaSent:
		ctx.AwaitingConfirmation = true
		ctx.ConfirmationCount = 0
	}

	slog.Debug("UserContext updated", "userID", userID, "kind", kind, "awaiting", ctx.AwaitingConfirmation, "content_length", len(content))
}

// MarkAgendaSent records that the daily agenda was sent to a user and a
// confirmation is now expected.
func (s *Store) MarkAgendaSent(userID string) {
	s.Update(userID, models.MessageKindAgendaSent, "Agenda del día enviada")
}

// IsAwaitingConfirmation reports whether a user owes a confirmation.
func (s *Store) IsAwaitingConfirmation(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ctx, ok := s.contexts[userID]; ok {
		return ctx.AwaitingConfirmation
	}
	return false
}

// Clear removes a user's context entirely.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, userID)
	slog.Debug("UserContext cleared", "userID", userID)
}

// All returns a snapshot of every user context, keyed by user id.
func (s *Store) All() map[string]models.UserContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.UserContext, len(s.contexts))
	for id, ctx := range s.contexts {
		out[id] = *ctx
	}
	return out
}

// PruneOlderThan drops contexts whose last message is older than the given
// age and returns the number removed. Used by the weekly cleanup task.
func (s *Store) PruneOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, ctx := range s.contexts {
		if !ctx.LastMessageTime.IsZero() && ctx.LastMessageTime.Before(cutoff) {
			delete(s.contexts, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("UserContext pruned stale contexts", "removed", removed, "max_age", age)
	}
	return removed
}

func (s *Store) getOrCreateLocked(userID string) *models.UserContext {
	ctx, ok := s.contexts[userID]
	if !ok {
		ctx = &models.UserContext{}
		s.contexts[userID] = ctx
	}
	return ctx
}
