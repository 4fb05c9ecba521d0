package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/mhutchens/stepauth/internal/models"
)

// SessionStore holds live authentication sessions. Sessions are ephemeral
// (minutes-long) so they live in memory; attempts and methods persist in
// postgres. Mutate serializes writers per session, which is what keeps
// completedFactors and retry counters race-free.
type SessionStore interface {
	Create(ctx context.Context, session *models.AuthenticationSession) error
	Get(ctx context.Context, sessionID string) (*models.AuthenticationSession, error)
	Mutate(ctx context.Context, sessionID string, fn func(*models.AuthenticationSession) error) error
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) int
}

type sessionEntry struct {
	mu      sync.Mutex
	session *models.AuthenticationSession
}

// memorySessionStore implements SessionStore with a per-session mutex
type memorySessionStore struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

// NewMemorySessionStore creates an in-memory session store
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{
		entries: make(map[string]*sessionEntry),
	}
}

// Create registers a new session
func (s *memorySessionStore) Create(ctx context.Context, session *models.AuthenticationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[session.ID]; exists {
		return models.ErrConflict
	}
	s.entries[session.ID] = &sessionEntry{session: session}
	return nil
}

// Get returns a snapshot copy of the session
func (s *memorySessionStore) Get(ctx context.Context, sessionID string) (*models.AuthenticationSession, error) {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return copySession(entry.session), nil
}

// Mutate runs fn with exclusive ownership of the session. fn sees the live
// session; a non-nil error from fn discards nothing (mutations are in place)
// but is propagated to the caller. The version counter is bumped on each call.
func (s *memorySessionStore) Mutate(ctx context.Context, sessionID string, fn func(*models.AuthenticationSession) error) error {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return models.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.session.Version++
	return fn(entry.session)
}

// DeleteExpiredBefore drops terminal and expired sessions older than cutoff,
// returning how many were reclaimed
func (s *memorySessionStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	for id, entry := range s.entries {
		entry.mu.Lock()
		dead := entry.session.ExpiresAt.Before(cutoff) ||
			(entry.session.Status.Terminal() && entry.session.LastActivityAt.Before(cutoff))
		entry.mu.Unlock()

		if dead {
			delete(s.entries, id)
			reclaimed++
		}
	}
	return reclaimed
}

// copySession deep-copies the mutable slices so snapshots cannot race writers
func copySession(src *models.AuthenticationSession) *models.AuthenticationSession {
	dst := *src
	dst.Factors = make([]models.AuthenticationFactor, len(src.Factors))
	copy(dst.Factors, src.Factors)
	dst.Attempts = make([]models.AuthenticationAttempt, len(src.Attempts))
	copy(dst.Attempts, src.Attempts)
	dst.RiskFactors = make([]string, len(src.RiskFactors))
	copy(dst.RiskFactors, src.RiskFactors)
	return &dst
}
