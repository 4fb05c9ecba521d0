package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mhutchens/stepauth/internal/models"
)

// LockoutConfig holds lockout policy configuration
type LockoutConfig struct {
	MaxRetries      int           // consecutive failures before a lock (default 3)
	LockoutDuration time.Duration // how long a lock holds (default 15m)
}

// DefaultLockoutConfig returns the default lockout policy
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		MaxRetries:      3,
		LockoutDuration: 15 * time.Minute,
	}
}

type lockoutKey struct {
	userID string
	method models.FactorType
}

type lockoutEntry struct {
	failures  int
	lockUntil time.Time
}

// LockoutService tracks consecutive verification failures per (user, method)
// and enforces temporary locks. All updates happen under a single mutex so
// concurrent failed attempts from different sessions cannot lose updates.
type LockoutService struct {
	mu      sync.Mutex
	entries map[lockoutKey]*lockoutEntry
	config  LockoutConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewLockoutService creates a LockoutService
func NewLockoutService(config LockoutConfig, logger *slog.Logger) *LockoutService {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = 15 * time.Minute
	}
	return &LockoutService{
		entries: make(map[lockoutKey]*lockoutEntry),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests
func (s *LockoutService) SetClock(now func() time.Time) {
	s.now = now
}

// RecordFailure increments the failure counter for (userID, method) and
// returns (locked, lockUntil). locked is true while a lock is in effect,
// including the call that triggers it.
func (s *LockoutService) RecordFailure(userID string, method models.FactorType) (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lockoutKey{userID: userID, method: method}
	entry := s.resetIfElapsed(key)
	if entry == nil {
		entry = &lockoutEntry{}
		s.entries[key] = entry
	}

	if s.lockedLocked(entry) {
		return true, entry.lockUntil
	}

	entry.failures++
	if entry.failures >= s.config.MaxRetries {
		entry.lockUntil = s.now().Add(s.config.LockoutDuration)
		s.logger.Warn("method locked after repeated failures",
			slog.String("user_id", userID),
			slog.String("method_type", string(method)),
			slog.Int("failures", entry.failures),
			slog.Time("lock_until", entry.lockUntil))
		return true, entry.lockUntil
	}

	return false, time.Time{}
}

// RecordSuccess resets the failure counter for (userID, method).
// A success while locked does not clear the lock.
func (s *LockoutService) RecordSuccess(userID string, method models.FactorType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lockoutKey{userID: userID, method: method}
	entry, ok := s.entries[key]
	if !ok {
		return
	}
	if s.lockedLocked(entry) {
		return
	}
	delete(s.entries, key)
}

// IsLocked reports whether (userID, method) is currently locked
func (s *LockoutService) IsLocked(userID string, method models.FactorType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.resetIfElapsed(lockoutKey{userID: userID, method: method})
	return entry != nil && s.lockedLocked(entry)
}

// resetIfElapsed clears an entry whose lock window has passed and returns the
// surviving entry, if any. Caller must hold the mutex.
func (s *LockoutService) resetIfElapsed(key lockoutKey) *lockoutEntry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !entry.lockUntil.IsZero() && !s.now().Before(entry.lockUntil) {
		delete(s.entries, key)
		return nil
	}
	return entry
}

func (s *LockoutService) lockedLocked(entry *lockoutEntry) bool {
	return !entry.lockUntil.IsZero() && s.now().Before(entry.lockUntil)
}
