package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/mhutchens/stepauth/internal/repositories"
)

// Reaper periodically reclaims dead sessions from the in-memory store and
// prunes attempt rows past retention. Lazy expiry on access stays the
// correctness mechanism; the reaper only bounds memory and table growth.
type Reaper struct {
	sessions  repositories.SessionStore
	attempts  repositories.AttemptRepository
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	stopCh    chan struct{}
}

// NewReaper creates a new reaper
func NewReaper(
	sessions repositories.SessionStore,
	attempts repositories.AttemptRepository,
	logger *slog.Logger,
	interval time.Duration,
	retention time.Duration,
) *Reaper {
	return &Reaper{
		sessions:  sessions,
		attempts:  attempts,
		logger:    logger,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Run immediately on startup
	r.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-r.stopCh:
			r.logger.Info("session reaper stopped")
			return
		case <-ctx.Done():
			r.logger.Info("session reaper context cancelled")
			return
		}
	}
}

// sweep reclaims dead sessions and prunes old attempts
func (r *Reaper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reclaimed := r.sessions.DeleteExpiredBefore(sweepCtx, time.Now())
	if reclaimed > 0 {
		r.logger.Info("expired sessions reclaimed", slog.Int("count", reclaimed))
	}

	pruned, err := r.attempts.DeleteOlderThan(sweepCtx, time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Error("failed to prune attempt history", slog.Any("error", err))
		return
	}
	if pruned > 0 {
		r.logger.Info("attempt history pruned", slog.Int64("rows_deleted", pruned))
	}
}

// Stop signals the reaper to stop
func (r *Reaper) Stop() {
	close(r.stopCh)
}
