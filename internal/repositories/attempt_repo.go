package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mhutchens/stepauth/internal/models"
)

// AttemptRepository persists the append-only authentication attempt trail
type AttemptRepository interface {
	Record(ctx context.Context, attempt *models.AuthenticationAttempt) error
	GetBySessionID(ctx context.Context, sessionID string) ([]models.AuthenticationAttempt, error)
	CountFailuresSince(ctx context.Context, userID string, factorType models.FactorType, since time.Time) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// attemptRepoImpl implements AttemptRepository on postgres
type attemptRepoImpl struct {
	db *pgxpool.Pool
}

// NewAttemptRepository creates a new attempt repository
func NewAttemptRepository(db *pgxpool.Pool) AttemptRepository {
	return &attemptRepoImpl{db: db}
}

// Record appends an attempt. Attempts are immutable; there is no update path.
func (r *attemptRepoImpl) Record(ctx context.Context, attempt *models.AuthenticationAttempt) error {
	query := `
		INSERT INTO authentication_attempts
			(session_id, user_id, factor_type, success, failure_reason,
			 ip_address, user_agent, attempted_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := r.db.QueryRow(ctx, query,
		attempt.SessionID,
		attempt.UserID,
		attempt.FactorType,
		attempt.Success,
		attempt.FailureReason,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.AttemptedAt,
		attempt.Duration.Milliseconds(),
	).Scan(&attempt.ID)
	if err != nil {
		return fmt.Errorf("failed to record authentication attempt: %w", err)
	}

	return nil
}

// GetBySessionID returns the attempt trail for a session, oldest first
func (r *attemptRepoImpl) GetBySessionID(ctx context.Context, sessionID string) ([]models.AuthenticationAttempt, error) {
	query := `
		SELECT id, session_id, user_id, factor_type, success, failure_reason,
		       ip_address, user_agent, attempted_at, duration_ms
		FROM authentication_attempts
		WHERE session_id = $1
		ORDER BY attempted_at ASC
	`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.AuthenticationAttempt
	for rows.Next() {
		var attempt models.AuthenticationAttempt
		var durationMs int64
		err := rows.Scan(
			&attempt.ID,
			&attempt.SessionID,
			&attempt.UserID,
			&attempt.FactorType,
			&attempt.Success,
			&attempt.FailureReason,
			&attempt.IPAddress,
			&attempt.UserAgent,
			&attempt.AttemptedAt,
			&durationMs,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, models.ErrNotFound
			}
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempt.Duration = time.Duration(durationMs) * time.Millisecond
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// CountFailuresSince counts failed attempts for (user, factor type) after since
func (r *attemptRepoImpl) CountFailuresSince(ctx context.Context, userID string, factorType models.FactorType, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM authentication_attempts
		 WHERE user_id = $1 AND factor_type = $2 AND success = FALSE AND attempted_at > $3`,
		userID, factorType, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed attempts: %w", err)
	}
	return count, nil
}

// DeleteOlderThan prunes attempt rows past the retention cutoff
func (r *attemptRepoImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM authentication_attempts WHERE attempted_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
