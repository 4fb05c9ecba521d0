package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mhutchens/stepauth/internal/models"
)

// MethodRepository defines MFA method persistence operations
type MethodRepository interface {
	Create(ctx context.Context, method *models.MFAMethod) error
	GetByID(ctx context.Context, methodID string) (*models.MFAMethod, error)
	GetByUserID(ctx context.Context, userID string) ([]models.MFAMethod, error)
	GetPrimary(ctx context.Context, userID string) (*models.MFAMethod, error)
	SetPrimary(ctx context.Context, userID, methodID string) error
	SetLocked(ctx context.Context, methodID string, lockUntil *time.Time) error
	RecordUsage(ctx context.Context, methodID string, success bool) error
	UpdateMetadata(ctx context.Context, methodID string, metadata models.MethodMetadata) error
	Disable(ctx context.Context, methodID string) error
}

// methodRepoImpl implements MethodRepository on postgres
type methodRepoImpl struct {
	db *pgxpool.Pool
}

// NewMethodRepository creates a new MFA method repository
func NewMethodRepository(db *pgxpool.Pool) MethodRepository {
	return &methodRepoImpl{db: db}
}

const methodColumns = `
	id, user_id, type, name, enabled, is_primary, metadata,
	success_count, failure_count, locked, lock_until, last_used_at,
	created_at, updated_at
`

// Create inserts a new MFA method
func (r *methodRepoImpl) Create(ctx context.Context, method *models.MFAMethod) error {
	metadataJSON, err := json.Marshal(method.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal method metadata: %w", err)
	}

	query := `
		INSERT INTO mfa_methods (user_id, type, name, enabled, is_primary, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		method.UserID,
		method.Type,
		method.Name,
		method.Enabled,
		method.Primary,
		metadataJSON,
	).Scan(&method.ID, &method.CreatedAt, &method.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create MFA method: %w", err)
	}

	return nil
}

// GetByID retrieves a method by id
func (r *methodRepoImpl) GetByID(ctx context.Context, methodID string) (*models.MFAMethod, error) {
	query := `SELECT ` + methodColumns + ` FROM mfa_methods WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, methodID))
}

// GetByUserID retrieves all methods for a user, primary first
func (r *methodRepoImpl) GetByUserID(ctx context.Context, userID string) ([]models.MFAMethod, error) {
	query := `
		SELECT ` + methodColumns + `
		FROM mfa_methods
		WHERE user_id = $1
		ORDER BY is_primary DESC, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list MFA methods: %w", err)
	}
	defer rows.Close()

	var methods []models.MFAMethod
	for rows.Next() {
		method, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, *method)
	}
	return methods, rows.Err()
}

// GetPrimary retrieves the user's primary enabled method
func (r *methodRepoImpl) GetPrimary(ctx context.Context, userID string) (*models.MFAMethod, error) {
	query := `
		SELECT ` + methodColumns + `
		FROM mfa_methods
		WHERE user_id = $1 AND is_primary = TRUE AND enabled = TRUE
	`
	return r.scanOne(r.db.QueryRow(ctx, query, userID))
}

// SetPrimary marks methodID primary and demotes the user's other methods
func (r *methodRepoImpl) SetPrimary(ctx context.Context, userID, methodID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE mfa_methods SET is_primary = FALSE, updated_at = NOW() WHERE user_id = $1`,
		userID,
	); err != nil {
		return fmt.Errorf("failed to demote methods: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE mfa_methods SET is_primary = TRUE, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND enabled = TRUE`,
		methodID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to promote method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return tx.Commit(ctx)
}

// SetLocked updates the lock state of a method. A nil lockUntil clears the lock.
func (r *methodRepoImpl) SetLocked(ctx context.Context, methodID string, lockUntil *time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE mfa_methods SET locked = $2, lock_until = $3, updated_at = NOW() WHERE id = $1`,
		methodID, lockUntil != nil, lockUntil,
	)
	if err != nil {
		return fmt.Errorf("failed to update method lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RecordUsage bumps the method's success or failure counter
func (r *methodRepoImpl) RecordUsage(ctx context.Context, methodID string, success bool) error {
	var query string
	if success {
		query = `UPDATE mfa_methods
			SET success_count = success_count + 1, last_used_at = NOW(), updated_at = NOW()
			WHERE id = $1`
	} else {
		query = `UPDATE mfa_methods
			SET failure_count = failure_count + 1, updated_at = NOW()
			WHERE id = $1`
	}

	tag, err := r.db.Exec(ctx, query, methodID)
	if err != nil {
		return fmt.Errorf("failed to record method usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateMetadata replaces the method's metadata blob (e.g. consumed backup codes)
func (r *methodRepoImpl) UpdateMetadata(ctx context.Context, methodID string, metadata models.MethodMetadata) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal method metadata: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE mfa_methods SET metadata = $2, updated_at = NOW() WHERE id = $1`,
		methodID, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update method metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Disable soft-disables a method. Methods are never hard-deleted.
func (r *methodRepoImpl) Disable(ctx context.Context, methodID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE mfa_methods SET enabled = FALSE, is_primary = FALSE, updated_at = NOW() WHERE id = $1`,
		methodID,
	)
	if err != nil {
		return fmt.Errorf("failed to disable method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *methodRepoImpl) scanOne(row pgx.Row) (*models.MFAMethod, error) {
	method := &models.MFAMethod{}
	var metadataJSON []byte

	err := row.Scan(
		&method.ID,
		&method.UserID,
		&method.Type,
		&method.Name,
		&method.Enabled,
		&method.Primary,
		&metadataJSON,
		&method.SuccessCount,
		&method.FailureCount,
		&method.Locked,
		&method.LockUntil,
		&method.LastUsedAt,
		&method.CreatedAt,
		&method.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan MFA method: %w", err)
	}

	if err := json.Unmarshal(metadataJSON, &method.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal method metadata: %w", err)
	}

	return method, nil
}
