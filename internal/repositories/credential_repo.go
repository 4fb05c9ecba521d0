package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mhutchens/stepauth/internal/models"
)

// credentialRepoImpl reads password credential hashes from postgres. It backs
// the password factor; credential writes belong to the account service.
type credentialRepoImpl struct {
	db *pgxpool.Pool
}

// NewCredentialRepository creates a read-only credential repository
func NewCredentialRepository(db *pgxpool.Pool) *credentialRepoImpl {
	return &credentialRepoImpl{db: db}
}

// PasswordHash returns the stored bcrypt hash for userID
func (r *credentialRepoImpl) PasswordHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := r.db.QueryRow(ctx,
		`SELECT password_hash FROM user_credentials WHERE user_id = $1`,
		userID,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", models.ErrNotFound
		}
		return "", fmt.Errorf("failed to fetch credential hash: %w", err)
	}
	return hash, nil
}
