package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DeviceTrustRepository persists which device fingerprints a user has marked
// trusted. Enrollment happens out of band (the account portal's "remember
// this device" flow); the engine only reads and refreshes sightings.
type DeviceTrustRepository interface {
	IsTrusted(ctx context.Context, userID, fingerprint string) (bool, error)
	Trust(ctx context.Context, userID, fingerprint string) error
}

type deviceTrustRepoImpl struct {
	db *pgxpool.Pool
}

// NewDeviceTrustRepository creates a new device trust repository
func NewDeviceTrustRepository(db *pgxpool.Pool) DeviceTrustRepository {
	return &deviceTrustRepoImpl{db: db}
}

func (r *deviceTrustRepoImpl) IsTrusted(ctx context.Context, userID, fingerprint string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM trusted_devices
			WHERE user_id = $1 AND fingerprint = $2
		)
	`

	var trusted bool
	if err := r.db.QueryRow(ctx, query, userID, fingerprint).Scan(&trusted); err != nil {
		return false, fmt.Errorf("failed to check device trust: %w", err)
	}
	return trusted, nil
}

// Trust records a fingerprint as trusted, refreshing last_seen_at on repeat
func (r *deviceTrustRepoImpl) Trust(ctx context.Context, userID, fingerprint string) error {
	query := `
		INSERT INTO trusted_devices (user_id, fingerprint, trusted_at, last_seen_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id, fingerprint)
		DO UPDATE SET last_seen_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, userID, fingerprint); err != nil {
		return fmt.Errorf("failed to trust device: %w", err)
	}
	return nil
}

// LocationHistoryRepository persists the locations a user has signed in from
type LocationHistoryRepository interface {
	KnownLocations(ctx context.Context, userID string) ([]string, error)
	RecordSighting(ctx context.Context, userID, location string, at time.Time) error
}

type locationHistoryRepoImpl struct {
	db *pgxpool.Pool
}

// NewLocationHistoryRepository creates a new location history repository
func NewLocationHistoryRepository(db *pgxpool.Pool) LocationHistoryRepository {
	return &locationHistoryRepoImpl{db: db}
}

func (r *locationHistoryRepoImpl) KnownLocations(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT location FROM seen_locations WHERE user_id = $1`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load location history: %w", err)
	}
	defer rows.Close()

	var locations []string
	for rows.Next() {
		var location string
		if err := rows.Scan(&location); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, location)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read location history: %w", err)
	}
	return locations, nil
}

// RecordSighting upserts a location for the user
func (r *locationHistoryRepoImpl) RecordSighting(ctx context.Context, userID, location string, at time.Time) error {
	if location == "" {
		return nil
	}

	query := `
		INSERT INTO seen_locations (user_id, location, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id, location)
		DO UPDATE SET last_seen_at = $3
	`

	if _, err := r.db.Exec(ctx, query, userID, location, at); err != nil {
		return fmt.Errorf("failed to record location sighting: %w", err)
	}
	return nil
}
