package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mhutchens/stepauth/internal/auth"
	"github.com/mhutchens/stepauth/internal/models"
	"github.com/mhutchens/stepauth/internal/repositories"
	"golang.org/x/crypto/bcrypt"
)

const backupCodeCount = 8

// RegistrationInput is the caller-supplied material for a new MFA method
type RegistrationInput struct {
	Type         models.FactorType
	Name         string
	PhoneNumber  string
	EmailAddress string
	PushDeviceID string
	PublicKey    string
}

// RegistrationResult carries one-time enrollment material alongside the
// stored method. Secret and backup codes are shown to the user exactly once.
type RegistrationResult struct {
	Method      *models.MFAMethod
	Secret      string
	QRCode      string
	BackupCodes []string
}

// MethodService handles MFA method registration and management
type MethodService struct {
	repo   repositories.MethodRepository
	totp   *auth.TOTPEngine
	logger *slog.Logger
}

// NewMethodService creates a MethodService
func NewMethodService(repo repositories.MethodRepository, totp *auth.TOTPEngine, logger *slog.Logger) *MethodService {
	return &MethodService{
		repo:   repo,
		totp:   totp,
		logger: logger,
	}
}

// Register validates and persists a new MFA method for userID. Malformed
// metadata is rejected before anything is stored. The user's first method
// becomes primary.
func (s *MethodService) Register(ctx context.Context, userID string, input RegistrationInput) (*RegistrationResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	if input.Name = strings.TrimSpace(input.Name); input.Name == "" {
		return nil, fmt.Errorf("%w: method name is required", models.ErrValidation)
	}
	if err := validateMetadata(input); err != nil {
		return nil, err
	}

	method := &models.MFAMethod{
		UserID:  userID,
		Type:    input.Type,
		Name:    input.Name,
		Enabled: true,
		Metadata: models.MethodMetadata{
			PhoneNumber:  input.PhoneNumber,
			EmailAddress: input.EmailAddress,
			PushDeviceID: input.PushDeviceID,
			PublicKey:    input.PublicKey,
		},
	}
	result := &RegistrationResult{Method: method}

	switch input.Type {
	case models.FactorTOTP:
		enrollment, err := s.totp.Enroll(userID)
		if err != nil {
			s.logger.Error("TOTP enrollment failed", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		method.Metadata.SecretEncrypted = enrollment.SecretEncrypted
		method.Metadata.SecretNonce = enrollment.SecretNonce
		result.Secret = enrollment.Secret
		result.QRCode = enrollment.QRCodeDataURL

	case models.FactorBackupCodes:
		codes, entries, err := s.generateBackupCodes()
		if err != nil {
			s.logger.Error("backup code generation failed", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		method.Metadata.BackupCodes = entries
		result.BackupCodes = codes
	}

	existing, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list existing methods", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	method.Primary = len(existing) == 0

	if err := s.repo.Create(ctx, method); err != nil {
		s.logger.Error("failed to create MFA method", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("MFA method registered",
		slog.String("user_id", userID),
		slog.String("method_id", method.ID),
		slog.String("type", string(method.Type)),
		slog.Bool("primary", method.Primary))

	return result, nil
}

// Promote marks methodID as the user's primary method
func (s *MethodService) Promote(ctx context.Context, userID, methodID string) error {
	if err := s.repo.SetPrimary(ctx, userID, methodID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to promote method", slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// List returns the user's registered methods, primary first
func (s *MethodService) List(ctx context.Context, userID string) ([]models.MFAMethod, error) {
	methods, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list methods", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return methods, nil
}

// Disable soft-disables a method after confirming ownership
func (s *MethodService) Disable(ctx context.Context, userID, methodID string) error {
	method, err := s.repo.GetByID(ctx, methodID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return models.ErrInternalServer
	}
	if method.UserID != userID {
		return models.ErrForbidden
	}
	return s.repo.Disable(ctx, methodID)
}

func (s *MethodService) generateBackupCodes() ([]string, []models.BackupCodeEntry, error) {
	codes, err := s.totp.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]models.BackupCodeEntry, len(codes))
	now := time.Now()
	for i, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, err
		}
		entries[i] = models.BackupCodeEntry{
			CodeHash:  string(hash),
			CreatedAt: now,
		}
	}
	return codes, entries, nil
}

// validateMetadata enforces type-specific registration requirements
func validateMetadata(input RegistrationInput) error {
	if !models.ValidFactorType(input.Type) {
		return fmt.Errorf("%w: unknown method type %q", models.ErrValidation, input.Type)
	}

	switch input.Type {
	case models.FactorPassword:
		return fmt.Errorf("%w: password credentials are managed by the account service", models.ErrValidation)
	case models.FactorSMS:
		if input.PhoneNumber == "" {
			return fmt.Errorf("%w: sms method requires a phone number", models.ErrValidation)
		}
	case models.FactorEmail:
		if input.EmailAddress == "" {
			return fmt.Errorf("%w: email method requires an email address", models.ErrValidation)
		}
	case models.FactorPush:
		if input.PushDeviceID == "" {
			return fmt.Errorf("%w: push method requires a device id", models.ErrValidation)
		}
	case models.FactorHardwareToken:
		if input.PublicKey == "" {
			return fmt.Errorf("%w: hardware token method requires a public key", models.ErrValidation)
		}
	}
	return nil
}
