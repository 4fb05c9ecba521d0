package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mhutchens/stepauth/internal/auth"
	"github.com/mhutchens/stepauth/internal/models"
	"github.com/mhutchens/stepauth/internal/repositories"
	pkgauth "github.com/mhutchens/stepauth/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

const biometricConfidenceThreshold = 0.80

// CredentialStore looks up a user's password credential hash.
// Password storage belongs to the surrounding portal, not the engine.
type CredentialStore interface {
	PasswordHash(ctx context.Context, userID string) (string, error)
}

// BiometricMatcher compares a biometric sample against the stored template
// and returns a confidence in [0,1]. Sensor internals are a collaborator.
type BiometricMatcher interface {
	Match(ctx context.Context, userID, sample string) (float64, error)
}

// ChallengeVerifier verifies a hardware token's signature over a challenge
type ChallengeVerifier interface {
	VerifySignature(ctx context.Context, userID, publicKey, signedResponse string) (bool, error)
}

// FactorVerifier dispatches verification by factor type and owns retry
// accounting: wrong responses consume a retry, locks and expiries do not.
type FactorVerifier struct {
	methods     repositories.MethodRepository
	credentials CredentialStore
	totp        *auth.TOTPEngine
	lockout     *LockoutService
	delivery    CodeDelivery
	biometrics  BiometricMatcher
	challenges  ChallengeVerifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewFactorVerifier creates a FactorVerifier
func NewFactorVerifier(
	methods repositories.MethodRepository,
	credentials CredentialStore,
	totp *auth.TOTPEngine,
	lockout *LockoutService,
	delivery CodeDelivery,
	biometrics BiometricMatcher,
	challenges ChallengeVerifier,
	logger *slog.Logger,
) *FactorVerifier {
	return &FactorVerifier{
		methods:     methods,
		credentials: credentials,
		totp:        totp,
		lockout:     lockout,
		delivery:    delivery,
		biometrics:  biometrics,
		challenges:  challenges,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock overrides the time source, for tests
func (v *FactorVerifier) SetClock(now func() time.Time) {
	v.now = now
}

// Verify checks response against the factor for userID and mutates the
// factor's status and retry count in place.
//
// Returns nil on success, ErrLocked while the method is locked (no retry
// consumed), ErrTransient on upstream timeout (no state mutation),
// ErrVerificationFailed on a wrong response (one retry consumed).
func (v *FactorVerifier) Verify(ctx context.Context, userID string, factor *models.AuthenticationFactor, response string) error {
	// A lock holds regardless of response correctness until the window elapses
	if v.lockout.IsLocked(userID, factor.Type) {
		return models.ErrLocked
	}

	ok, err := v.verifyByType(ctx, userID, factor, response)
	if err != nil {
		if isTimeout(err) {
			v.logger.Warn("verification upstream timed out",
				slog.String("user_id", userID),
				slog.String("factor_type", string(factor.Type)))
			return models.ErrTransient
		}
		if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrNotFound) {
			return err
		}
		v.logger.Error("factor verification error",
			slog.String("user_id", userID),
			slog.String("factor_type", string(factor.Type)),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	if ok {
		v.lockout.RecordSuccess(userID, factor.Type)
		factor.Status = models.FactorVerified
		v.recordMethodUsage(ctx, factor.MethodID, true)
		return nil
	}

	factor.RetryCount++
	v.recordMethodUsage(ctx, factor.MethodID, false)

	locked, lockUntil := v.lockout.RecordFailure(userID, factor.Type)
	if locked {
		factor.Status = models.FactorFailed
		v.lockMethod(ctx, factor.MethodID, lockUntil)
		return models.ErrLocked
	}
	if factor.RetryCount >= factor.MaxRetries {
		factor.Status = models.FactorFailed
	}
	return models.ErrVerificationFailed
}

func (v *FactorVerifier) verifyByType(ctx context.Context, userID string, factor *models.AuthenticationFactor, response string) (bool, error) {
	switch factor.Type {
	case models.FactorPassword:
		return v.verifyPassword(ctx, userID, response)
	case models.FactorTOTP:
		return v.verifyTOTP(ctx, factor.MethodID, response)
	case models.FactorSMS, models.FactorEmail, models.FactorPush:
		return v.verifyDelivered(ctx, factor, response)
	case models.FactorBiometric:
		return v.verifyBiometric(ctx, userID, response)
	case models.FactorHardwareToken:
		return v.verifyHardwareToken(ctx, userID, factor.MethodID, response)
	case models.FactorBackupCodes:
		return v.consumeBackupCode(ctx, factor.MethodID, response)
	default:
		return false, fmt.Errorf("%w: unsupported factor type %q", models.ErrValidation, factor.Type)
	}
}

func (v *FactorVerifier) verifyPassword(ctx context.Context, userID, response string) (bool, error) {
	hash, err := v.credentials.PasswordHash(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch credential hash: %w", err)
	}
	return pkgauth.ComparePassword(hash, response) == nil, nil
}

func (v *FactorVerifier) verifyTOTP(ctx context.Context, methodID, response string) (bool, error) {
	method, err := v.methods.GetByID(ctx, methodID)
	if err != nil {
		return false, err
	}

	secret, err := v.totp.DecryptSecret(method.Metadata.SecretEncrypted, method.Metadata.SecretNonce)
	if err != nil {
		return false, fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}

	valid, err := v.totp.VerifyWithReplayGuard(string(secret), response, 1, v.now(), method.LastUsedAt)
	if err != nil {
		// Replay and malformed codes are failed verifications, not faults
		return false, nil
	}
	return valid, nil
}

func (v *FactorVerifier) verifyDelivered(ctx context.Context, factor *models.AuthenticationFactor, response string) (bool, error) {
	if factor.DeliveryID == "" {
		// Code dispatch never completed; the caller should retry delivery
		return false, context.DeadlineExceeded
	}
	return v.delivery.Verify(ctx, factor.DeliveryID, response)
}

func (v *FactorVerifier) verifyBiometric(ctx context.Context, userID, sample string) (bool, error) {
	confidence, err := v.biometrics.Match(ctx, userID, sample)
	if err != nil {
		return false, err
	}
	return confidence >= biometricConfidenceThreshold, nil
}

func (v *FactorVerifier) verifyHardwareToken(ctx context.Context, userID, methodID, response string) (bool, error) {
	method, err := v.methods.GetByID(ctx, methodID)
	if err != nil {
		return false, err
	}
	return v.challenges.VerifySignature(ctx, userID, method.Metadata.PublicKey, response)
}

// consumeBackupCode burns a matching unused backup code. Each code is usable
// exactly once; the consumed entry is persisted before reporting success.
func (v *FactorVerifier) consumeBackupCode(ctx context.Context, methodID, response string) (bool, error) {
	method, err := v.methods.GetByID(ctx, methodID)
	if err != nil {
		return false, err
	}

	for i, entry := range method.Metadata.BackupCodes {
		if entry.UsedAt != nil {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(entry.CodeHash), []byte(response)) != nil {
			continue
		}

		now := v.now()
		method.Metadata.BackupCodes[i].UsedAt = &now
		if err := v.methods.UpdateMetadata(ctx, methodID, method.Metadata); err != nil {
			return false, fmt.Errorf("failed to consume backup code: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func (v *FactorVerifier) recordMethodUsage(ctx context.Context, methodID string, success bool) {
	if methodID == "" {
		return
	}
	if err := v.methods.RecordUsage(ctx, methodID, success); err != nil {
		v.logger.Error("failed to record method usage",
			slog.String("method_id", methodID), slog.Any("error", err))
	}
}

func (v *FactorVerifier) lockMethod(ctx context.Context, methodID string, lockUntil time.Time) {
	if methodID == "" {
		return
	}
	if err := v.methods.SetLocked(ctx, methodID, &lockUntil); err != nil {
		v.logger.Error("failed to persist method lock",
			slog.String("method_id", methodID), slog.Any("error", err))
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
