package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mhutchens/stepauth/internal/auth"
	"github.com/mhutchens/stepauth/internal/models"
	"github.com/mhutchens/stepauth/internal/repositories"
	"github.com/mhutchens/stepauth/internal/risk"
)

// SessionConfig is the policy applied to new sessions
type SessionConfig struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	SessionDuration time.Duration
	MaxIdleTime     time.Duration
	FactorTTL       time.Duration
}

// DefaultSessionConfig returns the default session policy
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAttempts:     3,
		LockoutDuration: 15 * time.Minute,
		SessionDuration: 10 * time.Minute,
		MaxIdleTime:     5 * time.Minute,
		FactorTTL:       5 * time.Minute,
	}
}

// VerifyResult is the outcome of one verify-factor call
type VerifyResult struct {
	Success        bool
	Session        *models.AuthenticationSession
	NextFactor     *models.AuthenticationFactor
	RequiresStepUp bool
	Tokens         *models.TokenSet
}

// StartOptions tweak session creation
type StartOptions struct {
	// ForceMFA requires a second factor regardless of the risk assessment
	ForceMFA bool
}

// VerifyMetadata carries caller context for authorization and audit
type VerifyMetadata struct {
	CallerUserID string // when set, must match the session owner
}

// SessionService creates and advances authentication sessions. It owns the
// session state machine; all session mutations funnel through the store's
// per-session lock so concurrent verify calls cannot double-count factors.
type SessionService struct {
	sessions repositories.SessionStore
	methods  repositories.MethodRepository
	scorer   *risk.Scorer
	verifier *FactorVerifier
	issuer   *auth.TokenIssuer
	audit    AuditRecorder
	delivery CodeDelivery
	config   SessionConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionService creates a SessionService
func NewSessionService(
	sessions repositories.SessionStore,
	methods repositories.MethodRepository,
	scorer *risk.Scorer,
	verifier *FactorVerifier,
	issuer *auth.TokenIssuer,
	audit AuditRecorder,
	delivery CodeDelivery,
	config SessionConfig,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		methods:  methods,
		scorer:   scorer,
		verifier: verifier,
		issuer:   issuer,
		audit:    audit,
		delivery: delivery,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// Start creates a new authentication session for userID. The risk assessment
// decides how many factors the login requires: password alone below the MFA
// threshold, password plus the user's primary MFA method above it.
func (s *SessionService) Start(ctx context.Context, userID string, device models.DeviceContext, opts StartOptions) (*models.AuthenticationSession, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrValidation)
	}

	assessment := s.scorer.Score(ctx, userID, device)
	now := s.now()

	requiredFactors := 1
	if assessment.RequireMFA || opts.ForceMFA {
		requiredFactors = 2
	}

	// Password always comes first
	factors := []models.AuthenticationFactor{{
		ID:         uuid.New().String(),
		Type:       models.FactorPassword,
		Status:     models.FactorPending,
		MaxRetries: s.config.MaxAttempts,
		ExpiresAt:  now.Add(s.config.FactorTTL),
	}}

	if requiredFactors > 1 {
		mfaFactor, err := s.buildMFAFactor(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		factors = append(factors, *mfaFactor)
	}

	session := &models.AuthenticationSession{
		ID:              uuid.New().String(),
		UserID:          userID,
		Status:          models.SessionPending,
		Factors:         factors,
		RequiredFactors: requiredFactors,
		Device:          device,
		RiskScore:       assessment.Score,
		RiskFactors:     assessment.RiskFactors,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.config.SessionDuration),
		LastActivityAt:  now,
		Policy: models.SessionPolicy{
			MaxAttempts:     s.config.MaxAttempts,
			LockoutDuration: s.config.LockoutDuration,
			SessionDuration: s.config.SessionDuration,
			MaxIdleTime:     s.config.MaxIdleTime,
			FactorTTL:       s.config.FactorTTL,
		},
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		s.logger.Error("failed to create session", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("authentication session started",
		slog.String("session_id", session.ID),
		slog.String("user_id", userID),
		slog.Int("risk_score", assessment.Score),
		slog.Int("required_factors", requiredFactors))

	return s.snapshot(ctx, session.ID)
}

// buildMFAFactor resolves the user's primary enabled, unlocked method into a
// session factor, dispatching the challenge code for delivery-based types
func (s *SessionService) buildMFAFactor(ctx context.Context, userID string, now time.Time) (*models.AuthenticationFactor, error) {
	method, err := s.methods.GetPrimary(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNoAvailableFactor
		}
		s.logger.Error("failed to load primary method", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !method.Available(now) {
		return nil, models.ErrNoAvailableFactor
	}

	factor := &models.AuthenticationFactor{
		ID:         uuid.New().String(),
		MethodID:   method.ID,
		Type:       method.Type,
		Status:     models.FactorPending,
		MaxRetries: s.config.MaxAttempts,
		ExpiresAt:  now.Add(s.config.FactorTTL),
	}

	if destination := deliveryDestination(method); destination != "" {
		deliveryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		deliveryID, err := s.delivery.Send(deliveryCtx, destination)
		if err != nil {
			// The factor stays usable; verification surfaces TransientError
			// until a code is actually out the door
			s.logger.Warn("challenge code dispatch failed",
				slog.String("user_id", userID),
				slog.String("method_type", string(method.Type)),
				slog.Any("error", err))
		} else {
			factor.DeliveryID = deliveryID
		}
	}

	return factor, nil
}

// VerifyFactor submits a response for one factor of a session and advances
// the state machine. Every outcome, success or failure, is recorded as an
// authentication attempt.
func (s *SessionService) VerifyFactor(ctx context.Context, sessionID, factorID, response string, meta VerifyMetadata) (*VerifyResult, error) {
	started := s.now()
	result := &VerifyResult{}

	err := s.sessions.Mutate(ctx, sessionID, func(session *models.AuthenticationSession) error {
		if meta.CallerUserID != "" && meta.CallerUserID != session.UserID {
			return models.ErrForbidden
		}

		if session.Status.Terminal() {
			return terminalError(session.Status)
		}

		now := s.now()
		if session.Expired(now) {
			session.Status = models.SessionExpired
			s.recordAttempt(ctx, session, models.FactorPassword, started, false, "session_expired")
			return models.ErrExpired
		}

		factor := session.FactorByID(factorID)
		if factor == nil {
			return models.ErrNotFound
		}
		if factor.Status == models.FactorVerified {
			return models.ErrConflict
		}
		if now.After(factor.ExpiresAt) {
			// Deadline passed before a response arrived; no retry consumed
			factor.Status = models.FactorExpired
			s.recordAttempt(ctx, session, factor.Type, started, false, "factor_expired")
			return models.ErrExpired
		}

		verifyErr := s.verifier.Verify(ctx, session.UserID, factor, response)
		switch {
		case verifyErr == nil:
			if session.CompletedFactors < session.RequiredFactors {
				session.CompletedFactors++
			}
			session.LastActivityAt = now
			s.recordAttempt(ctx, session, factor.Type, started, true, "")

			if session.CompletedFactors == session.RequiredFactors {
				session.Status = models.SessionAuthenticated
				tokens, err := s.issuer.Issue(session)
				if err != nil {
					s.logger.Error("token issuance failed",
						slog.String("session_id", session.ID), slog.Any("error", err))
					return models.ErrInternalServer
				}
				result.Tokens = tokens
				s.logger.Info("session authenticated",
					slog.String("session_id", session.ID),
					slog.String("user_id", session.UserID))
			} else {
				result.NextFactor = session.NextPendingFactor()
			}
			result.Success = true
			return nil

		case errors.Is(verifyErr, models.ErrLocked):
			session.Status = models.SessionLocked
			s.recordAttempt(ctx, session, factor.Type, started, false, "method_locked")
			return models.ErrLocked

		case errors.Is(verifyErr, models.ErrVerificationFailed):
			session.LastActivityAt = now
			s.recordAttempt(ctx, session, factor.Type, started, false, "invalid_response")
			return models.ErrVerificationFailed

		case errors.Is(verifyErr, models.ErrTransient):
			// No session state changes on upstream timeouts
			s.recordAttempt(ctx, session, factor.Type, started, false, "transient_error")
			return models.ErrTransient

		default:
			s.recordAttempt(ctx, session, factor.Type, started, false, "internal_error")
			return verifyErr
		}
	})

	if err != nil {
		return nil, err
	}

	snapshot, snapErr := s.snapshot(ctx, sessionID)
	if snapErr != nil {
		return nil, snapErr
	}
	result.Session = snapshot
	result.RequiresStepUp = snapshot.RiskScore > 75 && snapshot.Status == models.SessionPending
	return result, nil
}

// RequestStepUp appends a stronger factor (hardware token or biometric) to a
// pending elevated-risk session, raising requiredFactors by one
func (s *SessionService) RequestStepUp(ctx context.Context, sessionID string) (*models.AuthenticationSession, error) {
	err := s.sessions.Mutate(ctx, sessionID, func(session *models.AuthenticationSession) error {
		if session.Status.Terminal() {
			return terminalError(session.Status)
		}
		if session.RiskScore <= 75 {
			return fmt.Errorf("%w: step-up requires an elevated risk score", models.ErrValidation)
		}

		now := s.now()
		methods, err := s.methods.GetByUserID(ctx, session.UserID)
		if err != nil {
			s.logger.Error("failed to list methods for step-up", slog.Any("error", err))
			return models.ErrInternalServer
		}

		for _, method := range methods {
			if method.Type != models.FactorHardwareToken && method.Type != models.FactorBiometric {
				continue
			}
			if !method.Available(now) {
				continue
			}
			session.Factors = append(session.Factors, models.AuthenticationFactor{
				ID:         uuid.New().String(),
				MethodID:   method.ID,
				Type:       method.Type,
				Status:     models.FactorPending,
				MaxRetries: s.config.MaxAttempts,
				ExpiresAt:  now.Add(s.config.FactorTTL),
			})
			session.RequiredFactors++
			return nil
		}
		return models.ErrNoAvailableFactor
	})
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, sessionID)
}

// Cancel moves a pending session directly to failed and invalidates all
// pending factors. Callers may cancel at any time before a terminal state.
func (s *SessionService) Cancel(ctx context.Context, sessionID string) (*models.AuthenticationSession, error) {
	err := s.sessions.Mutate(ctx, sessionID, func(session *models.AuthenticationSession) error {
		if session.Status.Terminal() {
			return terminalError(session.Status)
		}
		session.Status = models.SessionFailed
		for i := range session.Factors {
			if session.Factors[i].Status == models.FactorPending {
				session.Factors[i].Status = models.FactorSkipped
			}
		}
		s.logger.Info("session cancelled", slog.String("session_id", session.ID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, sessionID)
}

// Status returns the session, applying lazy expiry first
func (s *SessionService) Status(ctx context.Context, sessionID string) (*models.AuthenticationSession, error) {
	err := s.sessions.Mutate(ctx, sessionID, func(session *models.AuthenticationSession) error {
		if !session.Status.Terminal() && session.Expired(s.now()) {
			session.Status = models.SessionExpired
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, sessionID)
}

func (s *SessionService) snapshot(ctx context.Context, sessionID string) (*models.AuthenticationSession, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// recordAttempt appends the attempt to the session and hands it to the
// audit recorder. Attempts are immutable once written.
func (s *SessionService) recordAttempt(ctx context.Context, session *models.AuthenticationSession, factorType models.FactorType, started time.Time, success bool, failureReason string) {
	attempt := models.AuthenticationAttempt{
		ID:          uuid.New().String(),
		SessionID:   session.ID,
		UserID:      session.UserID,
		FactorType:  factorType,
		Success:     success,
		IPAddress:   session.Device.IPAddress,
		UserAgent:   session.Device.UserAgent,
		AttemptedAt: started,
		Duration:    s.now().Sub(started),
	}
	if failureReason != "" {
		attempt.FailureReason = &failureReason
	}

	session.Attempts = append(session.Attempts, attempt)
	s.audit.Record(ctx, &attempt)
}

// deliveryDestination maps a method to its out-of-band destination, or ""
// for factor types verified in-process
func deliveryDestination(method *models.MFAMethod) string {
	switch method.Type {
	case models.FactorSMS:
		return method.Metadata.PhoneNumber
	case models.FactorEmail:
		return method.Metadata.EmailAddress
	case models.FactorPush:
		return method.Metadata.PushDeviceID
	}
	return ""
}

func terminalError(status models.SessionStatus) error {
	switch status {
	case models.SessionLocked:
		return models.ErrLocked
	case models.SessionExpired:
		return models.ErrExpired
	default:
		return models.ErrSessionTerminal
	}
}
