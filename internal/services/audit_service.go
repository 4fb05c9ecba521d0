package services

import (
	"context"
	"log/slog"

	"github.com/mhutchens/stepauth/internal/models"
	"github.com/mhutchens/stepauth/internal/repositories"
	pkglogger "github.com/mhutchens/stepauth/pkg/logger"
)

// AuditRecorder receives immutable authentication attempt records
type AuditRecorder interface {
	Record(ctx context.Context, attempt *models.AuthenticationAttempt)
}

// AuditService records attempts with a dual-write pattern (structured log +
// database). Persistence failures are logged but never fail the
// authentication path.
type AuditService struct {
	repo   repositories.AttemptRepository
	audit  *pkglogger.AuditLogger
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo repositories.AttemptRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		audit:  pkglogger.NewAuditLogger(logger),
		logger: logger,
	}
}

// Record logs and persists one authentication attempt
func (s *AuditService) Record(ctx context.Context, attempt *models.AuthenticationAttempt) {
	event := pkglogger.AuditEvent{
		EventType:  "factor_verification",
		SessionID:  attempt.SessionID,
		UserID:     attempt.UserID,
		FactorType: string(attempt.FactorType),
		IPAddress:  attempt.IPAddress,
		UserAgent:  attempt.UserAgent,
		Success:    attempt.Success,
		Duration:   attempt.Duration,
	}
	if attempt.FailureReason != nil {
		event.FailureReason = *attempt.FailureReason
	}
	s.audit.LogVerificationAttempt(ctx, event)

	if err := s.repo.Record(ctx, attempt); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist authentication attempt",
			slog.String("session_id", attempt.SessionID),
			slog.Any("error", err))
	}
}
