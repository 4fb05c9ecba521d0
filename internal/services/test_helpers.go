package services

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mhutchens/stepauth/internal/auth"
	"github.com/mhutchens/stepauth/internal/models"
	"github.com/mhutchens/stepauth/internal/risk"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// MockMethodRepository implements repositories.MethodRepository with
// overridable functions
type MockMethodRepository struct {
	CreateFunc         func(ctx context.Context, method *models.MFAMethod) error
	GetByIDFunc        func(ctx context.Context, methodID string) (*models.MFAMethod, error)
	GetByUserIDFunc    func(ctx context.Context, userID string) ([]models.MFAMethod, error)
	GetPrimaryFunc     func(ctx context.Context, userID string) (*models.MFAMethod, error)
	SetPrimaryFunc     func(ctx context.Context, userID, methodID string) error
	SetLockedFunc      func(ctx context.Context, methodID string, lockUntil *time.Time) error
	RecordUsageFunc    func(ctx context.Context, methodID string, success bool) error
	UpdateMetadataFunc func(ctx context.Context, methodID string, metadata models.MethodMetadata) error
	DisableFunc        func(ctx context.Context, methodID string) error
}

func (m *MockMethodRepository) Create(ctx context.Context, method *models.MFAMethod) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, method)
	}
	method.ID = "method_mock"
	return nil
}

func (m *MockMethodRepository) GetByID(ctx context.Context, methodID string) (*models.MFAMethod, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, methodID)
	}
	return nil, models.ErrNotFound
}

func (m *MockMethodRepository) GetByUserID(ctx context.Context, userID string) ([]models.MFAMethod, error) {
	if m.GetByUserIDFunc != nil {
		return m.GetByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockMethodRepository) GetPrimary(ctx context.Context, userID string) (*models.MFAMethod, error) {
	if m.GetPrimaryFunc != nil {
		return m.GetPrimaryFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockMethodRepository) SetPrimary(ctx context.Context, userID, methodID string) error {
	if m.SetPrimaryFunc != nil {
		return m.SetPrimaryFunc(ctx, userID, methodID)
	}
	return nil
}

func (m *MockMethodRepository) SetLocked(ctx context.Context, methodID string, lockUntil *time.Time) error {
	if m.SetLockedFunc != nil {
		return m.SetLockedFunc(ctx, methodID, lockUntil)
	}
	return nil
}

func (m *MockMethodRepository) RecordUsage(ctx context.Context, methodID string, success bool) error {
	if m.RecordUsageFunc != nil {
		return m.RecordUsageFunc(ctx, methodID, success)
	}
	return nil
}

func (m *MockMethodRepository) UpdateMetadata(ctx context.Context, methodID string, metadata models.MethodMetadata) error {
	if m.UpdateMetadataFunc != nil {
		return m.UpdateMetadataFunc(ctx, methodID, metadata)
	}
	return nil
}

func (m *MockMethodRepository) Disable(ctx context.Context, methodID string) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, methodID)
	}
	return nil
}

// MockCredentialStore implements CredentialStore
type MockCredentialStore struct {
	PasswordHashFunc func(ctx context.Context, userID string) (string, error)
}

func (m *MockCredentialStore) PasswordHash(ctx context.Context, userID string) (string, error) {
	if m.PasswordHashFunc != nil {
		return m.PasswordHashFunc(ctx, userID)
	}
	return "", models.ErrNotFound
}

// MockBiometricMatcher implements BiometricMatcher
type MockBiometricMatcher struct {
	MatchFunc func(ctx context.Context, userID, sample string) (float64, error)
}

func (m *MockBiometricMatcher) Match(ctx context.Context, userID, sample string) (float64, error) {
	if m.MatchFunc != nil {
		return m.MatchFunc(ctx, userID, sample)
	}
	return 0, nil
}

// MockChallengeVerifier implements ChallengeVerifier
type MockChallengeVerifier struct {
	VerifySignatureFunc func(ctx context.Context, userID, publicKey, signedResponse string) (bool, error)
}

func (m *MockChallengeVerifier) VerifySignature(ctx context.Context, userID, publicKey, signedResponse string) (bool, error) {
	if m.VerifySignatureFunc != nil {
		return m.VerifySignatureFunc(ctx, userID, publicKey, signedResponse)
	}
	return false, nil
}

// MockDelivery implements CodeDelivery
type MockDelivery struct {
	SendFunc   func(ctx context.Context, destination string) (string, error)
	VerifyFunc func(ctx context.Context, deliveryID, code string) (bool, error)
}

func (m *MockDelivery) Send(ctx context.Context, destination string) (string, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, destination)
	}
	return "delivery_mock", nil
}

func (m *MockDelivery) Verify(ctx context.Context, deliveryID, code string) (bool, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, deliveryID, code)
	}
	return false, nil
}

// RecordingAudit captures attempts handed to the audit recorder
type RecordingAudit struct {
	mu       sync.Mutex
	Attempts []models.AuthenticationAttempt
}

func (r *RecordingAudit) Record(ctx context.Context, attempt *models.AuthenticationAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Attempts = append(r.Attempts, *attempt)
}

func (r *RecordingAudit) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Attempts)
}

// Stub risk lookups with fixed answers
type stubDeviceTrust struct {
	trusted bool
	err     error
}

func (s stubDeviceTrust) IsTrusted(ctx context.Context, userID, fingerprint string) (bool, error) {
	return s.trusted, s.err
}

type stubLocationHistory struct {
	locations []string
	err       error
}

func (s stubLocationHistory) KnownLocations(ctx context.Context, userID string) ([]string, error) {
	return s.locations, s.err
}

type stubIPReputation struct {
	flagged bool
	err     error
}

func (s stubIPReputation) IsFlagged(ctx context.Context, ipAddress string) (bool, error) {
	return s.flagged, s.err
}

// NewLowRiskScorer returns a scorer whose lookups all come back clean
// (score 0 with a trusted device at midday)
func NewLowRiskScorer(clock func() time.Time) *risk.Scorer {
	s := risk.NewScorer(
		stubDeviceTrust{trusted: true},
		stubLocationHistory{locations: []string{"AU:Sydney"}},
		stubIPReputation{},
		time.Second,
		slog.Default(),
	)
	s.SetClock(clock)
	return s
}

// NewElevatedRiskScorer returns a scorer that sees an untrusted device at an
// unknown location (score 55, MFA required, no step-up)
func NewElevatedRiskScorer(clock func() time.Time) *risk.Scorer {
	s := risk.NewScorer(
		stubDeviceTrust{trusted: false},
		stubLocationHistory{locations: []string{"NZ:Auckland"}},
		stubIPReputation{},
		time.Second,
		slog.Default(),
	)
	s.SetClock(clock)
	return s
}

// NewTestTOTPEngine returns an engine with a random key
func NewTestTOTPEngine(t *testing.T) *auth.TOTPEngine {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	engine, err := auth.NewTOTPEngine(key, "StepAuth")
	require.NoError(t, err)
	return engine
}

// NewTestTOTPMethod builds a verified TOTP method whose secret the engine can
// decrypt, returning the method and the plaintext secret
func NewTestTOTPMethod(t *testing.T, engine *auth.TOTPEngine, methodID, userID string) (*models.MFAMethod, string) {
	t.Helper()
	enrollment, err := engine.Enroll(userID)
	require.NoError(t, err)

	return &models.MFAMethod{
		ID:      methodID,
		UserID:  userID,
		Type:    models.FactorTOTP,
		Name:    "Authenticator",
		Enabled: true,
		Primary: true,
		Metadata: models.MethodMetadata{
			SecretEncrypted: enrollment.SecretEncrypted,
			SecretNonce:     enrollment.SecretNonce,
		},
	}, enrollment.Secret
}

// HashTestPassword bcrypt-hashes a password at minimum cost for fast tests
func HashTestPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

// baseTestDevice is the context used across engine tests
func baseTestDevice() models.DeviceContext {
	return models.DeviceContext{
		Fingerprint: "fp-test-device",
		IPAddress:   "203.0.113.9",
		UserAgent:   "test-agent/1.0",
		Location:    "AU:Sydney",
		Timezone:    "UTC",
	}
}

// testMidday is a fixed instant inside working hours
func testMidday() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 15, 0, time.UTC)
}
