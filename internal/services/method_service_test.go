package services

import (
	"context"
	"log/slog"
	"testing"

	"github.com/mhutchens/stepauth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newMethodFixture(t *testing.T) (*MethodService, *MockMethodRepository) {
	t.Helper()
	repo := &MockMethodRepository{}
	return NewMethodService(repo, NewTestTOTPEngine(t), slog.Default()), repo
}

func TestMethodService_RegisterTOTP(t *testing.T) {
	svc, repo := newMethodFixture(t)

	var created *models.MFAMethod
	repo.CreateFunc = func(ctx context.Context, method *models.MFAMethod) error {
		method.ID = "method_1"
		created = method
		return nil
	}

	result, err := svc.Register(context.Background(), "user_1", RegistrationInput{
		Type: models.FactorTOTP,
		Name: "Authenticator app",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.Secret)
	assert.NotEmpty(t, result.QRCode)
	require.NotNil(t, created)
	assert.True(t, created.Primary)
	assert.True(t, created.Enabled)
	// Only the encrypted form is stored
	assert.NotEmpty(t, created.Metadata.SecretEncrypted)
	assert.NotEmpty(t, created.Metadata.SecretNonce)
	assert.NotContains(t, created.Metadata.SecretEncrypted, result.Secret)
}

func TestMethodService_RegisterBackupCodes(t *testing.T) {
	svc, repo := newMethodFixture(t)

	var created *models.MFAMethod
	repo.CreateFunc = func(ctx context.Context, method *models.MFAMethod) error {
		method.ID = "method_1"
		created = method
		return nil
	}

	result, err := svc.Register(context.Background(), "user_1", RegistrationInput{
		Type: models.FactorBackupCodes,
		Name: "Backup codes",
	})
	require.NoError(t, err)

	require.Len(t, result.BackupCodes, backupCodeCount)
	require.Len(t, created.Metadata.BackupCodes, backupCodeCount)
	for i, code := range result.BackupCodes {
		entry := created.Metadata.BackupCodes[i]
		assert.Nil(t, entry.UsedAt)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(entry.CodeHash), []byte(code)))
	}
}

func TestMethodService_SecondMethodIsNotPrimary(t *testing.T) {
	svc, repo := newMethodFixture(t)

	repo.GetByUserIDFunc = func(ctx context.Context, userID string) ([]models.MFAMethod, error) {
		return []models.MFAMethod{{ID: "method_existing", Primary: true}}, nil
	}
	var created *models.MFAMethod
	repo.CreateFunc = func(ctx context.Context, method *models.MFAMethod) error {
		created = method
		return nil
	}

	_, err := svc.Register(context.Background(), "user_1", RegistrationInput{
		Type:        models.FactorSMS,
		Name:        "Work phone",
		PhoneNumber: "+61400000000",
	})
	require.NoError(t, err)
	assert.False(t, created.Primary)
}

func TestMethodService_RegisterValidation(t *testing.T) {
	tests := []struct {
		name  string
		input RegistrationInput
	}{
		{name: "unknown type", input: RegistrationInput{Type: "carrier_pigeon", Name: "Pigeon"}},
		{name: "password not registrable", input: RegistrationInput{Type: models.FactorPassword, Name: "Password"}},
		{name: "sms without phone", input: RegistrationInput{Type: models.FactorSMS, Name: "Phone"}},
		{name: "email without address", input: RegistrationInput{Type: models.FactorEmail, Name: "Email"}},
		{name: "push without device", input: RegistrationInput{Type: models.FactorPush, Name: "Push"}},
		{name: "hardware token without key", input: RegistrationInput{Type: models.FactorHardwareToken, Name: "Key"}},
		{name: "missing name", input: RegistrationInput{Type: models.FactorTOTP, Name: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newMethodFixture(t)
			createCalls := 0
			repo.CreateFunc = func(ctx context.Context, method *models.MFAMethod) error {
				createCalls++
				return nil
			}

			_, err := svc.Register(context.Background(), "user_1", tt.input)
			assert.ErrorIs(t, err, models.ErrValidation)
			// Nothing is persisted for malformed registrations
			assert.Equal(t, 0, createCalls)
		})
	}
}

func TestMethodService_DisableRequiresOwnership(t *testing.T) {
	svc, repo := newMethodFixture(t)
	repo.GetByIDFunc = func(ctx context.Context, methodID string) (*models.MFAMethod, error) {
		return &models.MFAMethod{ID: methodID, UserID: "user_1"}, nil
	}

	err := svc.Disable(context.Background(), "user_2", "method_1")
	assert.ErrorIs(t, err, models.ErrForbidden)

	err = svc.Disable(context.Background(), "user_1", "method_1")
	assert.NoError(t, err)
}

func TestMethodService_DisableUnknownMethod(t *testing.T) {
	svc, _ := newMethodFixture(t)

	err := svc.Disable(context.Background(), "user_1", "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMethodService_Promote(t *testing.T) {
	svc, repo := newMethodFixture(t)

	var gotUser, gotMethod string
	repo.SetPrimaryFunc = func(ctx context.Context, userID, methodID string) error {
		gotUser, gotMethod = userID, methodID
		return nil
	}

	require.NoError(t, svc.Promote(context.Background(), "user_1", "method_2"))
	assert.Equal(t, "user_1", gotUser)
	assert.Equal(t, "method_2", gotMethod)
}
