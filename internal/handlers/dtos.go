package handlers

import (
	"time"

	"github.com/mhutchens/stepauth/internal/models"
)

// StartSessionRequest begins an authentication session
type StartSessionRequest struct {
	UserID   string        `json:"user_id" validate:"required,max=64"`
	ForceMFA bool          `json:"force_mfa"`
	Device   DeviceRequest `json:"device" validate:"required"`
}

// DeviceRequest carries the client device context. The IP address is filled
// server-side and ignored if supplied.
type DeviceRequest struct {
	Fingerprint string `json:"fingerprint" validate:"required,max=256"`
	UserAgent   string `json:"user_agent" validate:"max=512"`
	Location    string `json:"location" validate:"max=128"`
	Timezone    string `json:"timezone" validate:"max=64"`
}

// VerifyFactorRequest submits a response for one pending factor
type VerifyFactorRequest struct {
	Response string `json:"response" validate:"required,max=4096"`
	UserID   string `json:"user_id" validate:"max=64"`
}

// RegisterMethodRequest enrolls a new MFA method
type RegisterMethodRequest struct {
	UserID       string `json:"user_id" validate:"required,max=64"`
	Type         string `json:"type" validate:"required,oneof=totp sms email push hardware_token biometric backup_codes"`
	Name         string `json:"name" validate:"required,max=128"`
	PhoneNumber  string `json:"phone_number" validate:"omitempty,e164"`
	EmailAddress string `json:"email_address" validate:"omitempty,email"`
	PushDeviceID string `json:"push_device_id" validate:"max=256"`
	PublicKey    string `json:"public_key" validate:"max=4096"`
}

// PromoteMethodRequest marks a method as primary
type PromoteMethodRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

// FactorResponse is the API view of a session factor
type FactorResponse struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionResponse is the API view of a session. Device fingerprints and
// delivery ids never leave the engine.
type SessionResponse struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Status           string           `json:"status"`
	RiskScore        int              `json:"risk_score"`
	RiskFactors      []string         `json:"risk_factors,omitempty"`
	RequiredFactors  int              `json:"required_factors"`
	CompletedFactors int              `json:"completed_factors"`
	Factors          []FactorResponse `json:"factors"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
}

// VerifyFactorResponse is the outcome of a verification call
type VerifyFactorResponse struct {
	Success        bool             `json:"success"`
	Session        SessionResponse  `json:"session"`
	NextFactorID   string           `json:"next_factor_id,omitempty"`
	RequiresStepUp bool             `json:"requires_step_up"`
	Tokens         *models.TokenSet `json:"tokens,omitempty"`
}

// RegisterMethodResponse returns the stored method plus one-time enrollment
// material
type RegisterMethodResponse struct {
	MethodID    string   `json:"method_id"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Primary     bool     `json:"primary"`
	Secret      string   `json:"secret,omitempty"`
	QRCode      string   `json:"qr_code,omitempty"`
	BackupCodes []string `json:"backup_codes,omitempty"`
}

// MethodResponse is the API view of a registered method
type MethodResponse struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Name       string     `json:"name"`
	Enabled    bool       `json:"enabled"`
	Primary    bool       `json:"primary"`
	Locked     bool       `json:"locked"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toSessionResponse(session *models.AuthenticationSession) SessionResponse {
	factors := make([]FactorResponse, len(session.Factors))
	for i, f := range session.Factors {
		factors[i] = FactorResponse{
			ID:         f.ID,
			Type:       string(f.Type),
			Status:     string(f.Status),
			RetryCount: f.RetryCount,
			MaxRetries: f.MaxRetries,
			ExpiresAt:  f.ExpiresAt,
		}
	}

	return SessionResponse{
		ID:               session.ID,
		UserID:           session.UserID,
		Status:           string(session.Status),
		RiskScore:        session.RiskScore,
		RiskFactors:      session.RiskFactors,
		RequiredFactors:  session.RequiredFactors,
		CompletedFactors: session.CompletedFactors,
		Factors:          factors,
		CreatedAt:        session.CreatedAt,
		ExpiresAt:        session.ExpiresAt,
	}
}

func toMethodResponse(method *models.MFAMethod) MethodResponse {
	return MethodResponse{
		ID:         method.ID,
		Type:       string(method.Type),
		Name:       method.Name,
		Enabled:    method.Enabled,
		Primary:    method.Primary,
		Locked:     method.Locked,
		LastUsedAt: method.LastUsedAt,
		CreatedAt:  method.CreatedAt,
	}
}
