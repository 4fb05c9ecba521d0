package models

import (
	"time"
)

// FactorType identifies the kind of proof a factor or method provides
type FactorType string

const (
	FactorPassword      FactorType = "password"
	FactorTOTP          FactorType = "totp"
	FactorSMS           FactorType = "sms"
	FactorEmail         FactorType = "email"
	FactorPush          FactorType = "push"
	FactorHardwareToken FactorType = "hardware_token"
	FactorBiometric     FactorType = "biometric"
	FactorBackupCodes   FactorType = "backup_codes"
)

// ValidFactorType reports whether t names a supported factor type
func ValidFactorType(t FactorType) bool {
	switch t {
	case FactorPassword, FactorTOTP, FactorSMS, FactorEmail, FactorPush,
		FactorHardwareToken, FactorBiometric, FactorBackupCodes:
		return true
	}
	return false
}

// MFAMethod represents a registered MFA method for a user.
// Methods are never hard-deleted, only soft-disabled.
type MFAMethod struct {
	ID       string
	UserID   string
	Type     FactorType
	Name     string
	Enabled  bool
	Primary  bool
	Metadata MethodMetadata

	// Usage counters, mutated on every verification attempt
	SuccessCount int
	FailureCount int
	Locked       bool
	LockUntil    *time.Time
	LastUsedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MethodMetadata holds type-specific registration data.
// The TOTP secret is stored AES-256-GCM encrypted, never in plaintext.
type MethodMetadata struct {
	PhoneNumber     string            `json:"phone_number,omitempty"`
	EmailAddress    string            `json:"email_address,omitempty"`
	PushDeviceID    string            `json:"push_device_id,omitempty"`
	SecretEncrypted []byte            `json:"secret_encrypted,omitempty"`
	SecretNonce     []byte            `json:"secret_nonce,omitempty"`
	PublicKey       string            `json:"public_key,omitempty"` // hardware token verification key
	BackupCodes     []BackupCodeEntry `json:"backup_codes,omitempty"`
}

// BackupCodeEntry represents a single pre-issued backup code
type BackupCodeEntry struct {
	CodeHash  string     `json:"code_hash"` // bcrypt hash of the code
	UsedAt    *time.Time `json:"used_at"`   // nil = unused
	CreatedAt time.Time  `json:"created_at"`
}

// IsLocked reports whether the method is locked at the given instant
func (m *MFAMethod) IsLocked(now time.Time) bool {
	return m.Locked && m.LockUntil != nil && now.Before(*m.LockUntil)
}

// Available reports whether the method can serve a new factor
func (m *MFAMethod) Available(now time.Time) bool {
	return m.Enabled && !m.IsLocked(now)
}
