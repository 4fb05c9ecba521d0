package models

import (
	"time"
)

// SessionStatus is the lifecycle state of an authentication session.
// Terminal states (everything except pending) never transition again.
type SessionStatus string

const (
	SessionPending       SessionStatus = "pending"
	SessionAuthenticated SessionStatus = "authenticated"
	SessionFailed        SessionStatus = "failed"
	SessionExpired       SessionStatus = "expired"
	SessionLocked        SessionStatus = "locked"
)

// Terminal reports whether the status admits no further transitions
func (s SessionStatus) Terminal() bool {
	return s != SessionPending
}

// FactorStatus is the lifecycle state of a single factor within a session
type FactorStatus string

const (
	FactorPending  FactorStatus = "pending"
	FactorVerified FactorStatus = "verified"
	FactorFailed   FactorStatus = "failed"
	FactorExpired  FactorStatus = "expired"
	FactorSkipped  FactorStatus = "skipped"
)

// DeviceContext is a snapshot of the device/session context captured at login start
type DeviceContext struct {
	Fingerprint string `json:"fingerprint"`
	IPAddress   string `json:"ip_address"`
	UserAgent   string `json:"user_agent"`
	Location    string `json:"location,omitempty"` // e.g. "AU:Sydney"
	Timezone    string `json:"timezone,omitempty"` // IANA name, used for off-hours checks
}

// SessionPolicy is the policy snapshot taken when the session is created
type SessionPolicy struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	SessionDuration time.Duration
	MaxIdleTime     time.Duration
	FactorTTL       time.Duration
}

// AuthenticationFactor is a single proof the session requires.
// A factor belongs exclusively to one session.
type AuthenticationFactor struct {
	ID         string       `json:"id"`
	MethodID   string       `json:"method_id,omitempty"` // empty for the password factor
	Type       FactorType   `json:"type"`
	Status     FactorStatus `json:"status"`
	RetryCount int          `json:"retry_count"`
	MaxRetries int          `json:"max_retries"`
	ExpiresAt  time.Time    `json:"expires_at"`
	DeliveryID string       `json:"-"` // challenge handle for sms/email/push codes
}

// AuthenticationSession tracks a login from start to a terminal state.
// Mutated only by the session manager; the store serializes writers per session.
type AuthenticationSession struct {
	ID               string
	UserID           string
	Status           SessionStatus
	Factors          []AuthenticationFactor
	RequiredFactors  int
	CompletedFactors int

	Device      DeviceContext
	RiskScore   int
	RiskFactors []string

	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time

	Policy   SessionPolicy
	Attempts []AuthenticationAttempt

	Version int // bumped on every write, guards against lost updates
}

// Expired reports whether the session is past its deadline or idle limit
func (s *AuthenticationSession) Expired(now time.Time) bool {
	if now.After(s.ExpiresAt) {
		return true
	}
	if s.Policy.MaxIdleTime > 0 && now.Sub(s.LastActivityAt) > s.Policy.MaxIdleTime {
		return true
	}
	return false
}

// FactorByID returns the factor with the given id, or nil
func (s *AuthenticationSession) FactorByID(factorID string) *AuthenticationFactor {
	for i := range s.Factors {
		if s.Factors[i].ID == factorID {
			return &s.Factors[i]
		}
	}
	return nil
}

// NextPendingFactor returns the first factor still awaiting verification, or nil
func (s *AuthenticationSession) NextPendingFactor() *AuthenticationFactor {
	for i := range s.Factors {
		if s.Factors[i].Status == FactorPending {
			return &s.Factors[i]
		}
	}
	return nil
}

// AuthenticationAttempt is an immutable, append-only audit record of one
// verification outcome.
type AuthenticationAttempt struct {
	ID            string
	SessionID     string
	UserID        string
	FactorType    FactorType
	Success       bool
	FailureReason *string
	IPAddress     string
	UserAgent     string
	AttemptedAt   time.Time
	Duration      time.Duration
}
