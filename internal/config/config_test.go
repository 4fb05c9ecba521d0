package config

import (
	"encoding/base64"
	"os"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	t.Cleanup(os.Clearenv)
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"AccessTokenExpiry", cfg.Auth.AccessTokenExpiry, 15 * time.Minute},
		{"RefreshTokenExpiry", cfg.Auth.RefreshTokenExpiry, 7 * 24 * time.Hour},
		{"LockoutDuration", cfg.Session.LockoutDuration, 15 * time.Minute},
		{"SessionDuration", cfg.Session.SessionDuration, 10 * time.Minute},
		{"MaxIdleTime", cfg.Session.MaxIdleTime, 5 * time.Minute},
		{"FactorTTL", cfg.Session.FactorTTL, 5 * time.Minute},
		{"RiskLookupTimeout", cfg.Risk.LookupTimeout, 5 * time.Second},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}

	if cfg.Session.MaxAttempts != 3 {
		t.Errorf("MaxAttempts: got %d, want 3", cfg.Session.MaxAttempts)
	}
	if cfg.Auth.RefreshMaxUses != 10 {
		t.Errorf("RefreshMaxUses: got %d, want 10", cfg.Auth.RefreshMaxUses)
	}
	if len(cfg.Auth.TOTPEncryptionKey) != 32 {
		t.Errorf("TOTPEncryptionKey: got %d bytes, want 32", len(cfg.Auth.TOTPEncryptionKey))
	}
}

func TestLoad_CustomSessionPolicy(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("SESSION_MAX_ATTEMPTS", "5")
	os.Setenv("SESSION_LOCKOUT_DURATION", "30m")
	os.Setenv("SESSION_DURATION", "20m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Session.MaxAttempts != 5 {
		t.Errorf("MaxAttempts: got %d, want 5", cfg.Session.MaxAttempts)
	}
	if cfg.Session.LockoutDuration != 30*time.Minute {
		t.Errorf("LockoutDuration: got %v, want 30m", cfg.Session.LockoutDuration)
	}
	if cfg.Session.SessionDuration != 20*time.Minute {
		t.Errorf("SessionDuration: got %v, want 20m", cfg.Session.SessionDuration)
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("SESSION_DURATION", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Session.SessionDuration != 10*time.Minute {
		t.Errorf("SessionDuration with invalid value: got %v, want 10m", cfg.Session.SessionDuration)
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_PASSWORD", "test")
	t.Cleanup(os.Clearenv)

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for missing JWT_SECRET")
	}
}

func TestLoad_WeakJWTSecretRejected(t *testing.T) {
	os.Clearenv()
	os.Setenv("JWT_SECRET", "short")
	os.Setenv("DB_PASSWORD", "test")
	t.Cleanup(os.Clearenv)

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for short JWT_SECRET")
	}
}

func TestLoad_TOTPEncryptionKey(t *testing.T) {
	setRequiredEnv(t)

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	os.Setenv("TOTP_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if len(cfg.Auth.TOTPEncryptionKey) != 32 {
		t.Errorf("TOTPEncryptionKey: got %d bytes, want 32", len(cfg.Auth.TOTPEncryptionKey))
	}
}

func TestLoad_TOTPEncryptionKeyWrongSize(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("TOTP_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("too-short")))

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for undersized TOTP key")
	}
}

func TestLoad_TOTPEncryptionKeyRequiredInProduction(t *testing.T) {
	os.Clearenv()
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("ENV", "production")
	t.Cleanup(os.Clearenv)

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil, want error for missing production TOTP key")
	}
}
