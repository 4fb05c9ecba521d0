package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod     = 30
	totpSecretSize = 32
)

// TOTPEngine generates and verifies time-windowed one-time codes and manages
// per-registration secrets. Secrets are AES-256-GCM encrypted at rest.
// Generate and Verify are pure; retry accounting lives with the caller.
type TOTPEngine struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // issuer name for provisioning URLs
}

// NewTOTPEngine creates a TOTP engine.
// encryptionKey must be exactly 32 bytes for AES-256.
func NewTOTPEngine(encryptionKey []byte, issuer string) (*TOTPEngine, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}
	return &TOTPEngine{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// Enrollment is the material produced when a new TOTP method is registered
type Enrollment struct {
	SecretEncrypted []byte
	SecretNonce     []byte
	Secret          string // base32 secret, shown to the user once
	QRCodeDataURL   string
}

// Enroll generates a fresh secret for accountName, encrypts it for storage and
// renders the provisioning QR code
func (e *TOTPEngine) Enroll(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := e.EncryptSecret([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &Enrollment{
		SecretEncrypted: encrypted,
		SecretNonce:     nonce,
		Secret:          key.Secret(),
		QRCodeDataURL:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM.
// Returns (ciphertext, nonce, error).
func (e *TOTPEngine) EncryptSecret(secret []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(e.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, secret, nil), nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret
func (e *TOTPEngine) DecryptSecret(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}

// Generate derives the 6-digit code for secret at the given instant
func (e *TOTPEngine) Generate(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP code: %w", err)
	}
	return code, nil
}

// Verify reports whether code matches secret at the given instant, accepting
// any time step within ±window steps (window×30s of clock drift)
func (e *TOTPEngine) Verify(secret, code string, window uint, at time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      window,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}
	return valid, nil
}

// VerifyWithReplayGuard is Verify plus a replay check: a code presented within
// the accept window of the method's last successful use is rejected
func (e *TOTPEngine) VerifyWithReplayGuard(secret, code string, window uint, at time.Time, lastUsedAt *time.Time) (bool, error) {
	valid, err := e.Verify(secret, code, window, at)
	if err != nil || !valid {
		return false, err
	}

	if lastUsedAt != nil {
		guard := time.Duration(2*window+1) * totpPeriod * time.Second
		if at.Sub(*lastUsedAt) < guard {
			return false, fmt.Errorf("code replay detected")
		}
	}
	return true, nil
}

// GenerateBackupCodes generates count random backup codes.
// Format: 8 characters, A-Z 2-9 excluding ambiguous glyphs (0/O, 1/I/L).
func (e *TOTPEngine) GenerateBackupCodes(count int) ([]string, error) {
	const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	codes := make([]string, count)
	buf := make([]byte, 8)
	for i := 0; i < count; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate random bytes: %w", err)
		}
		code := make([]byte, 8)
		for j, b := range buf {
			code[j] = charset[b%byte(len(charset))]
		}
		codes[i] = string(code)
	}
	return codes, nil
}
