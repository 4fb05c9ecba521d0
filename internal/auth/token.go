package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mhutchens/stepauth/internal/models"
)

// TokenIssuer mints the access/refresh/id token set for a completed session.
// Tokens are bound to the session id and a hash of the device fingerprint so
// they cannot be replayed from another device.
type TokenIssuer struct {
	secret             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	refreshMaxUses     int
	now                func() time.Time
}

// NewTokenIssuer creates a TokenIssuer
func NewTokenIssuer(secret string, accessExpiry, refreshExpiry time.Duration, refreshMaxUses int) *TokenIssuer {
	return &TokenIssuer{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		refreshMaxUses:     refreshMaxUses,
		now:                time.Now,
	}
}

// SetClock overrides the time source, for tests
func (ti *TokenIssuer) SetClock(now func() time.Time) {
	ti.now = now
}

// Issue mints the token set for session. The session must be authenticated;
// issuance for any other state is an error.
func (ti *TokenIssuer) Issue(session *models.AuthenticationSession) (*models.TokenSet, error) {
	if session.Status != models.SessionAuthenticated {
		return nil, models.ErrTokenNotIssuable
	}

	fingerprint := HashDeviceFingerprint(session.Device.Fingerprint)

	access, err := ti.sign(&models.TokenClaims{
		Type:              "access",
		UserID:            session.UserID,
		SessionID:         session.ID,
		DeviceFingerprint: fingerprint,
		Scope:             "session:full",
	}, ti.accessTokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh, err := ti.sign(&models.TokenClaims{
		Type:              "refresh",
		UserID:            session.UserID,
		SessionID:         session.ID,
		DeviceFingerprint: fingerprint,
		MaxUses:           ti.refreshMaxUses,
	}, ti.refreshTokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	id, err := ti.sign(&models.TokenClaims{
		Type:              "id",
		UserID:            session.UserID,
		SessionID:         session.ID,
		DeviceFingerprint: fingerprint,
	}, ti.accessTokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign id token: %w", err)
	}

	return &models.TokenSet{
		AccessToken:  access,
		RefreshToken: refresh,
		IDToken:      id,
		ExpiresIn:    int64(ti.accessTokenExpiry.Seconds()),
	}, nil
}

// Validate verifies a token string and returns its claims
func (ti *TokenIssuer) Validate(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(ti.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, models.ErrForbidden
	}
	if claims.Type == "" {
		return nil, fmt.Errorf("invalid token: missing type")
	}

	return claims, nil
}

func (ti *TokenIssuer) sign(claims *models.TokenClaims, ttl time.Duration) (string, error) {
	now := ti.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(ti.secret))
}

// HashDeviceFingerprint hashes a raw device fingerprint for token binding and
// storage; raw fingerprints never leave the session snapshot
func HashDeviceFingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:32]
}
