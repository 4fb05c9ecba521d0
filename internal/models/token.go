package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the JWT claims carried by issued tokens.
// Every token is bound to the session and device fingerprint that produced it
// so it cannot be replayed from another device.
type TokenClaims struct {
	Type              string `json:"typ"` // "access", "refresh" or "id"
	UserID            string `json:"uid"`
	SessionID         string `json:"sid"`
	DeviceFingerprint string `json:"dfp"`
	Scope             string `json:"scope,omitempty"`
	MaxUses           int    `json:"max_uses,omitempty"` // refresh tokens only
	jwt.RegisteredClaims
}

// TokenSet is the bundle minted when a session reaches authenticated
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}
