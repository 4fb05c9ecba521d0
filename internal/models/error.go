package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrForbidden      = errors.New("forbidden")
	ErrInternalServer = errors.New("internal server error")

	// Session engine errors
	ErrValidation         = errors.New("invalid input")
	ErrVerificationFailed = errors.New("verification failed")
	ErrLocked             = errors.New("method is temporarily locked")
	ErrExpired            = errors.New("session or factor has expired")
	ErrTransient          = errors.New("transient upstream failure")
	ErrNoAvailableFactor  = errors.New("no available MFA factor")
	ErrSessionTerminal    = errors.New("session is in a terminal state")
	ErrTokenNotIssuable   = errors.New("session is not authenticated")
)
