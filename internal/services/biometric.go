package services

import (
	"context"
	"fmt"

	"github.com/mhutchens/stepauth/internal/models"
)

// UnconfiguredBiometricMatcher rejects every biometric sample. It stands in
// until a real matcher backend (platform authenticator, vendor SDK) is wired
// up, so biometric methods fail closed instead of panicking on a nil field.
type UnconfiguredBiometricMatcher struct{}

// NewUnconfiguredBiometricMatcher creates an UnconfiguredBiometricMatcher
func NewUnconfiguredBiometricMatcher() *UnconfiguredBiometricMatcher {
	return &UnconfiguredBiometricMatcher{}
}

// Match always reports that no matcher backend is available
func (m *UnconfiguredBiometricMatcher) Match(ctx context.Context, userID, sample string) (float64, error) {
	return 0, fmt.Errorf("%w: no biometric matcher is configured", models.ErrValidation)
}
