package risk

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mhutchens/stepauth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDeviceTrust struct {
	trusted bool
	err     error
}

func (m *mockDeviceTrust) IsTrusted(ctx context.Context, userID, fingerprint string) (bool, error) {
	return m.trusted, m.err
}

type mockLocationHistory struct {
	locations []string
	err       error
}

func (m *mockLocationHistory) KnownLocations(ctx context.Context, userID string) ([]string, error) {
	return m.locations, m.err
}

type mockIPReputation struct {
	flagged bool
	err     error
}

func (m *mockIPReputation) IsFlagged(ctx context.Context, ipAddress string) (bool, error) {
	return m.flagged, m.err
}

// middayClock returns a fixed instant at 12:00 UTC so the off-hours signal stays quiet
func middayClock() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func nightClock() time.Time {
	return time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
}

func newTestScorer(dt *mockDeviceTrust, lh *mockLocationHistory, ip *mockIPReputation) *Scorer {
	s := NewScorer(dt, lh, ip, time.Second, slog.Default())
	s.SetClock(middayClock)
	return s
}

func baselineDevice() models.DeviceContext {
	return models.DeviceContext{
		Fingerprint: "fp-1",
		IPAddress:   "203.0.113.9",
		Location:    "AU:Sydney",
		Timezone:    "UTC",
	}
}

func TestScorer_NoConditions_ZeroScore(t *testing.T) {
	s := newTestScorer(
		&mockDeviceTrust{trusted: true},
		&mockLocationHistory{locations: []string{"AU:Sydney"}},
		&mockIPReputation{flagged: false},
	)

	a := s.Score(context.Background(), "user1", baselineDevice())

	assert.Equal(t, 0, a.Score)
	assert.Empty(t, a.RiskFactors)
	assert.False(t, a.RequireMFA)
	assert.False(t, a.RequiresStepUp)
}

func TestScorer_IndividualWeights(t *testing.T) {
	tests := []struct {
		name       string
		devices    *mockDeviceTrust
		locations  *mockLocationHistory
		ipRep      *mockIPReputation
		clock      func() time.Time
		wantScore  int
		wantFactor string
	}{
		{
			name:       "untrusted device",
			devices:    &mockDeviceTrust{trusted: false},
			locations:  &mockLocationHistory{locations: []string{"AU:Sydney"}},
			ipRep:      &mockIPReputation{},
			clock:      middayClock,
			wantScore:  WeightUntrustedDevice,
			wantFactor: "untrusted_device",
		},
		{
			name:       "unknown location",
			devices:    &mockDeviceTrust{trusted: true},
			locations:  &mockLocationHistory{locations: []string{"NZ:Auckland"}},
			ipRep:      &mockIPReputation{},
			clock:      middayClock,
			wantScore:  WeightUnknownLocation,
			wantFactor: "unknown_location",
		},
		{
			name:       "off hours",
			devices:    &mockDeviceTrust{trusted: true},
			locations:  &mockLocationHistory{locations: []string{"AU:Sydney"}},
			ipRep:      &mockIPReputation{},
			clock:      nightClock,
			wantScore:  WeightOffHours,
			wantFactor: "off_hours",
		},
		{
			name:       "flagged ip",
			devices:    &mockDeviceTrust{trusted: true},
			locations:  &mockLocationHistory{locations: []string{"AU:Sydney"}},
			ipRep:      &mockIPReputation{flagged: true},
			clock:      middayClock,
			wantScore:  WeightFlaggedIP,
			wantFactor: "flagged_ip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScorer(tt.devices, tt.locations, tt.ipRep, time.Second, slog.Default())
			s.SetClock(tt.clock)

			a := s.Score(context.Background(), "user1", baselineDevice())

			assert.Equal(t, tt.wantScore, a.Score)
			assert.Contains(t, a.RiskFactors, tt.wantFactor)
		})
	}
}

func TestScorer_Monotonic_AddingConditionNeverDecreases(t *testing.T) {
	base := newTestScorer(
		&mockDeviceTrust{trusted: false},
		&mockLocationHistory{locations: []string{"AU:Sydney"}},
		&mockIPReputation{},
	)
	withMore := newTestScorer(
		&mockDeviceTrust{trusted: false},
		&mockLocationHistory{locations: []string{"AU:Sydney"}},
		&mockIPReputation{flagged: true},
	)

	a := base.Score(context.Background(), "user1", baselineDevice())
	b := withMore.Score(context.Background(), "user1", baselineDevice())

	assert.GreaterOrEqual(t, b.Score, a.Score)
}

func TestScorer_CappedAt100(t *testing.T) {
	s := NewScorer(
		&mockDeviceTrust{trusted: false},
		&mockLocationHistory{locations: nil},
		&mockIPReputation{flagged: true},
		time.Second,
		slog.Default(),
	)
	s.SetClock(nightClock)

	// 30 + 25 + 15 + 40 = 110, must cap
	a := s.Score(context.Background(), "user1", baselineDevice())

	assert.Equal(t, MaxScore, a.Score)
	require.Len(t, a.RiskFactors, 4)
	assert.True(t, a.RequireMFA)
	assert.True(t, a.RequiresStepUp)
}

func TestScorer_LookupFailureFailsSafe(t *testing.T) {
	s := newTestScorer(
		&mockDeviceTrust{err: errors.New("trust store down")},
		&mockLocationHistory{err: errors.New("history timeout")},
		&mockIPReputation{err: errors.New("reputation unavailable")},
	)

	a := s.Score(context.Background(), "user1", baselineDevice())

	// Every failed lookup contributes its weight
	assert.Equal(t, WeightUntrustedDevice+WeightUnknownLocation+WeightFlaggedIP, a.Score)
	assert.Contains(t, a.RiskFactors, "device_trust_lookup_failed")
	assert.Contains(t, a.RiskFactors, "location_lookup_failed")
	assert.Contains(t, a.RiskFactors, "ip_reputation_lookup_failed")
	assert.True(t, a.RequireMFA)
}

func TestScorer_Thresholds(t *testing.T) {
	// 30 + 25 = 55 > 50: MFA required but no step-up
	s := newTestScorer(
		&mockDeviceTrust{trusted: false},
		&mockLocationHistory{locations: []string{"NZ:Auckland"}},
		&mockIPReputation{},
	)

	a := s.Score(context.Background(), "user1", baselineDevice())

	assert.Equal(t, 55, a.Score)
	assert.True(t, a.RequireMFA)
	assert.False(t, a.RequiresStepUp)
}
