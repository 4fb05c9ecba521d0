package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/mhutchens/stepauth/internal/models"
)

// Contribution weights. Additive, order-independent, capped at 100.
const (
	WeightUntrustedDevice = 30
	WeightUnknownLocation = 25
	WeightOffHours        = 15
	WeightFlaggedIP       = 40

	MaxScore = 100

	// Derived policy thresholds
	mfaThreshold    = 50
	stepUpThreshold = 75
)

// Working hours for the off-hours signal, in the device's local time
const (
	workdayStartHour = 6
	workdayEndHour   = 22
)

// DeviceTrustStore looks up whether a device fingerprint is trusted for a user
type DeviceTrustStore interface {
	IsTrusted(ctx context.Context, userID, fingerprint string) (bool, error)
}

// LocationHistory looks up a user's historical login locations
type LocationHistory interface {
	KnownLocations(ctx context.Context, userID string) ([]string, error)
}

// IPReputation checks an address against a reputation source
type IPReputation interface {
	IsFlagged(ctx context.Context, ipAddress string) (bool, error)
}

// Assessment is the outcome of scoring one login context
type Assessment struct {
	Score          int
	RiskFactors    []string
	RequireMFA     bool
	RequiresStepUp bool
}

// Scorer computes a 0-100 risk score from device/session context.
// Lookups are read-only and bounded by a timeout; a lookup failure never
// lowers risk (the condition is treated as present).
type Scorer struct {
	devices   DeviceTrustStore
	locations LocationHistory
	ipRep     IPReputation
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewScorer creates a Scorer. lookupTimeout <= 0 defaults to 5s.
func NewScorer(devices DeviceTrustStore, locations LocationHistory, ipRep IPReputation, lookupTimeout time.Duration, logger *slog.Logger) *Scorer {
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	return &Scorer{
		devices:   devices,
		locations: locations,
		ipRep:     ipRep,
		timeout:   lookupTimeout,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock overrides the time source, for tests
func (s *Scorer) SetClock(now func() time.Time) {
	s.now = now
}

// Score evaluates the login context for userID and returns an assessment
func (s *Scorer) Score(ctx context.Context, userID string, device models.DeviceContext) Assessment {
	score := 0
	var factors []string

	trusted, err := s.lookupTrusted(ctx, userID, device.Fingerprint)
	if err != nil {
		s.logger.Warn("device trust lookup failed, treating device as untrusted",
			slog.String("user_id", userID), slog.Any("error", err))
		score += WeightUntrustedDevice
		factors = append(factors, "device_trust_lookup_failed")
	} else if !trusted {
		score += WeightUntrustedDevice
		factors = append(factors, "untrusted_device")
	}

	known, err := s.lookupLocationKnown(ctx, userID, device.Location)
	if err != nil {
		s.logger.Warn("location history lookup failed, treating location as unknown",
			slog.String("user_id", userID), slog.Any("error", err))
		score += WeightUnknownLocation
		factors = append(factors, "location_lookup_failed")
	} else if !known {
		score += WeightUnknownLocation
		factors = append(factors, "unknown_location")
	}

	if s.offHours(device.Timezone) {
		score += WeightOffHours
		factors = append(factors, "off_hours")
	}

	flagged, err := s.lookupFlagged(ctx, device.IPAddress)
	if err != nil {
		s.logger.Warn("ip reputation lookup failed, treating address as flagged",
			slog.String("ip_address", device.IPAddress), slog.Any("error", err))
		score += WeightFlaggedIP
		factors = append(factors, "ip_reputation_lookup_failed")
	} else if flagged {
		score += WeightFlaggedIP
		factors = append(factors, "flagged_ip")
	}

	if score > MaxScore {
		score = MaxScore
	}

	return Assessment{
		Score:          score,
		RiskFactors:    factors,
		RequireMFA:     score > mfaThreshold,
		RequiresStepUp: score > stepUpThreshold,
	}
}

func (s *Scorer) lookupTrusted(ctx context.Context, userID, fingerprint string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.devices.IsTrusted(ctx, userID, fingerprint)
}

func (s *Scorer) lookupLocationKnown(ctx context.Context, userID, location string) (bool, error) {
	if location == "" {
		// No location signal at all; treated as unknown without an error
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	locations, err := s.locations.KnownLocations(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, loc := range locations {
		if loc == location {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scorer) lookupFlagged(ctx context.Context, ipAddress string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.ipRep.IsFlagged(ctx, ipAddress)
}

// offHours reports whether local time in tz falls outside 06:00-22:00.
// An unparseable timezone is not counted as a risk condition.
func (s *Scorer) offHours(tz string) bool {
	loc := time.UTC
	if tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		}
	}
	hour := s.now().In(loc).Hour()
	return hour < workdayStartHour || hour >= workdayEndHour
}
