package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for verification timing equalization
type TimingConfig struct {
	BaseDelayMs    int  // base delay in milliseconds
	RandomDelayMs  int  // random jitter range in milliseconds
	DelayOnSuccess bool // if true, delay successful verifications too
}

// TimingDelay equalizes verify-factor response times so a caller cannot
// distinguish "unknown factor" from "wrong response" by latency
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a TimingDelay
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// Wait applies the configured delay. Successful verifications skip the delay
// unless DelayOnSuccess is set.
func (td *TimingDelay) Wait(success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}
	time.Sleep(td.delay())
}

// WaitFrom delays relative to startTime, ensuring the total elapsed time is at
// least the configured target
func (td *TimingDelay) WaitFrom(startTime time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}
	if elapsed := time.Since(startTime); elapsed < td.delay() {
		time.Sleep(td.delay() - elapsed)
	}
}

func (td *TimingDelay) delay() time.Duration {
	base := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs <= 0 {
		return base
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return base
	}
	jitter := binary.BigEndian.Uint64(buf) % uint64(td.config.RandomDelayMs)
	return base + time.Duration(jitter)*time.Millisecond
}
