package services

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mhutchens/stepauth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLockout(t *testing.T, clock func() time.Time) *LockoutService {
	t.Helper()
	svc := NewLockoutService(DefaultLockoutConfig(), slog.Default())
	if clock != nil {
		svc.SetClock(clock)
	}
	return svc
}

func TestLockoutService_LocksAfterMaxRetries(t *testing.T) {
	svc := newTestLockout(t, nil)

	locked, _ := svc.RecordFailure("user_1", models.FactorTOTP)
	assert.False(t, locked)
	locked, _ = svc.RecordFailure("user_1", models.FactorTOTP)
	assert.False(t, locked)
	assert.False(t, svc.IsLocked("user_1", models.FactorTOTP))

	locked, lockUntil := svc.RecordFailure("user_1", models.FactorTOTP)
	assert.True(t, locked)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), lockUntil, 2*time.Second)
	assert.True(t, svc.IsLocked("user_1", models.FactorTOTP))
}

func TestLockoutService_ScopedPerUserAndMethod(t *testing.T) {
	svc := newTestLockout(t, nil)

	for i := 0; i < 3; i++ {
		svc.RecordFailure("user_1", models.FactorTOTP)
	}

	assert.True(t, svc.IsLocked("user_1", models.FactorTOTP))
	assert.False(t, svc.IsLocked("user_1", models.FactorSMS))
	assert.False(t, svc.IsLocked("user_2", models.FactorTOTP))
}

func TestLockoutService_SuccessResetsCounter(t *testing.T) {
	svc := newTestLockout(t, nil)

	svc.RecordFailure("user_1", models.FactorTOTP)
	svc.RecordFailure("user_1", models.FactorTOTP)
	svc.RecordSuccess("user_1", models.FactorTOTP)

	// Counter restarts from zero after the success
	locked, _ := svc.RecordFailure("user_1", models.FactorTOTP)
	assert.False(t, locked)
	locked, _ = svc.RecordFailure("user_1", models.FactorTOTP)
	assert.False(t, locked)
	locked, _ = svc.RecordFailure("user_1", models.FactorTOTP)
	assert.True(t, locked)
}

func TestLockoutService_SuccessWhileLockedDoesNotUnlock(t *testing.T) {
	svc := newTestLockout(t, nil)

	for i := 0; i < 3; i++ {
		svc.RecordFailure("user_1", models.FactorTOTP)
	}
	require.True(t, svc.IsLocked("user_1", models.FactorTOTP))

	svc.RecordSuccess("user_1", models.FactorTOTP)
	assert.True(t, svc.IsLocked("user_1", models.FactorTOTP))
}

func TestLockoutService_LockExpiresAfterWindow(t *testing.T) {
	current := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestLockout(t, func() time.Time { return current })

	for i := 0; i < 3; i++ {
		svc.RecordFailure("user_1", models.FactorTOTP)
	}
	require.True(t, svc.IsLocked("user_1", models.FactorTOTP))

	current = current.Add(14 * time.Minute)
	assert.True(t, svc.IsLocked("user_1", models.FactorTOTP))

	current = current.Add(time.Minute)
	assert.False(t, svc.IsLocked("user_1", models.FactorTOTP))

	// Fresh window after expiry: failures count from zero again
	locked, _ := svc.RecordFailure("user_1", models.FactorTOTP)
	assert.False(t, locked)
}

func TestLockoutService_FailureWhileLockedReportsExistingLock(t *testing.T) {
	current := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestLockout(t, func() time.Time { return current })

	for i := 0; i < 3; i++ {
		svc.RecordFailure("user_1", models.FactorTOTP)
	}
	_, originalUntil := svc.RecordFailure("user_1", models.FactorTOTP)

	// The lock deadline does not slide on further failures
	current = current.Add(5 * time.Minute)
	locked, lockUntil := svc.RecordFailure("user_1", models.FactorTOTP)
	assert.True(t, locked)
	assert.Equal(t, originalUntil, lockUntil)
}

func TestLockoutService_ConcurrentFailures(t *testing.T) {
	svc := newTestLockout(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			svc.RecordFailure(fmt.Sprintf("user_%d", n%4), models.FactorTOTP)
		}(i)
	}
	wg.Wait()

	// 5 failures per user, well past the threshold
	for i := 0; i < 4; i++ {
		assert.True(t, svc.IsLocked(fmt.Sprintf("user_%d", i), models.FactorTOTP))
	}
}
