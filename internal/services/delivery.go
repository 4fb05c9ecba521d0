package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CodeDelivery sends one-time codes over an out-of-band channel (SMS, email,
// push) and verifies responses against previously issued codes. Transport
// mechanics are a collaborator concern; the engine only sees this contract.
type CodeDelivery interface {
	Send(ctx context.Context, destination string) (deliveryID string, err error)
	Verify(ctx context.Context, deliveryID, code string) (bool, error)
}

const deliveryCodeTTL = 5 * time.Minute

type pendingCode struct {
	code      string
	expiresAt time.Time
}

// codeVault issues and checks time-bounded one-time codes keyed by delivery id
type codeVault struct {
	mu      sync.Mutex
	pending map[string]pendingCode
	now     func() time.Time
}

func newCodeVault() *codeVault {
	return &codeVault{
		pending: make(map[string]pendingCode),
		now:     time.Now,
	}
}

// issue generates a 6-digit code and returns (deliveryID, code)
func (v *codeVault) issue() (string, string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate delivery code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())
	deliveryID := uuid.New().String()

	v.mu.Lock()
	v.pending[deliveryID] = pendingCode{code: code, expiresAt: v.now().Add(deliveryCodeTTL)}
	v.mu.Unlock()

	return deliveryID, code, nil
}

// check verifies candidate against the issued code; a matched code is consumed
func (v *codeVault) check(deliveryID, candidate string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.pending[deliveryID]
	if !ok {
		return false
	}
	if v.now().After(entry.expiresAt) {
		delete(v.pending, deliveryID)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(entry.code), []byte(candidate)) != 1 {
		return false
	}
	delete(v.pending, deliveryID)
	return true
}

// LogDelivery is a development delivery channel: codes are logged instead of
// sent. Used for SMS and push channels until a real gateway is wired in.
type LogDelivery struct {
	vault  *codeVault
	logger *slog.Logger
}

// NewLogDelivery creates a LogDelivery
func NewLogDelivery(logger *slog.Logger) *LogDelivery {
	return &LogDelivery{
		vault:  newCodeVault(),
		logger: logger,
	}
}

// Send issues a code and logs it
func (d *LogDelivery) Send(ctx context.Context, destination string) (string, error) {
	deliveryID, code, err := d.vault.issue()
	if err != nil {
		return "", err
	}
	d.logger.Info("delivery code issued",
		slog.String("delivery_id", deliveryID),
		slog.String("destination", destination),
		slog.String("code", code))
	return deliveryID, nil
}

// Verify checks a response against the issued code
func (d *LogDelivery) Verify(ctx context.Context, deliveryID, code string) (bool, error) {
	return d.vault.check(deliveryID, code), nil
}
