package integration

import (
	"fmt"
	"time"
)

// TestUserID generates a unique user id per run so tests never collide
func TestUserID(suffix string) string {
	return fmt.Sprintf("user-%d-%s", time.Now().UnixNano(), suffix)
}

// TestDevice returns the canonical device payload used across flow tests
func TestDevice() map[string]string {
	return map[string]string{
		"fingerprint": "fp-integration-device",
		"user_agent":  "integration-test/1.0",
		"location":    "AU:Sydney",
		"timezone":    "UTC",
	}
}
