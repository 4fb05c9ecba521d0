package http_test

import (
	"net/http/httptest"
	"testing"

	pkghttp "github.com/mhutchens/stepauth/pkg/http"
	"github.com/stretchr/testify/assert"
)

// Forwarding headers feed the risk scorer's IP reputation lookup, so they are
// only honored from configured proxies. Anything else is spoofable.

func TestExtractClientIP(t *testing.T) {
	trusted := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8", "127.0.0.1/32"}}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		config     *pkghttp.IPConfig
		want       string
	}{
		{
			name:       "direct connection ignores headers",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4, 5.6.7.8",
			xRealIP:    "192.168.1.1",
			config:     trusted,
			want:       "203.0.113.10",
		},
		{
			name:       "trusted proxy uses forwarded-for",
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42, 10.0.0.5",
			config:     trusted,
			want:       "203.0.113.42",
		},
		{
			name:       "trusted proxy falls back to real-ip",
			remoteAddr: "10.0.0.5:54321",
			xRealIP:    "203.0.113.42",
			config:     trusted,
			want:       "203.0.113.42",
		},
		{
			name:       "nil config trusts nothing",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			config:     nil,
			want:       "203.0.113.10",
		},
		{
			name:       "empty proxy list trusts nothing",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			config:     &pkghttp.IPConfig{},
			want:       "203.0.113.10",
		},
		{
			name:       "invalid cidr ranges fail closed",
			remoteAddr: "203.0.113.10:54321",
			xff:        "1.2.3.4",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"not-a-cidr"}},
			want:       "203.0.113.10",
		},
		{
			name:       "first forwarded ip wins",
			remoteAddr: "10.0.0.5:54321",
			xff:        "203.0.113.42, 203.0.113.43, 10.0.0.5",
			config:     trusted,
			want:       "203.0.113.42",
		},
		{
			name:       "localhost claim from untrusted source rejected",
			remoteAddr: "203.0.113.10:54321",
			xff:        "127.0.0.1, 203.0.113.10",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
			want:       "203.0.113.10",
		},
		{
			name:       "ipv6 via trusted proxy",
			remoteAddr: "[::1]:54321",
			xff:        "2001:db8::1",
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"::1/128"}},
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			assert.Equal(t, tt.want, pkghttp.ExtractClientIP(req, tt.config))
		})
	}
}
