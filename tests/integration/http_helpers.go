package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mhutchens/stepauth/internal/auth"
	"github.com/mhutchens/stepauth/internal/config"
	"github.com/mhutchens/stepauth/internal/handlers"
	middlewareCustom "github.com/mhutchens/stepauth/internal/middleware"
	"github.com/mhutchens/stepauth/internal/repositories"
	"github.com/mhutchens/stepauth/internal/risk"
	"github.com/mhutchens/stepauth/internal/routes"
	"github.com/mhutchens/stepauth/internal/services"
	pkghttp "github.com/mhutchens/stepauth/pkg/http"
)

// TestServer wraps httptest.Server with the full production wiring over a
// real database. One-time codes go through LogDelivery; the TOTP engine is
// exposed so tests can mint valid codes for enrolled secrets.
type TestServer struct {
	Server *httptest.Server
	DB     *TestDB
	Config *config.Config
	TOTP   *auth.TOTPEngine

	logger *slog.Logger
}

// NewTestServer initializes a complete HTTP server against db
func NewTestServer(db *TestDB) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:          "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			RefreshMaxUses:     10,
			TOTPEncryptionKey:  []byte("stepauth-test-key-0123456789abcd"),
			TOTPIssuer:         "StepAuthTest",
		},
		Session: config.SessionConfig{
			MaxAttempts:      3,
			LockoutDuration:  15 * time.Minute,
			SessionDuration:  10 * time.Minute,
			MaxIdleTime:      5 * time.Minute,
			FactorTTL:        5 * time.Minute,
			CleanupInterval:  1 * time.Minute,
			AttemptRetention: 90 * 24 * time.Hour,
		},
		Risk: config.RiskConfig{
			LookupTimeout: 2 * time.Second,
		},
		Server: config.ServerConfig{
			Port:           "0",
			Env:            "test",
			AllowedOrigins: []string{},
			TrustedProxies: []string{},
		},
	}

	methodRepo := repositories.NewMethodRepository(db.Pool)
	attemptRepo := repositories.NewAttemptRepository(db.Pool)
	credentialRepo := repositories.NewCredentialRepository(db.Pool)
	deviceTrustRepo := repositories.NewDeviceTrustRepository(db.Pool)
	locationRepo := repositories.NewLocationHistoryRepository(db.Pool)
	sessionStore := repositories.NewMemorySessionStore()

	denylist, err := risk.NewCIDRDenylist(cfg.Risk.FlaggedNetworks)
	if err != nil {
		return nil, err
	}
	scorer := risk.NewScorer(deviceTrustRepo, locationRepo, denylist, cfg.Risk.LookupTimeout, logger)

	totpEngine, err := auth.NewTOTPEngine(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		return nil, err
	}

	tokenIssuer := auth.NewTokenIssuer(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.RefreshMaxUses,
	)

	delivery := services.NewLogDelivery(logger)

	lockoutService := services.NewLockoutService(services.LockoutConfig{
		MaxRetries:      cfg.Session.MaxAttempts,
		LockoutDuration: cfg.Session.LockoutDuration,
	}, logger)

	verifier := services.NewFactorVerifier(
		methodRepo,
		credentialRepo,
		totpEngine,
		lockoutService,
		delivery,
		services.NewUnconfiguredBiometricMatcher(),
		auth.NewChallengeSigner(),
		logger,
	)

	auditService := services.NewAuditService(attemptRepo, logger)

	sessionService := services.NewSessionService(
		sessionStore,
		methodRepo,
		scorer,
		verifier,
		tokenIssuer,
		auditService,
		delivery,
		services.SessionConfig{
			MaxAttempts:     cfg.Session.MaxAttempts,
			LockoutDuration: cfg.Session.LockoutDuration,
			SessionDuration: cfg.Session.SessionDuration,
			MaxIdleTime:     cfg.Session.MaxIdleTime,
			FactorTTL:       cfg.Session.FactorTTL,
		},
		logger,
	)

	methodService := services.NewMethodService(methodRepo, totpEngine, logger)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	// Zero-delay timing keeps failure-path tests fast
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{})
	sessionHandler := handlers.NewSessionHandler(sessionService, ipConfig, timingDelay, logger)
	methodHandler := handlers.NewMethodHandler(methodService, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, sessionHandler, methodHandler)

	return &TestServer{
		Server: httptest.NewServer(r),
		DB:     db,
		Config: cfg,
		TOTP:   totpEngine,
		logger: logger,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// ParseJSONResponse parses a JSON response body into target
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetErrorMessage extracts the error message from an error response
func GetErrorMessage(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if msg, ok := errResp["message"].(string); ok {
		return msg, nil
	}
	return "", nil
}
