package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mhutchens/stepauth/internal/auth"
	"github.com/mhutchens/stepauth/internal/handlers"
	"github.com/mhutchens/stepauth/internal/repositories"
	"github.com/mhutchens/stepauth/internal/routes"
	"github.com/mhutchens/stepauth/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer(t *testing.T) (*httptest.Server, *services.MockCredentialStore) {
	t.Helper()
	logger := slog.Default()

	creds := &services.MockCredentialStore{}
	methods := &services.MockMethodRepository{}
	lockout := services.NewLockoutService(services.DefaultLockoutConfig(), logger)

	engineKey := make([]byte, 32)
	totpEngine, err := auth.NewTOTPEngine(engineKey, "StepAuth")
	require.NoError(t, err)

	verifier := services.NewFactorVerifier(
		methods, creds, totpEngine, lockout,
		&services.MockDelivery{}, &services.MockBiometricMatcher{}, &services.MockChallengeVerifier{}, logger,
	)

	issuer := auth.NewTokenIssuer("test-signing-secret-at-least-32-chars", 15*time.Minute, 24*time.Hour, 10)
	scorer := services.NewLowRiskScorer(time.Now)

	sessionService := services.NewSessionService(
		repositories.NewMemorySessionStore(),
		methods, scorer, verifier, issuer, &services.RecordingAudit{}, &services.MockDelivery{},
		services.DefaultSessionConfig(), logger,
	)
	methodService := services.NewMethodService(methods, totpEngine, logger)

	router := chi.NewRouter()
	routes.RegisterRoutes(router,
		handlers.NewSessionHandler(sessionService, nil, auth.NewTimingDelay(auth.TimingConfig{}), logger),
		handlers.NewMethodHandler(methodService, logger),
	)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, creds
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func setPassword(t *testing.T, creds *services.MockCredentialStore, password string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	creds.PasswordHashFunc = func(ctx context.Context, userID string) (string, error) {
		return string(hash), nil
	}
}

func startSession(t *testing.T, server *httptest.Server) handlers.SessionResponse {
	t.Helper()
	resp := postJSON(t, server.URL+"/v1/sessions", handlers.StartSessionRequest{
		UserID: "user_1",
		Device: handlers.DeviceRequest{
			Fingerprint: "fp-test-device",
			UserAgent:   "test-agent/1.0",
			Location:    "AU:Sydney",
			Timezone:    "UTC",
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeJSON[handlers.SessionResponse](t, resp)
}

func TestSessionEndpoints_HappyPath(t *testing.T) {
	server, creds := newTestServer(t)
	setPassword(t, creds, "correct-password")

	session := startSession(t, server)
	assert.Equal(t, "pending", session.Status)
	require.Len(t, session.Factors, 1)
	assert.Equal(t, "password", session.Factors[0].Type)

	verifyURL := fmt.Sprintf("%s/v1/sessions/%s/factors/%s/verify", server.URL, session.ID, session.Factors[0].ID)
	resp := postJSON(t, verifyURL, handlers.VerifyFactorRequest{Response: "correct-password"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeJSON[handlers.VerifyFactorResponse](t, resp)
	assert.True(t, result.Success)
	assert.Equal(t, "authenticated", result.Session.Status)
	require.NotNil(t, result.Tokens)
	assert.NotEmpty(t, result.Tokens.AccessToken)
}

func TestSessionEndpoints_ErrorMapping(t *testing.T) {
	server, creds := newTestServer(t)
	setPassword(t, creds, "correct-password")

	// Unknown session -> 404
	resp := postJSON(t, server.URL+"/v1/sessions/missing/factors/f1/verify",
		handlers.VerifyFactorRequest{Response: "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Missing required field -> 400
	resp = postJSON(t, server.URL+"/v1/sessions", handlers.StartSessionRequest{UserID: "user_1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	session := startSession(t, server)
	verifyURL := fmt.Sprintf("%s/v1/sessions/%s/factors/%s/verify", server.URL, session.ID, session.Factors[0].ID)

	// Wrong response -> 401
	resp = postJSON(t, verifyURL, handlers.VerifyFactorRequest{Response: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Mismatched caller -> 403
	resp = postJSON(t, verifyURL, handlers.VerifyFactorRequest{Response: "correct-password", UserID: "someone_else"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Two more wrong responses -> locked -> 423
	resp = postJSON(t, verifyURL, handlers.VerifyFactorRequest{Response: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = postJSON(t, verifyURL, handlers.VerifyFactorRequest{Response: "wrong"})
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	// Locked session stays locked even with the correct password
	resp = postJSON(t, verifyURL, handlers.VerifyFactorRequest{Response: "correct-password"})
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
}

func TestSessionEndpoints_CancelAndStatus(t *testing.T) {
	server, creds := newTestServer(t)
	setPassword(t, creds, "correct-password")

	session := startSession(t, server)

	resp := postJSON(t, fmt.Sprintf("%s/v1/sessions/%s/cancel", server.URL, session.ID), struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cancelled := decodeJSON[handlers.SessionResponse](t, resp)
	assert.Equal(t, "failed", cancelled.Status)

	statusResp, err := http.Get(fmt.Sprintf("%s/v1/sessions/%s", server.URL, session.ID))
	require.NoError(t, err)
	defer statusResp.Body.Close()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
	status := decodeJSON[handlers.SessionResponse](t, statusResp)
	assert.Equal(t, "failed", status.Status)

	// Cancelling twice conflicts
	resp = postJSON(t, fmt.Sprintf("%s/v1/sessions/%s/cancel", server.URL, session.ID), struct{}{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMethodEndpoints_RegisterValidation(t *testing.T) {
	server, _ := newTestServer(t)

	// Valid TOTP registration
	resp := postJSON(t, server.URL+"/v1/methods", handlers.RegisterMethodRequest{
		UserID: "user_1",
		Type:   "totp",
		Name:   "Authenticator",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	registered := decodeJSON[handlers.RegisterMethodResponse](t, resp)
	assert.NotEmpty(t, registered.Secret)
	assert.NotEmpty(t, registered.QRCode)
	assert.True(t, registered.Primary)

	// Unknown type rejected by DTO validation
	resp = postJSON(t, server.URL+"/v1/methods", handlers.RegisterMethodRequest{
		UserID: "user_1",
		Type:   "carrier_pigeon",
		Name:   "Pigeon",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// SMS without a phone number rejected by the service
	resp = postJSON(t, server.URL+"/v1/methods", handlers.RegisterMethodRequest{
		UserID: "user_1",
		Type:   "sms",
		Name:   "Phone",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
