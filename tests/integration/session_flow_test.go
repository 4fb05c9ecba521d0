package integration

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	testDB     *TestDB
	testServer *TestServer
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test database: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	server, err := NewTestServer(db)
	if err != nil {
		db.Teardown(ctx)
		fmt.Fprintf(os.Stderr, "failed to set up test server: %v\n", err)
		os.Exit(1)
	}
	testServer = server

	code := m.Run()

	server.Close()
	db.Teardown(ctx)
	os.Exit(code)
}

type sessionView struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	RiskScore        int    `json:"risk_score"`
	RequiredFactors  int    `json:"required_factors"`
	CompletedFactors int    `json:"completed_factors"`
	Factors          []struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	} `json:"factors"`
}

type verifyView struct {
	Success      bool        `json:"success"`
	Session      sessionView `json:"session"`
	NextFactorID string      `json:"next_factor_id"`
	Tokens       *struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"tokens"`
}

func startSession(t *testing.T, userID string) sessionView {
	t.Helper()

	resp, err := testServer.Request(http.MethodPost, "/v1/sessions", map[string]interface{}{
		"user_id": userID,
		"device":  TestDevice(),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var session sessionView
	require.NoError(t, ParseJSONResponse(resp, &session))
	return session
}

func verifyFactor(t *testing.T, userID, sessionID, factorID, response string) (*http.Response, error) {
	t.Helper()
	path := fmt.Sprintf("/v1/sessions/%s/factors/%s/verify", sessionID, factorID)
	return testServer.Request(http.MethodPost, path, map[string]string{
		"response": response,
		"user_id":  userID,
	}, nil)
}

func TestPasswordOnlyLogin(t *testing.T) {
	ctx := context.Background()
	userID := TestUserID("lowrisk")
	device := TestDevice()

	require.NoError(t, testDB.SeedCredential(ctx, userID, "correct horse battery"))
	require.NoError(t, testDB.SeedTrustedDevice(ctx, userID, device["fingerprint"]))
	require.NoError(t, testDB.SeedLocation(ctx, userID, device["location"]))

	session := startSession(t, userID)
	require.Equal(t, "pending", session.Status)
	require.Equal(t, 1, session.RequiredFactors)
	require.LessOrEqual(t, session.RiskScore, 50)
	require.Len(t, session.Factors, 1)
	require.Equal(t, "password", session.Factors[0].Type)

	resp, err := verifyFactor(t, userID, session.ID, session.Factors[0].ID, "correct horse battery")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result verifyView
	require.NoError(t, ParseJSONResponse(resp, &result))
	require.True(t, result.Success)
	require.Equal(t, "authenticated", result.Session.Status)
	require.NotNil(t, result.Tokens)
	require.NotEmpty(t, result.Tokens.AccessToken)
	require.NotEmpty(t, result.Tokens.RefreshToken)
}

func TestUnknownDeviceRequiresSecondFactor(t *testing.T) {
	ctx := context.Background()
	userID := TestUserID("mfa")

	require.NoError(t, testDB.SeedCredential(ctx, userID, "s3cret-passphrase"))

	// Enroll TOTP; the first method becomes primary
	resp, err := testServer.Request(http.MethodPost, "/v1/methods", map[string]string{
		"user_id": userID,
		"type":    "totp",
		"name":    "Authenticator app",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var registered struct {
		MethodID string `json:"method_id"`
		Primary  bool   `json:"primary"`
		Secret   string `json:"secret"`
	}
	require.NoError(t, ParseJSONResponse(resp, &registered))
	require.True(t, registered.Primary)
	require.NotEmpty(t, registered.Secret)

	// Untrusted device plus unknown location lands between the MFA and
	// step-up thresholds
	session := startSession(t, userID)
	require.Greater(t, session.RiskScore, 50)
	require.LessOrEqual(t, session.RiskScore, 75)
	require.Equal(t, 2, session.RequiredFactors)
	require.Len(t, session.Factors, 2)
	require.Equal(t, "totp", session.Factors[1].Type)

	resp, err = verifyFactor(t, userID, session.ID, session.Factors[0].ID, "s3cret-passphrase")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var afterPassword verifyView
	require.NoError(t, ParseJSONResponse(resp, &afterPassword))
	require.True(t, afterPassword.Success)
	require.Equal(t, "pending", afterPassword.Session.Status)
	require.Equal(t, session.Factors[1].ID, afterPassword.NextFactorID)
	require.Nil(t, afterPassword.Tokens)

	code, err := testServer.TOTP.Generate(registered.Secret, time.Now())
	require.NoError(t, err)

	resp, err = verifyFactor(t, userID, session.ID, session.Factors[1].ID, code)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var afterTOTP verifyView
	require.NoError(t, ParseJSONResponse(resp, &afterTOTP))
	require.True(t, afterTOTP.Success)
	require.Equal(t, "authenticated", afterTOTP.Session.Status)
	require.NotNil(t, afterTOTP.Tokens)

	// Both verifications are on the persisted attempt trail
	var attempts int
	err = testDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM authentication_attempts WHERE user_id = $1 AND success = TRUE`,
		userID).Scan(&attempts)
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestRepeatedFailuresLockTheSession(t *testing.T) {
	ctx := context.Background()
	userID := TestUserID("lockout")
	device := TestDevice()

	require.NoError(t, testDB.SeedCredential(ctx, userID, "the-real-password"))
	require.NoError(t, testDB.SeedTrustedDevice(ctx, userID, device["fingerprint"]))
	require.NoError(t, testDB.SeedLocation(ctx, userID, device["location"]))

	session := startSession(t, userID)
	factorID := session.Factors[0].ID

	for i := 0; i < 2; i++ {
		resp, err := verifyFactor(t, userID, session.ID, factorID, "wrong-password")
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	// Third failure trips the lock
	resp, err := verifyFactor(t, userID, session.ID, factorID, "wrong-password")
	require.NoError(t, err)
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	resp.Body.Close()

	// The right password no longer helps
	resp, err = verifyFactor(t, userID, session.ID, factorID, "the-real-password")
	require.NoError(t, err)
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	resp.Body.Close()

	statusResp, err := testServer.Request(http.MethodGet, "/v1/sessions/"+session.ID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, statusResp.StatusCode)

	var locked sessionView
	require.NoError(t, ParseJSONResponse(statusResp, &locked))
	require.Equal(t, "locked", locked.Status)
}
