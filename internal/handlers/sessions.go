package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mhutchens/stepauth/internal/auth"
	"github.com/mhutchens/stepauth/internal/models"
	"github.com/mhutchens/stepauth/internal/services"
	pkghttp "github.com/mhutchens/stepauth/pkg/http"
)

// SessionHandler handles authentication session HTTP requests
type SessionHandler struct {
	sessions *services.SessionService
	ipConfig *pkghttp.IPConfig
	timing   *auth.TimingDelay
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *services.SessionService, ipConfig *pkghttp.IPConfig, timing *auth.TimingDelay, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		ipConfig: ipConfig,
		timing:   timing,
		logger:   logger,
	}
}

// Start handles POST /v1/sessions
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	device := models.DeviceContext{
		Fingerprint: req.Device.Fingerprint,
		IPAddress:   pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:   req.Device.UserAgent,
		Location:    req.Device.Location,
		Timezone:    req.Device.Timezone,
	}

	session, err := h.sessions.Start(r.Context(), req.UserID, device, services.StartOptions{
		ForceMFA: req.ForceMFA,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// Status handles GET /v1/sessions/{sessionID}
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.sessions.Status(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// Verify handles POST /v1/sessions/{sessionID}/factors/{factorID}/verify
func (h *SessionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	factorID := chi.URLParam(r, "factorID")

	var req VerifyFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	started := time.Now()
	result, err := h.sessions.VerifyFactor(r.Context(), sessionID, factorID, req.Response, services.VerifyMetadata{
		CallerUserID: req.UserID,
	})
	// Failures take the same time whether the factor exists or the response
	// was wrong
	h.timing.WaitFrom(started, err == nil)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	response := VerifyFactorResponse{
		Success:        result.Success,
		Session:        toSessionResponse(result.Session),
		RequiresStepUp: result.RequiresStepUp,
		Tokens:         result.Tokens,
	}
	if result.NextFactor != nil {
		response.NextFactorID = result.NextFactor.ID
	}

	writeJSON(w, http.StatusOK, response)
}

// Cancel handles POST /v1/sessions/{sessionID}/cancel
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.sessions.Cancel(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// StepUp handles POST /v1/sessions/{sessionID}/step-up
func (h *SessionHandler) StepUp(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.sessions.RequestStepUp(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}
