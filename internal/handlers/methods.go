package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mhutchens/stepauth/internal/models"
	"github.com/mhutchens/stepauth/internal/services"
	pkghttp "github.com/mhutchens/stepauth/pkg/http"
)

// MethodHandler handles MFA method management HTTP requests
type MethodHandler struct {
	methods *services.MethodService
	logger  *slog.Logger
}

// NewMethodHandler creates a new method handler
func NewMethodHandler(methods *services.MethodService, logger *slog.Logger) *MethodHandler {
	return &MethodHandler{
		methods: methods,
		logger:  logger,
	}
}

// Register handles POST /v1/methods
func (h *MethodHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.methods.Register(r.Context(), req.UserID, services.RegistrationInput{
		Type:         models.FactorType(req.Type),
		Name:         req.Name,
		PhoneNumber:  req.PhoneNumber,
		EmailAddress: req.EmailAddress,
		PushDeviceID: req.PushDeviceID,
		PublicKey:    req.PublicKey,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterMethodResponse{
		MethodID:    result.Method.ID,
		Type:        string(result.Method.Type),
		Name:        result.Method.Name,
		Primary:     result.Method.Primary,
		Secret:      result.Secret,
		QRCode:      result.QRCode,
		BackupCodes: result.BackupCodes,
	})
}

// List handles GET /v1/users/{userID}/methods
func (h *MethodHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	methods, err := h.methods.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	responses := make([]MethodResponse, len(methods))
	for i := range methods {
		responses[i] = toMethodResponse(&methods[i])
	}
	writeJSON(w, http.StatusOK, responses)
}

// Promote handles POST /v1/methods/{methodID}/primary
func (h *MethodHandler) Promote(w http.ResponseWriter, r *http.Request) {
	methodID := chi.URLParam(r, "methodID")

	var req PromoteMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.methods.Promote(r.Context(), req.UserID, methodID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Disable handles DELETE /v1/methods/{methodID}
func (h *MethodHandler) Disable(w http.ResponseWriter, r *http.Request) {
	methodID := chi.URLParam(r, "methodID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user_id is required")
		return
	}

	if err := h.methods.Disable(r.Context(), userID, methodID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
