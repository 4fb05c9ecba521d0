package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/mhutchens/stepauth/internal/models"
	pkghttp "github.com/mhutchens/stepauth/pkg/http"
)

// writeServiceError maps the engine's error taxonomy onto HTTP status codes.
// Verification failures deliberately carry no detail about which check failed.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Access denied")
	case errors.Is(err, models.ErrVerificationFailed):
		pkghttp.WriteUnauthorized(w, "Verification failed")
	case errors.Is(err, models.ErrLocked):
		pkghttp.WriteLocked(w, "Too many failed attempts, try again later")
	case errors.Is(err, models.ErrExpired):
		pkghttp.WriteGone(w, "Session or factor has expired")
	case errors.Is(err, models.ErrSessionTerminal):
		pkghttp.WriteConflict(w, "Session is already complete")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Conflicting request")
	case errors.Is(err, models.ErrNoAvailableFactor):
		pkghttp.WriteConflict(w, "No usable MFA method is enrolled")
	case errors.Is(err, models.ErrTransient):
		pkghttp.WriteServiceUnavailable(w, "Temporarily unavailable, retry shortly")
	default:
		logger.Error("unhandled service error", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
