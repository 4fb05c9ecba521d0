package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/mhutchens/stepauth/internal/handlers"
	"github.com/mhutchens/stepauth/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	sessionHandler *handlers.SessionHandler,
	methodHandler *handlers.MethodHandler,
) {
	startLimit := middleware.DefaultSessionStartRateLimit()
	verifyLimit := middleware.DefaultVerifyRateLimit()

	router.Route("/v1", func(r chi.Router) {
		r.With(middleware.RateLimitByIP(startLimit)).Post("/sessions", sessionHandler.Start)
		r.Get("/sessions/{sessionID}", sessionHandler.Status)
		r.Post("/sessions/{sessionID}/cancel", sessionHandler.Cancel)
		r.Post("/sessions/{sessionID}/step-up", sessionHandler.StepUp)
		r.With(middleware.RateLimitByIP(verifyLimit)).
			Post("/sessions/{sessionID}/factors/{factorID}/verify", sessionHandler.Verify)

		r.Post("/methods", methodHandler.Register)
		r.Get("/users/{userID}/methods", methodHandler.List)
		r.Post("/methods/{methodID}/primary", methodHandler.Promote)
		r.Delete("/methods/{methodID}", methodHandler.Disable)
	})
}
