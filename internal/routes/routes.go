package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/marinahub/sentinel/internal/auth"
	"github.com/marinahub/sentinel/internal/handlers"
	"github.com/marinahub/sentinel/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	securityHandler *handlers.SecurityHandler,
	incidentHandler *handlers.IncidentHandler,
	sessionHandler *handlers.SessionHandler,
	tokenManager *auth.TokenManager,
) {
	checkLimit := middleware.DefaultCheckRateLimit()
	unlockLimit := middleware.DefaultUnlockRateLimit()

	// Service-to-service routes called by the platform's login flow
	router.With(middleware.RateLimitByIP(checkLimit)).Post("/security/attempts", securityHandler.RecordAttempt)
	router.With(middleware.RateLimitByIP(checkLimit)).Post("/security/check", securityHandler.CheckStatus)

	// Unlock routes are user-facing and tightly limited
	router.With(middleware.RateLimitByIP(unlockLimit)).Post("/security/unlock", securityHandler.Unlock)
	router.With(middleware.RateLimitByIP(unlockLimit)).Post("/security/unlock/challenge", securityHandler.IssueUnlockChallenge)

	// Admin routes - admin token required
	router.Group(func(r chi.Router) {
		r.Use(auth.AdminMiddleware(tokenManager))

		r.Post("/admin/security/unlock", securityHandler.AdminUnlock)
		r.Post("/admin/security/lock", securityHandler.ManualLock)
		r.Get("/admin/security/incidents", incidentHandler.List)
		r.Post("/admin/security/incidents/{id}/resolve", incidentHandler.Resolve)
		r.Get("/admin/security/sessions/analytics", sessionHandler.Analytics)
		r.Post("/admin/security/sessions/scan", sessionHandler.Scan)
	})
}
