package handlers

import (
	"log/slog"
	"net/http"

	"github.com/marinahub/sentinel/internal/services"
	pkghttp "github.com/marinahub/sentinel/pkg/http"
)

// SessionHandler handles session monitoring HTTP requests
type SessionHandler struct {
	sessions *services.SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions *services.SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// Analytics returns aggregate statistics over currently active sessions
func (h *SessionHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.sessions.GetSessionAnalytics(r.Context())
	if err != nil {
		h.logger.Error("failed to compute session analytics", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to compute session analytics")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, analytics)
}

// Scan triggers an on-demand session security scan outside the monitor's
// schedule. Useful while investigating an active incident.
func (h *SessionHandler) Scan(w http.ResponseWriter, r *http.Request) {
	result := h.sessions.RunSecurityScan(r.Context())

	pkghttp.WriteJSON(w, http.StatusOK, map[string]int{
		"processed": result.Processed,
		"revoked":   result.Revoked,
		"errors":    result.Errors,
	})
}
