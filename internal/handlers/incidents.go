package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marinahub/sentinel/internal/auth"
	"github.com/marinahub/sentinel/internal/models"
	"github.com/marinahub/sentinel/internal/repositories"
	pkghttp "github.com/marinahub/sentinel/pkg/http"
)

// IncidentHandler handles security incident review requests
type IncidentHandler struct {
	incidents *repositories.IncidentRepository
	logger    *slog.Logger
}

// NewIncidentHandler creates a new IncidentHandler
func NewIncidentHandler(incidents *repositories.IncidentRepository, logger *slog.Logger) *IncidentHandler {
	return &IncidentHandler{
		incidents: incidents,
		logger:    logger,
	}
}

// IncidentResponse represents a security incident in HTTP responses
type IncidentResponse struct {
	ID             string                 `json:"id"`
	Severity       string                 `json:"severity"`
	IncidentType   string                 `json:"incident_type"`
	UserID         *string                `json:"user_id,omitempty"`
	IPAddress      *string                `json:"ip_address,omitempty"`
	Description    string                 `json:"description"`
	Evidence       map[string]interface{} `json:"evidence,omitempty"`
	AdminNotified  bool                   `json:"admin_notified"`
	ResolvedBy     *string                `json:"resolved_by,omitempty"`
	ResolutionNote *string                `json:"resolution_note,omitempty"`
	ResolvedAt     *string                `json:"resolved_at,omitempty"`
	CreatedAt      string                 `json:"created_at"`
}

// ResolveIncidentRequest is the payload for closing an incident
type ResolveIncidentRequest struct {
	Note string `json:"note" validate:"required,max=1000"`
}

// List returns incidents newest first with limit/offset pagination
func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0

	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	incidents, err := h.incidents.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list incidents", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to list incidents")
		return
	}

	response := make([]*IncidentResponse, len(incidents))
	for i, inc := range incidents {
		response[i] = incidentToResponse(inc)
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": response,
		"limit":     limit,
		"offset":    offset,
	})
}

// Resolve closes an incident with a resolution note from the admin
func (h *IncidentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetAdminFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "invalid incident id")
		return
	}

	var req ResolveIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.incidents.Resolve(r.Context(), id, claims.UserID, req.Note); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "incident not found or already resolved")
			return
		}
		h.logger.Error("failed to resolve incident", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to resolve incident")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

func incidentToResponse(inc *models.SecurityIncident) *IncidentResponse {
	resp := &IncidentResponse{
		ID:            inc.ID.String(),
		Severity:      inc.Severity,
		IncidentType:  inc.IncidentType,
		UserID:        inc.UserID,
		IPAddress:     inc.IPAddress,
		Description:   inc.Description,
		Evidence:      inc.Evidence,
		AdminNotified: inc.AdminNotified,
		ResolvedBy:    inc.ResolvedBy,
		CreatedAt:     inc.CreatedAt.Format(time.RFC3339),
	}

	if inc.ResolutionNote != nil {
		resp.ResolutionNote = inc.ResolutionNote
	}
	if inc.ResolvedAt != nil {
		formatted := inc.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &formatted
	}

	return resp
}
