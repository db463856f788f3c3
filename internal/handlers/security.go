package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/marinahub/sentinel/internal/auth"
	"github.com/marinahub/sentinel/internal/models"
	"github.com/marinahub/sentinel/internal/services"
	pkghttp "github.com/marinahub/sentinel/pkg/http"
)

// SessionRevoker terminates all active sessions for a locked account
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error)
}

// SecurityHandler handles lockout and unlock HTTP requests
type SecurityHandler struct {
	lockouts   *services.LockoutService
	challenges *auth.ChallengeManager
	sessions   SessionRevoker
	ipConfig   *pkghttp.IPConfig
	logger     *slog.Logger
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(
	lockouts *services.LockoutService,
	challenges *auth.ChallengeManager,
	sessions SessionRevoker,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) *SecurityHandler {
	return &SecurityHandler{
		lockouts:   lockouts,
		challenges: challenges,
		sessions:   sessions,
		ipConfig:   ipConfig,
		logger:     logger,
	}
}

// RecordAttemptRequest is the payload for reporting a failed login or
// password-reset attempt
type RecordAttemptRequest struct {
	UserID    *string `json:"user_id" validate:"omitempty,uuid"`
	IPAddress string  `json:"ip_address" validate:"omitempty,ip"`
	UserAgent string  `json:"user_agent" validate:"max=512"`
	EventType string  `json:"event_type" validate:"omitempty,oneof=failed_login password_reset_attempt"`
	Reason    string  `json:"reason" validate:"required,max=200"`
}

// CheckStatusRequest is the payload for a lockout status check
type CheckStatusRequest struct {
	UserID    *string `json:"user_id" validate:"omitempty,uuid"`
	IPAddress string  `json:"ip_address" validate:"omitempty,ip"`
	Role      string  `json:"role" validate:"omitempty,oneof=user business_owner admin"`
}

// LockoutStatusResponse mirrors the derived lockout status
type LockoutStatusResponse struct {
	IsLocked                  bool    `json:"is_locked"`
	LockType                  string  `json:"lock_type,omitempty"`
	LockedUntil               *string `json:"locked_until,omitempty"`
	Reason                    string  `json:"reason,omitempty"`
	AttemptCount              int     `json:"attempt_count"`
	MaxAttempts               int     `json:"max_attempts"`
	SuggestedDelayMs          int64   `json:"suggested_delay_ms"`
	RequiresAdminIntervention bool    `json:"requires_admin_intervention"`
	OpenIncidents24h          int     `json:"open_incidents_24h"`
}

// UnlockHTTPRequest is the payload for lifting a lockout
type UnlockHTTPRequest struct {
	UserID            *string `json:"user_id" validate:"omitempty,uuid"`
	IPAddress         *string `json:"ip_address" validate:"omitempty,ip"`
	Method            string  `json:"method" validate:"required,oneof=automatic admin time_based verification"`
	VerificationToken *string `json:"verification_token" validate:"omitempty,max=16"`
	Reason            *string `json:"reason" validate:"omitempty,max=200"`
}

// ChallengeRequest asks for a verification unlock code to be issued
type ChallengeRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

// ManualLockRequest is the payload for an admin-imposed lock
type ManualLockRequest struct {
	UserID    *string `json:"user_id" validate:"omitempty,uuid"`
	IPAddress *string `json:"ip_address" validate:"omitempty,ip"`
	Reason    string  `json:"reason" validate:"required,max=200"`
}

// RecordAttempt records a failed login or password-reset attempt reported by
// a platform route
func (h *SecurityHandler) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	var req RecordAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := req.IPAddress
	if ip == "" {
		ip = pkghttp.ExtractClientIP(r, h.ipConfig)
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	if err := h.lockouts.RecordAttempt(r.Context(), req.UserID, ip, req.UserAgent, req.EventType, req.Reason); err != nil {
		h.logger.Error("failed to record login attempt", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "failed to record attempt")
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]bool{"recorded": true})
}

// CheckStatus evaluates the current lockout status for a user and/or IP
func (h *SecurityHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	var req CheckStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := req.IPAddress
	if ip == "" {
		ip = pkghttp.ExtractClientIP(r, h.ipConfig)
	}
	role := models.Role(req.Role)
	if req.Role == "" {
		role = models.RoleUser
	}

	status := h.lockouts.CheckStatus(r.Context(), req.UserID, &ip, role)

	pkghttp.WriteJSON(w, http.StatusOK, statusToResponse(status))
}

// Unlock lifts a lockout via the time_based or verification path. Admin
// unlocks go through AdminUnlock instead.
func (h *SecurityHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	method := models.UnlockMethod(req.Method)
	if method == models.UnlockMethodAdmin {
		pkghttp.WriteForbidden(w, "admin unlock requires the admin API")
		return
	}

	h.serveUnlock(w, r, models.UnlockRequest{
		UserID:            req.UserID,
		IPAddress:         req.IPAddress,
		Method:            method,
		VerificationToken: req.VerificationToken,
		Reason:            req.Reason,
	})
}

// AdminUnlock lifts a lockout on behalf of the authenticated admin
func (h *SecurityHandler) AdminUnlock(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetAdminFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req UnlockHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.serveUnlock(w, r, models.UnlockRequest{
		UserID:      req.UserID,
		IPAddress:   req.IPAddress,
		Method:      models.UnlockMethodAdmin,
		AdminUserID: &claims.UserID,
		Reason:      req.Reason,
	})
}

func (h *SecurityHandler) serveUnlock(w http.ResponseWriter, r *http.Request, req models.UnlockRequest) {
	result, err := h.lockouts.Unlock(r.Context(), req)
	if err != nil {
		h.logger.Error("unlock failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "unlock failed")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	pkghttp.WriteJSON(w, status, result)
}

// IssueUnlockChallenge emails a fresh verification unlock code to the user.
// The response never reveals whether the user exists.
func (h *SecurityHandler) IssueUnlockChallenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.challenges.Issue(r.Context(), req.UserID); err != nil {
		h.logger.Error("failed to issue unlock challenge", slog.Any("error", err))
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "if the account exists, a code has been sent",
	})
}

// ManualLock applies an admin-imposed lock to a user and/or IP
func (h *SecurityHandler) ManualLock(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetAdminFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ManualLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if req.UserID == nil && req.IPAddress == nil {
		pkghttp.WriteBadRequest(w, "either user_id or ip_address is required")
		return
	}

	event := h.lockouts.ApplyLockout(r.Context(), services.ApplyLockoutInput{
		UserID:    req.UserID,
		IPAddress: req.IPAddress,
		Role:      models.RoleUser,
		LockType:  models.LockTypeAdmin,
		EventType: models.EventTypeManualLock,
		Reason:    req.Reason,
	})
	if event == nil {
		pkghttp.WriteInternalError(w, "failed to apply lock")
		return
	}

	// A manually locked account must not keep working through sessions that
	// predate the lock.
	var revoked int64
	if req.UserID != nil {
		n, err := h.sessions.RevokeAllForUser(r.Context(), *req.UserID, models.RevokeReasonSecurityIncident)
		if err != nil {
			h.logger.Error("failed to revoke sessions for locked account",
				slog.String("user_id", *req.UserID), slog.Any("error", err))
		} else {
			revoked = n
		}
	}

	resp := map[string]interface{}{
		"locked":           true,
		"locked_by":        claims.UserID,
		"sessions_revoked": revoked,
	}
	if event.LockedUntil != nil {
		resp["locked_until"] = event.LockedUntil.Format(time.RFC3339)
	}
	pkghttp.WriteJSON(w, http.StatusCreated, resp)
}

func statusToResponse(status models.LockoutStatus) LockoutStatusResponse {
	resp := LockoutStatusResponse{
		IsLocked:                  status.IsLocked,
		Reason:                    status.Reason,
		AttemptCount:              status.AttemptCount,
		MaxAttempts:               status.MaxAttempts,
		SuggestedDelayMs:          status.SuggestedDelay.Milliseconds(),
		RequiresAdminIntervention: status.RequiresAdminIntervention,
		OpenIncidents24h:          status.OpenIncidents24h,
	}
	if status.IsLocked {
		resp.LockType = string(status.LockType)
	}
	if status.LockedUntil != nil {
		formatted := status.LockedUntil.Format(time.RFC3339)
		resp.LockedUntil = &formatted
	}
	return resp
}
