package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mclarke-dev/aegis/internal/auth"
	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/mclarke-dev/aegis/internal/services"
	pkghttp "github.com/mclarke-dev/aegis/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AccountAdministrator defines the interface for explicit lock overrides
type AccountAdministrator interface {
	AdminLock(ctx context.Context, subjectOrAlias, actor, reason string) (*models.Account, error)
	AdminUnlock(ctx context.Context, subjectOrAlias, actor, reason string) (*models.Account, error)
	SecurityHistory(ctx context.Context, subjectOrAlias string, limit, offset int) ([]*models.SecurityLog, error)
}

// Reconciler defines the interface for triggering a reconciliation run
type Reconciler interface {
	Run(ctx context.Context) (*services.ReconcileReport, error)
}

// AdminHandler handles administrative HTTP requests
type AdminHandler struct {
	accounts  AccountAdministrator
	reconcile Reconciler
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(accounts AccountAdministrator, reconcile Reconciler) *AdminHandler {
	return &AdminHandler{
		accounts:  accounts,
		reconcile: reconcile,
	}
}

// OverrideRequest represents the optional body for lock/unlock overrides
type OverrideRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=512"`
}

// SecurityLogResponse represents one audit-trail entry
type SecurityLogResponse struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	Subject      string `json:"subject"`
	Actor        string `json:"actor"`
	Reason       string `json:"reason"`
	FailureCount int    `json:"failure_count"`
	CreatedAt    string `json:"created_at"`
}

func securityLogResponse(log *models.SecurityLog) *SecurityLogResponse {
	return &SecurityLogResponse{
		ID:           log.ID,
		EventType:    log.EventType,
		Subject:      log.Subject,
		Actor:        log.Actor,
		Reason:       log.Reason,
		FailureCount: log.FailureCount,
		CreatedAt:    log.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// RegisterRoutes registers the admin routes with the chi router
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Post("/accounts/{subject}/lock", h.LockAccount)
		r.Post("/accounts/{subject}/unlock", h.UnlockAccount)
		r.Get("/accounts/{subject}/security-logs", h.SecurityLogs)
		r.Post("/reconcile", h.TriggerReconcile)
	})
}

// actor identifies the calling service for the audit trail
func actor(r *http.Request) string {
	if claims := auth.GetServiceFromContext(r); claims != nil {
		return claims.Service
	}
	return "unknown"
}

// decodeOverride reads the optional reason body; an empty body is fine
func decodeOverride(r *http.Request) (OverrideRequest, error) {
	var req OverrideRequest
	if r.Body == nil || r.ContentLength == 0 {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, ValidateRequest(req)
}

// LockAccount locks an account on operator authority
//
// @Summary Lock an account
// @Param subject path string true "Subject ID or email alias"
// @Produce json
// @Success 200 {object} LockStatusResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /v1/admin/accounts/{subject}/lock [post]
func (h *AdminHandler) LockAccount(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOverride(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}

	account, err := h.accounts.AdminLock(r.Context(), chi.URLParam(r, "subject"), actor(r), req.Reason)
	if err != nil {
		writeAdminError(w, err, "failed to lock account")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, lockStatusResponse(account))
}

// UnlockAccount clears a lock on operator authority
//
// @Summary Unlock an account
// @Param subject path string true "Subject ID or email alias"
// @Produce json
// @Success 200 {object} LockStatusResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /v1/admin/accounts/{subject}/unlock [post]
func (h *AdminHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	req, err := decodeOverride(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}

	account, err := h.accounts.AdminUnlock(r.Context(), chi.URLParam(r, "subject"), actor(r), req.Reason)
	if err != nil {
		writeAdminError(w, err, "failed to unlock account")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, lockStatusResponse(account))
}

// SecurityLogs returns the lock-transition audit trail for a subject
//
// @Summary List security log entries for a subject
// @Param subject path string true "Subject ID or email alias"
// @Param limit query int false "Limit (default 20)"
// @Param offset query int false "Offset (default 0)"
// @Produce json
// @Success 200 {array} SecurityLogResponse
// @Router /v1/admin/accounts/{subject}/security-logs [get]
func (h *AdminHandler) SecurityLogs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	logs, err := h.accounts.SecurityHistory(r.Context(), chi.URLParam(r, "subject"), limit, offset)
	if err != nil {
		writeAdminError(w, err, "failed to list security logs")
		return
	}

	resp := make([]*SecurityLogResponse, 0, len(logs))
	for _, log := range logs {
		resp = append(resp, securityLogResponse(log))
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// TriggerReconcile runs one reconciliation pass synchronously
//
// @Summary Trigger a reconciliation run
// @Produce json
// @Success 200 {object} services.ReconcileReport
// @Failure 409 {object} pkghttp.ErrorResponse
// @Failure 502 {object} pkghttp.ErrorResponse
// @Router /v1/admin/reconcile [post]
func (h *AdminHandler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconcile.Run(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrReconcileInProgress) {
			pkghttp.WriteConflict(w, "reconciliation already in progress")
			return
		}
		if errors.Is(err, models.ErrReconcileFetchFailed) {
			pkghttp.WriteError(w, http.StatusBadGateway, "provider_unavailable", "failed to fetch provider log")
			return
		}
		pkghttp.WriteInternalError(w, "reconciliation failed")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, report)
}

func writeAdminError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "account not found")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "subject is required")
	default:
		pkghttp.WriteInternalError(w, fallback)
	}
}
