package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mclarke-dev/aegis/internal/models"
	pkghttp "github.com/mclarke-dev/aegis/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AccountReader defines the interface for account registration and lock reads
type AccountReader interface {
	Register(ctx context.Context, subject, email, providerRef string) (*models.Account, error)
	GetLockStatus(ctx context.Context, subjectOrAlias string) (*models.Account, error)
}

// AccountHandler handles account-facing HTTP requests
type AccountHandler struct {
	service AccountReader
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(service AccountReader) *AccountHandler {
	return &AccountHandler{
		service: service,
	}
}

// RegisterAccountRequest represents the request body for registering an account
type RegisterAccountRequest struct {
	Subject     string `json:"subject" validate:"required,min=1,max=320"`
	Email       string `json:"email" validate:"omitempty,email"`
	ProviderRef string `json:"provider_ref" validate:"omitempty,max=256"`
}

// LockStatusResponse represents an account's lock state
type LockStatusResponse struct {
	Subject  string `json:"subject"`
	Locked   bool   `json:"locked"`
	LockedAt string `json:"locked_at,omitempty"`
}

func lockStatusResponse(account *models.Account) *LockStatusResponse {
	resp := &LockStatusResponse{
		Subject: account.Subject,
		Locked:  account.Locked,
	}
	if account.LockedAt != nil {
		resp.LockedAt = account.LockedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

// RegisterRoutes registers the account routes with the chi router
func (h *AccountHandler) RegisterRoutes(router chi.Router) {
	router.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.RegisterAccount)         // POST /v1/accounts
		r.Get("/{subject}/lock", h.LockStatus) // GET /v1/accounts/{subject}/lock
	})
}

// RegisterAccount creates the account record for a newly-seen subject
//
// @Summary Register an account on first authentication
// @Accept json
// @Produce json
// @Success 201 {object} LockStatusResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /v1/accounts [post]
func (h *AccountHandler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	account, err := h.service.Register(r.Context(), req.Subject, req.Email, req.ProviderRef)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "subject is required")
			return
		}
		if errors.Is(err, models.ErrConflict) {
			pkghttp.WriteConflict(w, "email already registered to another subject")
			return
		}
		pkghttp.WriteInternalError(w, "failed to register account")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, lockStatusResponse(account))
}

// LockStatus returns the account's current lock state
//
// @Summary Get lock status for a subject
// @Param subject path string true "Subject ID or email alias"
// @Produce json
// @Success 200 {object} LockStatusResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /v1/accounts/{subject}/lock [get]
func (h *AccountHandler) LockStatus(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	if subject == "" {
		pkghttp.WriteBadRequest(w, "subject is required")
		return
	}

	account, err := h.service.GetLockStatus(r.Context(), subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "account not found")
			return
		}
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "subject is required")
			return
		}
		pkghttp.WriteInternalError(w, "failed to read lock status")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, lockStatusResponse(account))
}
