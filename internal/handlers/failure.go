package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/mclarke-dev/aegis/internal/services"
	pkghttp "github.com/mclarke-dev/aegis/pkg/http"
)

// FailureReporter defines the interface for the failure ingestion logic
type FailureReporter interface {
	ReportFailure(ctx context.Context, input services.ReportFailureInput) (*services.IngestResult, error)
}

// FailureHandler handles failure-reporting HTTP requests
type FailureHandler struct {
	service  FailureReporter
	ipConfig *pkghttp.IPConfig
}

// NewFailureHandler creates a new FailureHandler
func NewFailureHandler(service FailureReporter, ipConfig *pkghttp.IPConfig) *FailureHandler {
	return &FailureHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// ReportFailureRequest represents the request body for reporting a failure
type ReportFailureRequest struct {
	Subject    string `json:"subject" validate:"required,min=1,max=320"`
	Reason     string `json:"reason" validate:"omitempty,oneof=invalid_credentials account_not_found account_locked invalid_token expired_token"`
	UserAgent  string `json:"user_agent" validate:"omitempty,max=1024"`
	OccurredAt string `json:"occurred_at" validate:"omitempty"` // RFC 3339; defaults to receipt time
}

// ReportFailure records an observed authentication failure
//
// @Summary Report an authentication failure
// @Accept json
// @Produce json
// @Success 200 {object} services.IngestResult
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /v1/failures [post]
func (h *FailureHandler) ReportFailure(w http.ResponseWriter, r *http.Request) {
	var req ReportFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var occurredAt time.Time
	if req.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			pkghttp.WriteBadRequest(w, "occurred_at must be RFC 3339")
			return
		}
		occurredAt = parsed
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = r.UserAgent()
	}

	result, err := h.service.ReportFailure(r.Context(), services.ReportFailureInput{
		SubjectOrAlias: req.Subject,
		Reason:         models.FailureReason(req.Reason),
		IPAddress:      pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:      userAgent,
		OccurredAt:     occurredAt,
	})
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "subject is required")
			return
		}
		pkghttp.WriteInternalError(w, "failed to record failure")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}
