package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mclarke-dev/aegis/internal/handlers"
	"github.com/mclarke-dev/aegis/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// MockAccountReader implements handlers.AccountReader for testing
type MockAccountReader struct {
	RegisterFunc      func(ctx context.Context, subject, email, providerRef string) (*models.Account, error)
	GetLockStatusFunc func(ctx context.Context, subjectOrAlias string) (*models.Account, error)
}

func (m *MockAccountReader) Register(ctx context.Context, subject, email, providerRef string) (*models.Account, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, subject, email, providerRef)
	}
	return &models.Account{Subject: subject, Email: email, ProviderRef: providerRef}, nil
}

func (m *MockAccountReader) GetLockStatus(ctx context.Context, subjectOrAlias string) (*models.Account, error) {
	if m.GetLockStatusFunc != nil {
		return m.GetLockStatusFunc(ctx, subjectOrAlias)
	}
	return nil, models.ErrNotFound
}

func accountRouter(service handlers.AccountReader) chi.Router {
	router := chi.NewRouter()
	handlers.NewAccountHandler(service).RegisterRoutes(router)
	return router
}

func TestRegisterAccount(t *testing.T) {
	router := accountRouter(&MockAccountReader{})

	body := bytes.NewBufferString(`{"subject":"user1","email":"user1@example.com","provider_ref":"auth0|user1"}`)
	req := httptest.NewRequest(http.MethodPost, "/accounts", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp handlers.LockStatusResponse
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "user1", resp.Subject)
	assert.False(t, resp.Locked)
}

func TestRegisterAccount_RejectsBadEmail(t *testing.T) {
	router := accountRouter(&MockAccountReader{})

	body := bytes.NewBufferString(`{"subject":"user1","email":"not-an-email"}`)
	req := httptest.NewRequest(http.MethodPost, "/accounts", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAccount_EmailConflictIs409(t *testing.T) {
	reader := &MockAccountReader{
		RegisterFunc: func(ctx context.Context, subject, email, providerRef string) (*models.Account, error) {
			return nil, models.ErrConflict
		},
	}
	router := accountRouter(reader)

	body := bytes.NewBufferString(`{"subject":"user2","email":"shared@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/accounts", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLockStatus_Locked(t *testing.T) {
	now := time.Now()
	reader := &MockAccountReader{
		GetLockStatusFunc: func(ctx context.Context, subjectOrAlias string) (*models.Account, error) {
			return &models.Account{Subject: "user1", Locked: true, LockedAt: &now}, nil
		},
	}
	router := accountRouter(reader)

	req := httptest.NewRequest(http.MethodGet, "/accounts/user1/lock", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.LockStatusResponse
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Locked)
	assert.NotEmpty(t, resp.LockedAt)
}

func TestLockStatus_UnknownSubjectIs404(t *testing.T) {
	router := accountRouter(&MockAccountReader{})

	req := httptest.NewRequest(http.MethodGet, "/accounts/ghost/lock", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
