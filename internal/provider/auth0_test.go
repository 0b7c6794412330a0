package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestGateway(t *testing.T, handler http.Handler) (*Auth0Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	gateway := NewAuth0Gateway("tenant.auth0.com", "client-id", "client-secret", 5*time.Second, logger)
	gateway.baseURL = srv.URL
	return gateway, srv
}

func tokenResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": "mgmt-token",
		"expires_in":   86400,
	})
}

func TestAuth0FetchFailureLog(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		tokenResponse(w)
	})
	mux.HandleFunc("/api/v2/logs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer mgmt-token", r.Header.Get("Authorization"))
		assert.Equal(t, auth0FailureQuery, r.URL.Query().Get("q"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]string{
			{
				"type":       "f",
				"date":       now.Add(-1 * time.Hour).Format(time.RFC3339),
				"user_name":  "user1@example.com",
				"ip":         "203.0.113.7",
				"user_agent": "auth0-widget",
			},
			{
				// Outside the window, filtered client-side
				"type":      "fu",
				"date":      now.Add(-48 * time.Hour).Format(time.RFC3339),
				"user_name": "old@example.com",
			},
			{
				// Unparseable date, skipped
				"type":      "f",
				"date":      "yesterday",
				"user_name": "bad@example.com",
			},
			{
				// No user_name, falls back to user_id
				"type":    "limit_wc",
				"date":    now.Add(-2 * time.Hour).Format(time.RFC3339),
				"user_id": "auth0|abc123",
			},
		})
	})

	gateway, _ := newTestGateway(t, mux)

	entries, err := gateway.FetchFailureLog(context.Background(), now.Add(-24*time.Hour), now)

	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "user1@example.com", entries[0].SubjectAlias)
	assert.Equal(t, "f", entries[0].ReasonCode)
	assert.Equal(t, "203.0.113.7", entries[0].IPAddress)
	assert.Equal(t, "auth0|abc123", entries[1].SubjectAlias)
	assert.Equal(t, "limit_wc", entries[1].ReasonCode)
}

func TestAuth0FetchFailureLog_TokenFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})

	gateway, _ := newTestGateway(t, mux)

	_, err := gateway.FetchFailureLog(context.Background(), time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err)
}

func TestAuth0SetBlocked(t *testing.T) {
	var gotBody map[string]bool
	var gotPath string

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenResponse(w)
	})
	mux.HandleFunc("/api/v2/users/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		gotPath = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})

	gateway, _ := newTestGateway(t, mux)

	err := gateway.SetBlocked(context.Background(), "auth0|abc123", true)

	assert.NoError(t, err)
	assert.Equal(t, map[string]bool{"blocked": true}, gotBody)
	assert.Contains(t, gotPath, "auth0|abc123")
}

func TestAuth0SetBlocked_ReturnsPropagationError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenResponse(w)
	})
	mux.HandleFunc("/api/v2/users/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	gateway, _ := newTestGateway(t, mux)

	err := gateway.SetBlocked(context.Background(), "auth0|abc123", true)

	assert.Error(t, err)
	var propErr *PropagationError
	assert.ErrorAs(t, err, &propErr)
	assert.Equal(t, "set_blocked", propErr.Op)
	assert.Equal(t, "auth0|abc123", propErr.ProviderRef)
}

func TestAuth0ManagementTokenCached(t *testing.T) {
	tokenCalls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		tokenResponse(w)
	})
	mux.HandleFunc("/api/v2/users/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	gateway, _ := newTestGateway(t, mux)

	assert.NoError(t, gateway.SetBlocked(context.Background(), "auth0|a", true))
	assert.NoError(t, gateway.SetBlocked(context.Background(), "auth0|b", true))

	assert.Equal(t, 1, tokenCalls)
}
