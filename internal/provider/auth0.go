package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Auth0 failure-type log codes:
//   f / fp    failed login (wrong password)
//   fu        failed login (invalid username/email)
//   limit_wc  blocked account (too many attempts)
const auth0FailureQuery = "type:(f OR fp OR fu OR limit_wc)"

const auth0LogPageSize = 100

// Auth0Gateway implements IdentityProviderGateway against the Auth0
// Management API.
type Auth0Gateway struct {
	domain       string
	baseURL      string
	clientID     string
	clientSecret string
	client       *http.Client
	logger       *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewAuth0Gateway creates a gateway for the given Auth0 tenant. callTimeout
// bounds every outbound request so a hung provider never hangs a caller.
func NewAuth0Gateway(domain, clientID, clientSecret string, callTimeout time.Duration, logger *slog.Logger) *Auth0Gateway {
	return &Auth0Gateway{
		domain:       domain,
		baseURL:      fmt.Sprintf("https://%s", domain),
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       &http.Client{Timeout: callTimeout},
		logger:       logger,
	}
}

type auth0TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type auth0LogEntry struct {
	Type      string `json:"type"`
	Date      string `json:"date"`
	UserName  string `json:"user_name"`
	UserID    string `json:"user_id"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
}

// managementToken returns a cached Management API token, fetching a fresh
// one via client credentials when the cached token is near expiry.
func (g *Auth0Gateway) managementToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && time.Now().Before(g.tokenExpiry.Add(-30*time.Second)) {
		return g.token, nil
	}

	payload, err := json.Marshal(map[string]string{
		"client_id":     g.clientID,
		"client_secret": g.clientSecret,
		"audience":      fmt.Sprintf("https://%s/api/v2/", g.domain),
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/oauth/token", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("management token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("management token request returned %d: %s", resp.StatusCode, body)
	}

	var tokenResp auth0TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	g.token = tokenResp.AccessToken
	g.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)

	return g.token, nil
}

// FetchFailureLog pulls failure-type log entries and filters them to the
// requested window. Entries with unparseable dates are skipped.
func (g *Auth0Gateway) FetchFailureLog(ctx context.Context, windowStart, windowEnd time.Time) ([]ProviderLogEntry, error) {
	token, err := g.managementToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with management API: %w", err)
	}

	q := url.Values{}
	q.Set("q", auth0FailureQuery)
	q.Set("per_page", fmt.Sprintf("%d", auth0LogPageSize))
	q.Set("sort", "date:-1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v2/logs?%s", g.baseURL, q.Encode()), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build log request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("log fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("log fetch returned %d: %s", resp.StatusCode, body)
	}

	var rawLogs []auth0LogEntry
	if err := json.NewDecoder(resp.Body).Decode(&rawLogs); err != nil {
		return nil, fmt.Errorf("failed to decode log response: %w", err)
	}

	entries := make([]ProviderLogEntry, 0, len(rawLogs))
	for _, raw := range rawLogs {
		occurredAt, err := time.Parse(time.RFC3339, raw.Date)
		if err != nil {
			g.logger.Warn("skipping provider log entry with unparseable date",
				slog.String("date", raw.Date),
				slog.String("type", raw.Type))
			continue
		}

		if occurredAt.Before(windowStart) || occurredAt.After(windowEnd) {
			continue
		}

		alias := raw.UserName
		if alias == "" {
			alias = raw.UserID
		}
		if alias == "" {
			g.logger.Warn("skipping provider log entry without a subject alias",
				slog.String("type", raw.Type))
			continue
		}

		entries = append(entries, ProviderLogEntry{
			SubjectAlias: alias,
			OccurredAt:   occurredAt,
			ReasonCode:   raw.Type,
			IPAddress:    raw.IP,
			UserAgent:    raw.UserAgent,
		})
	}

	return entries, nil
}

// SetBlocked patches the user's blocked flag in Auth0. Failures come back as
// *PropagationError so call sites can recognize and log them.
func (g *Auth0Gateway) SetBlocked(ctx context.Context, providerRef string, blocked bool) error {
	token, err := g.managementToken(ctx)
	if err != nil {
		return &PropagationError{Op: "set_blocked", ProviderRef: providerRef, Err: err}
	}

	payload, err := json.Marshal(map[string]bool{"blocked": blocked})
	if err != nil {
		return &PropagationError{Op: "set_blocked", ProviderRef: providerRef, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/api/v2/users/%s", g.baseURL, url.PathEscape(providerRef)),
		bytes.NewReader(payload))
	if err != nil {
		return &PropagationError{Op: "set_blocked", ProviderRef: providerRef, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &PropagationError{Op: "set_blocked", ProviderRef: providerRef, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &PropagationError{
			Op:          "set_blocked",
			ProviderRef: providerRef,
			Err:         fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body),
		}
	}

	return nil
}
