package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// RefreshTokenPath is the endpoint that refreshes a Jira connection's OAuth token.
const RefreshTokenPath = "/api/jira/oauth/refresh-token"

// ErrRefreshRejected is wrapped when the server answers a refresh with success=false.
var ErrRefreshRejected = errors.New("token refresh rejected")

// Refresher refreshes the token of one Jira connection.
// It returns the new session credential, or "" when the current one stays valid.
type Refresher interface {
	Refresh(ctx context.Context, connectionID string) (string, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, connectionID string) (string, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, connectionID string) (string, error) {
	return f(ctx, connectionID)
}

// RefreshError is returned to the request that triggered a failed refresh
// and to every request queued behind it.
type RefreshError struct {
	ConnectionID string
	Err          error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("failed to refresh jira token for connection %s: %v", e.ConnectionID, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// RefreshTokenRequest is the body of a connection token refresh.
type RefreshTokenRequest struct {
	ConnectionID string `json:"connection_id"`
}

// RefreshTokenResponse is the refresh endpoint's answer.
type RefreshTokenResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"access_token,omitempty"`
	Message     string `json:"message,omitempty"`
}

type jiraRefresher struct {
	baseURL    string
	httpClient *http.Client
}

// NewJiraRefresher creates a Refresher that calls the refresh endpoint with httpClient.
// httpClient must not retry on 401 itself.
func NewJiraRefresher(baseURL string, httpClient *http.Client) Refresher {
	return &jiraRefresher{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

func (r *jiraRefresher) Refresh(ctx context.Context, connectionID string) (string, error) {
	body, err := json.Marshal(RefreshTokenRequest{ConnectionID: connectionID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+RefreshTokenPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", newAPIError(resp.StatusCode, respBody)
	}

	var result RefreshTokenResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "server reported failure"
		}
		return "", fmt.Errorf("%w: %s", ErrRefreshRejected, msg)
	}

	return result.AccessToken, nil
}
