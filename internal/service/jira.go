package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/crview/crview-cli/internal/api"
	iface "github.com/crview/crview-cli/internal/service/interface"
)

const (
	jiraConnectionsPath = "/api/jira/connections"
	jiraOAuthPath       = "/api/jira/oauth"
)

// jiraService implements iface.JiraService
type jiraService struct {
	client *api.Client
	auth   iface.AuthService
}

// NewJiraService creates a new Jira service
func NewJiraService(client *api.Client, authService iface.AuthService) iface.JiraService {
	return &jiraService{
		client: client,
		auth:   authService,
	}
}

func (s *jiraService) ListConnections(ctx context.Context) ([]api.JiraConnection, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.client.Get(ctx, jiraConnectionsPath, &raw); err != nil {
		return nil, fmt.Errorf("failed to list Jira connections: %w", err)
	}
	return decodeList[api.JiraConnection](raw, "connections")
}

func (s *jiraService) GetConnection(ctx context.Context, id string) (*api.JiraConnection, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	var conn api.JiraConnection
	if err := s.client.Get(ctx, jiraConnectionsPath+"/"+pathID(id), &conn); err != nil {
		return nil, fmt.Errorf("failed to get Jira connection: %w", err)
	}
	return &conn, nil
}

func (s *jiraService) CreateConnection(ctx context.Context, input *api.JiraConnectionInput) (*api.JiraConnection, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Name) == "" || input.JiraURL == "" {
		return nil, fmt.Errorf("connection name and Jira URL are required")
	}
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid connection: %w", err)
	}

	var conn api.JiraConnection
	if err := s.client.Post(ctx, jiraConnectionsPath, input, &conn); err != nil {
		return nil, fmt.Errorf("failed to create Jira connection: %w", err)
	}
	return &conn, nil
}

func (s *jiraService) UpdateConnection(ctx context.Context, id string, input *api.JiraConnectionInput) (*api.JiraConnection, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid connection: %w", err)
	}

	var conn api.JiraConnection
	if err := s.client.Put(ctx, jiraConnectionsPath+"/"+pathID(id), input, &conn); err != nil {
		return nil, fmt.Errorf("failed to update Jira connection: %w", err)
	}
	return &conn, nil
}

func (s *jiraService) DeleteConnection(ctx context.Context, id string) error {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	if err := s.client.Delete(ctx, jiraConnectionsPath+"/"+pathID(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete Jira connection: %w", err)
	}
	return nil
}

func (s *jiraService) TestConnection(ctx context.Context, input *api.JiraConnectionTest) (*api.JiraTestResult, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid connection test: %w", err)
	}

	var result api.JiraTestResult
	if err := s.client.Post(ctx, jiraConnectionsPath+"/test", input, &result); err != nil {
		return nil, fmt.Errorf("failed to test Jira connection: %w", err)
	}
	return &result, nil
}

func (s *jiraService) AuthTypes(ctx context.Context) ([]string, error) {
	var raw json.RawMessage
	if err := s.client.Get(ctx, "/api/jira/config/auth-types", &raw); err != nil {
		return nil, fmt.Errorf("failed to get auth types: %w", err)
	}
	return decodeList[string](raw, "auth_types")
}

func (s *jiraService) Fields(ctx context.Context) ([]api.JiraField, error) {
	var raw json.RawMessage
	if err := s.client.Get(ctx, "/api/jira/config/fields", &raw); err != nil {
		return nil, fmt.Errorf("failed to get Jira fields: %w", err)
	}
	return decodeList[api.JiraField](raw, "fields")
}

func (s *jiraService) AuthURL(ctx context.Context, input *api.AuthURLRequest) (string, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return "", err
	}

	params := url.Values{}
	if input.JiraURL != "" {
		params.Set("jira_url", input.JiraURL)
	}
	if input.ClientID != "" {
		params.Set("client_id", input.ClientID)
	}
	if input.RedirectURI != "" {
		params.Set("redirect_uri", input.RedirectURI)
	}

	var resp api.AuthURLResponse
	if err := s.client.Get(ctx, jiraOAuthPath+"/auth-url?"+params.Encode(), &resp); err != nil {
		return "", fmt.Errorf("failed to get authorization URL: %w", err)
	}
	return resp.AuthURL, nil
}

// ExchangeToken trades an authorization code for a connection. Servers answer with
// {connection, token_data} or with the connection itself.
func (s *jiraService) ExchangeToken(ctx context.Context, code, redirectURI string) (*api.ExchangeTokenResponse, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	body := api.ExchangeTokenRequest{Code: code, RedirectURI: redirectURI}

	var raw json.RawMessage
	if err := s.client.Post(ctx, jiraOAuthPath+"/exchange-token", body, &raw); err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	var resp api.ExchangeTokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse exchange response: %w", err)
	}
	if resp.Connection.ID == "" {
		if err := json.Unmarshal(raw, &resp.Connection); err != nil {
			return nil, fmt.Errorf("failed to parse exchange response: %w", err)
		}
	}
	return &resp, nil
}

// RefreshToken refreshes the Jira token of a connection by ID.
// The returned access token becomes the session credential.
func (s *jiraService) RefreshToken(ctx context.Context, connectionID string) (string, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return "", err
	}

	token, err := s.client.RefreshConnection(ctx, connectionID)
	if err != nil {
		return "", &api.RefreshError{ConnectionID: connectionID, Err: err}
	}
	return token, nil
}

func (s *jiraService) RefreshTokenWithCredentials(ctx context.Context, input *api.RefreshCredentialsRequest) (*api.RefreshTokenResponse, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid refresh request: %w", err)
	}

	var resp api.RefreshTokenResponse
	if err := s.client.Post(ctx, api.RefreshTokenPath, input, &resp); err != nil {
		return nil, fmt.Errorf("failed to refresh Jira token: %w", err)
	}
	return &resp, nil
}

func (s *jiraService) RevokeToken(ctx context.Context, input *api.RevokeTokenRequest) error {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return err
	}
	if err := validate.Struct(input); err != nil {
		return fmt.Errorf("invalid revoke request: %w", err)
	}

	if err := s.client.Post(ctx, jiraOAuthPath+"/revoke-token", input, nil); err != nil {
		return fmt.Errorf("failed to revoke Jira token: %w", err)
	}
	return nil
}

func (s *jiraService) AccessibleResources(ctx context.Context, connectionID string) ([]api.AccessibleResource, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.client.Get(ctx, "/api/jira/accessible-resources/"+pathID(connectionID), &raw); err != nil {
		return nil, fmt.Errorf("failed to list accessible resources: %w", err)
	}
	return decodeList[api.AccessibleResource](raw, "resources")
}

func (s *jiraService) SwitchResource(ctx context.Context, connectionID, resourceID string) error {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	body := api.SwitchResourceRequest{ResourceID: resourceID}
	if err := s.client.Post(ctx, "/api/jira/switch-resource/"+pathID(connectionID), body, nil); err != nil {
		return fmt.Errorf("failed to switch Jira resource: %w", err)
	}
	return nil
}

func (s *jiraService) ConnectionStatus(ctx context.Context, connectionID string) (*api.ConnectionStatus, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	var status api.ConnectionStatus
	if err := s.client.Get(ctx, "/api/jira/connection-status/"+pathID(connectionID), &status); err != nil {
		return nil, fmt.Errorf("failed to get connection status: %w", err)
	}
	if status.ConnectionID == "" {
		status.ConnectionID = connectionID
	}
	return &status, nil
}
