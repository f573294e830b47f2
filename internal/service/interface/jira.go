package iface

import (
	"context"

	"github.com/crview/crview-cli/internal/api"
)

// JiraService defines the interface for Jira integration operations
type JiraService interface {
	ListConnections(ctx context.Context) ([]api.JiraConnection, error)
	GetConnection(ctx context.Context, id string) (*api.JiraConnection, error)
	CreateConnection(ctx context.Context, input *api.JiraConnectionInput) (*api.JiraConnection, error)
	UpdateConnection(ctx context.Context, id string, input *api.JiraConnectionInput) (*api.JiraConnection, error)
	DeleteConnection(ctx context.Context, id string) error
	TestConnection(ctx context.Context, input *api.JiraConnectionTest) (*api.JiraTestResult, error)

	// AuthTypes lists the authentication methods the server supports
	AuthTypes(ctx context.Context) ([]string, error)

	// Fields lists the Jira fields that can be filled when syncing issues
	Fields(ctx context.Context) ([]api.JiraField, error)

	// AuthURL asks the server for an OAuth authorization URL
	AuthURL(ctx context.Context, input *api.AuthURLRequest) (string, error)

	// ExchangeToken trades an authorization code for a new connection
	ExchangeToken(ctx context.Context, code, redirectURI string) (*api.ExchangeTokenResponse, error)

	// RefreshToken refreshes the Jira token of a connection. The returned
	// credential is empty when the server only refreshed its side.
	RefreshToken(ctx context.Context, connectionID string) (string, error)

	// RefreshTokenWithCredentials refreshes a Jira token from explicit OAuth client credentials
	RefreshTokenWithCredentials(ctx context.Context, input *api.RefreshCredentialsRequest) (*api.RefreshTokenResponse, error)

	// RevokeToken revokes a Jira OAuth token
	RevokeToken(ctx context.Context, input *api.RevokeTokenRequest) error

	AccessibleResources(ctx context.Context, connectionID string) ([]api.AccessibleResource, error)
	SwitchResource(ctx context.Context, connectionID, resourceID string) error
	ConnectionStatus(ctx context.Context, connectionID string) (*api.ConnectionStatus, error)
}
