package cmd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crview/crview-cli/internal/api"
)

func TestJiraConnectionsListCommand_Run(t *testing.T) {
	m := newMocks()
	m.jira.ListConnectionsFunc = func(ctx context.Context) ([]api.JiraConnection, error) {
		return []api.JiraConnection{
			{ID: "c1", Name: "acme", JiraURL: "https://acme.atlassian.net", ProjectKey: "CR"},
		}, nil
	}

	output, err := execute(t, m.container(), "jira", "connections", "list")
	require.NoError(t, err)
	for _, want := range []string{"c1", "acme", "https://acme.atlassian.net", "CR"} {
		assert.Contains(t, output, want)
	}

	m.jira.ListConnectionsFunc = nil
	output, err = execute(t, m.container(), "jira", "connections", "list")
	require.NoError(t, err)
	assert.Contains(t, output, "No Jira connections found.")
}

func TestJiraConnectionsCreateCommand_Run(t *testing.T) {
	var got *api.JiraConnectionInput
	m := newMocks()
	m.jira.CreateConnectionFunc = func(ctx context.Context, input *api.JiraConnectionInput) (*api.JiraConnection, error) {
		got = input
		return &api.JiraConnection{ID: "c9", Name: input.Name, JiraURL: input.JiraURL, ProjectKey: input.ProjectKey}, nil
	}

	output, err := execute(t, m.container(), "jira", "connections", "create",
		"--name", "acme", "--jira-url", "https://acme.atlassian.net", "--project-key", "CR", "--client-id", "cid")
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "acme", got.Name)
	assert.Equal(t, "oauth2", got.AuthType)
	assert.Equal(t, "cid", got.ClientID)
	require.NotNil(t, got.IsCloud)
	assert.True(t, *got.IsCloud)
	assert.Contains(t, output, `✓ Connection "acme" created`)
	assert.Contains(t, output, "c9")
}

func TestJiraConnectionsUpdateCommand_OnlyChangedFlags(t *testing.T) {
	var got *api.JiraConnectionInput
	m := newMocks()
	m.jira.UpdateConnectionFunc = func(ctx context.Context, id string, input *api.JiraConnectionInput) (*api.JiraConnection, error) {
		assert.Equal(t, "c1", id)
		got = input
		return &api.JiraConnection{ID: id, Name: "acme"}, nil
	}

	_, err := execute(t, m.container(), "jira", "connections", "update", "c1", "--project-key", "OPS")
	require.NoError(t, err)

	assert.Equal(t, &api.JiraConnectionInput{ProjectKey: "OPS"}, got)
}

func TestJiraConnectionsDeleteCommand_Run(t *testing.T) {
	deleted := ""
	m := newMocks()
	m.jira.DeleteConnectionFunc = func(ctx context.Context, id string) error {
		deleted = id
		return nil
	}

	_, err := execute(t, m.container(), "jira", "connections", "delete", "c1")
	assert.ErrorContains(t, err, "use --yes")
	assert.Empty(t, deleted)

	output, err := execute(t, m.container(), "jira", "connections", "delete", "c1", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "c1", deleted)
	assert.Contains(t, output, "✓ Connection c1 deleted")
}

func TestJiraConnectionsTestCommand_Run(t *testing.T) {
	m := newMocks()
	m.jira.TestConnectionFunc = func(ctx context.Context, input *api.JiraConnectionTest) (*api.JiraTestResult, error) {
		if input.AccessToken == "good" {
			return &api.JiraTestResult{Success: true, Message: "Connected as dev"}, nil
		}
		return &api.JiraTestResult{Success: false, Message: "401 Unauthorized"}, nil
	}

	output, err := execute(t, m.container(), "jira", "connections", "test", "--jira-url", "https://acme.atlassian.net", "--access-token", "good")
	require.NoError(t, err)
	assert.Contains(t, output, "✓ Connected as dev")

	_, err = execute(t, m.container(), "jira", "connections", "test", "--jira-url", "https://acme.atlassian.net", "--access-token", "bad")
	assert.ErrorContains(t, err, "401 Unauthorized")
}

func TestJiraRefreshCommand_Run(t *testing.T) {
	var mu sync.Mutex
	var order []string
	m := newMocks()
	m.jira.RefreshTokenFunc = func(ctx context.Context, id string) (string, error) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		if id == "c2" {
			return "", &api.RefreshError{ConnectionID: id, Err: errors.New("invalid_grant")}
		}
		return "new", nil
	}

	output, err := execute(t, m.container(), "jira", "refresh", "c1", "c2", "c3")
	assert.ErrorContains(t, err, "1 of 3 refreshes failed")
	assert.Equal(t, []string{"c1", "c2", "c3"}, order)
	assert.Contains(t, output, "✓ c1 refreshed")
	assert.Contains(t, output, "✗ c2")
	assert.Contains(t, output, "invalid_grant")

	_, err = execute(t, m.container(), "jira", "refresh")
	assert.ErrorContains(t, err, "at least one connection ID")
}

func TestJiraRefreshCommand_WithCredentials(t *testing.T) {
	m := newMocks()
	m.jira.RefreshTokenWithCredentialsFunc = func(ctx context.Context, input *api.RefreshCredentialsRequest) (*api.RefreshTokenResponse, error) {
		assert.Equal(t, &api.RefreshCredentialsRequest{RefreshToken: "rt", ClientID: "id", ClientSecret: "secret"}, input)
		return &api.RefreshTokenResponse{Success: true, AccessToken: "fresh-access"}, nil
	}
	m.jira.RefreshTokenFunc = func(context.Context, string) (string, error) {
		t.Error("connection refresh must not be used")
		return "", nil
	}

	output, err := execute(t, m.container(), "jira", "refresh", "--client-id", "id", "--client-secret", "secret", "--refresh-token", "rt")
	require.NoError(t, err)
	assert.Contains(t, output, "fresh-access")

	_, err = execute(t, m.container(), "jira", "refresh", "--refresh-token", "rt")
	assert.Error(t, err, "credential flags go together")
}

func TestJiraStatusCommand_Run(t *testing.T) {
	m := newMocks()
	m.jira.ListConnectionsFunc = func(ctx context.Context) ([]api.JiraConnection, error) {
		return []api.JiraConnection{{ID: "c1"}, {ID: "c2"}}, nil
	}
	m.jira.ConnectionStatusFunc = func(ctx context.Context, id string) (*api.ConnectionStatus, error) {
		if id == "c2" {
			return nil, &api.APIError{StatusCode: 500, Message: "boom"}
		}
		return &api.ConnectionStatus{ConnectionID: id, TokenStatus: api.TokenValid}, nil
	}

	output, err := execute(t, m.container(), "jira", "status")
	require.NoError(t, err)
	assert.Contains(t, output, "connection healthy")
	assert.Contains(t, output, "connection error")

	output, err = execute(t, m.container(), "jira", "status", "c1", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, output, `"connection_id": "c1"`)
	assert.Contains(t, output, `"is_healthy": true`)
	assert.NotContains(t, output, "c2")
}

func TestJiraWatchCommand_RunsUntilCancelled(t *testing.T) {
	m := newMocks()
	m.jira.ConnectionStatusFunc = func(ctx context.Context, id string) (*api.ConnectionStatus, error) {
		return &api.ConnectionStatus{ConnectionID: id, TokenStatus: api.TokenExpiringSoon}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	output, err := executeContext(t, ctx, m.container(), "jira", "watch", "c1", "--interval", "50ms")
	require.NoError(t, err)
	assert.Contains(t, output, "c1  expiring_soon")
	assert.Contains(t, output, "token refreshed")
}

func TestJiraSwitchAndResources(t *testing.T) {
	m := newMocks()
	m.jira.AccessibleResourcesFunc = func(ctx context.Context, id string) ([]api.AccessibleResource, error) {
		return []api.AccessibleResource{{ID: "site-1", Name: "acme", URL: "https://acme.atlassian.net"}}, nil
	}
	m.jira.SwitchResourceFunc = func(ctx context.Context, connectionID, resourceID string) error {
		assert.Equal(t, "c1", connectionID)
		assert.Equal(t, "site-1", resourceID)
		return nil
	}

	output, err := execute(t, m.container(), "jira", "resources", "c1")
	require.NoError(t, err)
	assert.Contains(t, output, "site-1")

	output, err = execute(t, m.container(), "jira", "switch", "c1", "site-1")
	require.NoError(t, err)
	assert.Contains(t, output, "now uses resource site-1")
}

func TestJiraConfigCommand_Run(t *testing.T) {
	m := newMocks()
	m.jira.FieldsFunc = func(ctx context.Context) ([]api.JiraField, error) {
		return []api.JiraField{{Name: "summary", Label: "Summary", Type: "string", Required: true}}, nil
	}

	output, err := execute(t, m.container(), "jira", "config")
	require.NoError(t, err)
	assert.Contains(t, output, "Auth types: [oauth2]")
	assert.Contains(t, output, "summary")
	assert.Contains(t, output, "yes")
}

func TestJiraConnectCommand_RequiresClientID(t *testing.T) {
	_, err := execute(t, newMocks().container(), "jira", "connect")
	assert.ErrorContains(t, err, "client-id")
}
