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

// apiKeyService implements iface.APIKeyService
type apiKeyService struct {
	client *api.Client
	auth   iface.AuthService
}

// NewAPIKeyService creates a new API key service
func NewAPIKeyService(client *api.Client, authService iface.AuthService) iface.APIKeyService {
	return &apiKeyService{client: client, auth: authService}
}

func (s *apiKeyService) List(ctx context.Context) ([]api.APIKey, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.client.Get(ctx, "/api/apikeys/list", &raw); err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return decodeList[api.APIKey](raw, "api_keys", "apikeys")
}

func (s *apiKeyService) Create(ctx context.Context, name string) (*api.GeneratedAPIKey, error) {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("API key name is required")
	}

	var key api.GeneratedAPIKey
	path := "/api/apikeys/create?" + url.Values{"name": {name}}.Encode()
	if err := s.client.Post(ctx, path, nil, &key); err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}
	return &key, nil
}

func (s *apiKeyService) UpdateStatus(ctx context.Context, id, status string) error {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	switch status {
	case api.APIKeyActive, api.APIKeyInactive, api.APIKeyRevoked:
	default:
		return fmt.Errorf("invalid API key status %q", status)
	}

	body := api.APIKeyStatusRequest{Status: status}
	if err := s.client.Put(ctx, "/api/apikeys/"+pathID(id)+"/status", body, nil); err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}
	return nil
}

func (s *apiKeyService) Delete(ctx context.Context, id string) error {
	if err := s.auth.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	body := api.APIKeyDeleteRequest{ConfirmDelete: true}
	if err := s.client.Delete(ctx, "/api/apikeys/"+pathID(id), body, nil); err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}
	return nil
}
