package iface

import (
	"context"

	"github.com/crview/crview-cli/internal/api"
)

// APIKeyService defines the interface for API key operations
type APIKeyService interface {
	// List returns all API keys of the current user
	List(ctx context.Context) ([]api.APIKey, error)

	// Create generates a new key. The full key is only returned here.
	Create(ctx context.Context, name string) (*api.GeneratedAPIKey, error)

	// UpdateStatus sets a key to active, inactive or revoked
	UpdateStatus(ctx context.Context, id, status string) error

	// Delete removes a key
	Delete(ctx context.Context, id string) error
}
