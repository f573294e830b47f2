package credstore

import (
	"context"
	"fmt"
	"os"
)

// DefaultEnvKey is the environment variable read by EnvStore when none is configured.
const DefaultEnvKey = "CRVIEW_TOKEN"

// EnvStore provides read-only access to a credential held in an environment variable.
// Suitable for CI with a pre-issued token, but not for login or refresh.
type EnvStore struct {
	envKey string
}

var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variable.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	return &EnvStore{envKey: envKey}, nil
}

// Read returns the credential from the environment variable.
func (e *EnvStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token := os.Getenv(e.envKey)
	if token == "" {
		return "", ErrNotFound
	}
	return token, nil
}

// Write is not supported for environment variables.
func (e *EnvStore) Write(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is an environment variable", ErrReadOnly, e.envKey)
}

// Delete is not supported for environment variables.
func (e *EnvStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is an environment variable", ErrReadOnly, e.envKey)
}
