package credstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Read when no credential is stored.
	ErrNotFound = errors.New("no credential stored")

	// ErrReadOnly is returned by Write and Delete on backends that cannot be modified.
	ErrReadOnly = errors.New("credential storage is read-only")
)

// Store reads and writes the session credential.
type Store interface {
	// Read returns the stored credential or ErrNotFound.
	Read(ctx context.Context) (string, error)

	// Write replaces the stored credential.
	Write(ctx context.Context, token string) error

	// Delete removes the stored credential. Deleting a missing credential is not an error.
	Delete(ctx context.Context) error
}

// Lookup returns the stored credential, or "" when none is stored.
// Errors other than ErrNotFound are returned unchanged.
func Lookup(ctx context.Context, s Store) (string, error) {
	token, err := s.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return token, err
}
