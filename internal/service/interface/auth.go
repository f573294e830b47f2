// Package iface defines service interfaces for the crview CLI.
// These interfaces enable dependency injection and mocking for tests.
package iface

import (
	"context"
	"time"

	"github.com/crview/crview-cli/internal/api"
)

// AuthStatus describes the stored session credential.
type AuthStatus struct {
	LoggedIn  bool      `json:"logged_in" yaml:"logged_in"`
	Subject   string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Expired   bool      `json:"expired" yaml:"expired"`
	Storage   string    `json:"storage" yaml:"storage"`
}

// AuthService defines the interface for authentication operations
type AuthService interface {
	// Login exchanges email and password for a session credential and stores it
	Login(ctx context.Context, email, password string) (*api.User, error)

	// Logout removes the stored credential
	Logout(ctx context.Context) error

	// Register creates a new account
	Register(ctx context.Context, input *api.RegisterRequest) (*api.User, error)

	// Me returns the current user
	Me(ctx context.Context) (*api.User, error)

	// UpdateMe changes the current user's email or username
	UpdateMe(ctx context.Context, input *api.UpdateUserRequest) (*api.User, error)

	// ChangePassword changes the current user's password
	ChangePassword(ctx context.Context, currentPassword, newPassword string) error

	// IsLoggedIn checks if a credential is stored
	// Note: This only checks that a credential exists, not that the server accepts it
	IsLoggedIn(ctx context.Context) bool

	// Status reports the stored credential and its expiry
	Status(ctx context.Context) (*AuthStatus, error)

	// EnsureAuthenticated returns an error when no credential is stored
	EnsureAuthenticated(ctx context.Context) error
}
