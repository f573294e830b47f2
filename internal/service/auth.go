package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crview/crview-cli/internal/api"
	"github.com/crview/crview-cli/internal/auth"
	"github.com/crview/crview-cli/internal/credstore"
	"github.com/crview/crview-cli/internal/logging"
	iface "github.com/crview/crview-cli/internal/service/interface"
)

// authService implements iface.AuthService
type authService struct {
	client  *api.Client
	creds   credstore.Store
	storage string
}

// NewAuthService creates a new authentication service.
// storage names the configured credential backend and is only reported by Status.
func NewAuthService(client *api.Client, storage string) iface.AuthService {
	return &authService{
		client:  client,
		creds:   client.Credentials(),
		storage: storage,
	}
}

// Login performs the password grant and saves the credential
func (s *authService) Login(ctx context.Context, email, password string) (*api.User, error) {
	if s.IsLoggedIn(ctx) {
		return nil, fmt.Errorf("already logged in. Use 'crview logout' first to log out")
	}

	token, err := auth.PasswordLogin(ctx, s.client.HTTPClient(), s.client.BaseURL(), email, password)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	if err := s.creds.Write(ctx, token.AccessToken); err != nil {
		if errors.Is(err, credstore.ErrReadOnly) {
			return nil, fmt.Errorf("cannot store credential: %s storage is read-only", s.storage)
		}
		return nil, fmt.Errorf("failed to save credential: %w", err)
	}

	slog.DebugContext(ctx, "stored session credential", "token", logging.Redact(token.AccessToken))

	if user := auth.UserFromToken(token); user != nil {
		return user, nil
	}
	return s.Me(ctx)
}

// Logout clears the stored credential
func (s *authService) Logout(ctx context.Context) error {
	if !s.IsLoggedIn(ctx) {
		return fmt.Errorf("not logged in")
	}

	if err := s.creds.Delete(ctx); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

func (s *authService) Register(ctx context.Context, input *api.RegisterRequest) (*api.User, error) {
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid registration: %w", err)
	}

	var user api.User
	if err := s.client.Post(ctx, "/api/auth/register", input, &user); err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}
	return &user, nil
}

func (s *authService) Me(ctx context.Context) (*api.User, error) {
	if err := s.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	var user api.User
	if err := s.client.Get(ctx, "/api/auth/me", &user); err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return &user, nil
}

func (s *authService) UpdateMe(ctx context.Context, input *api.UpdateUserRequest) (*api.User, error) {
	if err := s.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	if err := validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid user update: %w", err)
	}

	var user api.User
	if err := s.client.Put(ctx, "/api/auth/me", input, &user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return &user, nil
}

func (s *authService) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	if err := s.EnsureAuthenticated(ctx); err != nil {
		return err
	}

	input := &api.ChangePasswordRequest{CurrentPassword: currentPassword, NewPassword: newPassword}
	if err := validate.Struct(input); err != nil {
		return fmt.Errorf("invalid password change: %w", err)
	}

	if err := s.client.Post(ctx, "/api/auth/change-password", input, nil); err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}
	return nil
}

// IsLoggedIn checks if a credential is stored
func (s *authService) IsLoggedIn(ctx context.Context) bool {
	token, err := credstore.Lookup(ctx, s.creds)
	return err == nil && token != ""
}

// Status reports the stored credential. Opaque (non-JWT) credentials have no expiry.
func (s *authService) Status(ctx context.Context) (*iface.AuthStatus, error) {
	token, err := credstore.Lookup(ctx, s.creds)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}

	status := &iface.AuthStatus{Storage: s.storage}
	if token == "" {
		return status, nil
	}
	status.LoggedIn = true

	if subject, err := credstore.Subject(token); err == nil {
		status.Subject = subject
	}
	if exp, err := credstore.Expiry(token); err == nil {
		status.ExpiresAt = exp
		status.Expired = time.Now().After(exp)
	}
	return status, nil
}

// EnsureAuthenticated checks that a credential is stored
func (s *authService) EnsureAuthenticated(ctx context.Context) error {
	if !s.IsLoggedIn(ctx) {
		return fmt.Errorf("not logged in. Please run 'crview login' first")
	}
	return nil
}
