// Package di provides dependency injection for the crview CLI.
// It contains the service container and factory functions.
package di

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/crview/crview-cli/internal/api"
	"github.com/crview/crview-cli/internal/config"
	"github.com/crview/crview-cli/internal/jiramonitor"
	"github.com/crview/crview-cli/internal/metrics"
	"github.com/crview/crview-cli/internal/service"
	iface "github.com/crview/crview-cli/internal/service/interface"
)

// Container holds all service dependencies for the CLI.
// Services are accessed via interfaces to enable mocking in tests.
type Container struct {
	config        *config.Config
	configManager *config.Manager
	client        *api.Client
	metrics       *metrics.Collectors

	authService    iface.AuthService
	reviewService  iface.ReviewService
	apiKeyService  iface.APIKeyService
	jiraService    iface.JiraService
	copilotService iface.CopilotService
}

// NewContainer creates a new dependency container with default implementations
func NewContainer(configManager *config.Manager, cfg *config.Config) (*Container, error) {
	creds, err := cfg.Auth.NewCredentialStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open credential storage: %w", err)
	}

	collectors := metrics.New()

	client, err := api.NewClient(cfg.API.BaseURL, creds,
		api.WithTimeout(cfg.API.Timeout),
		api.WithRefreshTimeout(cfg.API.RefreshTimeout),
		api.WithMetrics(collectors),
		api.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, err
	}

	authService := service.NewAuthService(client, string(cfg.Auth.Storage))

	return &Container{
		config:         cfg,
		configManager:  configManager,
		client:         client,
		metrics:        collectors,
		authService:    authService,
		reviewService:  service.NewReviewService(client, authService),
		apiKeyService:  service.NewAPIKeyService(client, authService),
		jiraService:    service.NewJiraService(client, authService),
		copilotService: service.NewCopilotService(client, authService),
	}, nil
}

// NewContainerWithServices creates a container with custom service implementations.
// This is useful for testing with mock services.
func NewContainerWithServices(
	authService iface.AuthService,
	reviewService iface.ReviewService,
	apiKeyService iface.APIKeyService,
	jiraService iface.JiraService,
	copilotService iface.CopilotService,
) *Container {
	return &Container{
		authService:    authService,
		reviewService:  reviewService,
		apiKeyService:  apiKeyService,
		jiraService:    jiraService,
		copilotService: copilotService,
	}
}

// WithConfig sets the configuration and config manager. Used by tests.
func (c *Container) WithConfig(manager *config.Manager, cfg *config.Config) *Container {
	c.configManager = manager
	c.config = cfg
	return c
}

// AuthService returns the authentication service
func (c *Container) AuthService() iface.AuthService {
	return c.authService
}

// ReviewService returns the review service
func (c *Container) ReviewService() iface.ReviewService {
	return c.reviewService
}

// APIKeyService returns the API key service
func (c *Container) APIKeyService() iface.APIKeyService {
	return c.apiKeyService
}

// JiraService returns the Jira service
func (c *Container) JiraService() iface.JiraService {
	return c.jiraService
}

// CopilotService returns the copilot service
func (c *Container) CopilotService() iface.CopilotService {
	return c.copilotService
}

// ConfigManager returns the config manager
func (c *Container) ConfigManager() *config.Manager {
	return c.configManager
}

// Config returns the loaded configuration, or the defaults when none was loaded.
func (c *Container) Config() *config.Config {
	if c.config == nil {
		cfg, err := config.Default()
		if err != nil {
			cfg = &config.Config{Output: config.DefaultOutput, Render: config.RenderConfig{Theme: config.DefaultTheme}}
		}
		c.config = cfg
	}
	return c.config
}

// Client returns the API client. It is nil in containers built from mock services.
func (c *Container) Client() *api.Client {
	return c.client
}

// Metrics returns the request metrics collectors.
func (c *Container) Metrics() *metrics.Collectors {
	return c.metrics
}

// NewMonitor creates a Jira token monitor using the configured interval.
func (c *Container) NewMonitor(opts ...jiramonitor.Option) *jiramonitor.Monitor {
	base := []jiramonitor.Option{
		jiramonitor.WithInterval(c.Config().Jira.MonitorInterval),
		jiramonitor.WithLogger(slog.Default()),
	}
	return jiramonitor.New(c.jiraService, append(base, opts...)...)
}

// Close flushes metrics to the configured textfile.
func (c *Container) Close() error {
	var errs []error
	if c.metrics != nil && c.config != nil && c.config.Metrics.Textfile != "" {
		if err := c.metrics.WriteTextfile(c.config.Metrics.Textfile); err != nil {
			errs = append(errs, fmt.Errorf("failed to write metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}
