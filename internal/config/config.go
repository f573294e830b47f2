// Package config provides configuration management for the crview CLI.
// Settings come from defaults, a TOML file, CRVIEW_* environment variables
// and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/crview/crview-cli/internal/credstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// OutputFormat selects how commands print results.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// StorageType selects where the session credential is kept.
type StorageType string

const (
	StorageFile    StorageType = "file"
	StorageKeyring StorageType = "keyring"
	StorageEnv     StorageType = "env"
	StorageMemory  StorageType = "memory"
)

const (
	// ConfigDirName is the name of the config directory
	ConfigDirName = ".crview"

	// ConfigFileName is the name of the config file
	ConfigFileName = "config.toml"

	// CredentialFileName is the credential file used by file storage
	CredentialFileName = "credentials"
)

// Default configuration values
const (
	DefaultAPIURL          = "http://localhost:8000"
	DefaultTimeout         = 30 * time.Second
	DefaultRefreshTimeout  = 30 * time.Second
	DefaultStorage         = StorageFile
	DefaultLogLevel        = "warn"
	DefaultLogFormat       = LogFormatText
	DefaultOutput          = OutputText
	DefaultTheme           = "auto"
	DefaultMonitorInterval = 5 * time.Minute

	// MinMonitorInterval keeps the status poller from hammering the API.
	MinMonitorInterval = 10 * time.Second
)

// APIConfig holds API connection settings.
type APIConfig struct {
	BaseURL        string        `json:"base_url" validate:"required,url"`
	Timeout        time.Duration `json:"timeout" validate:"gte=0"`
	RefreshTimeout time.Duration `json:"refresh_timeout" validate:"gte=0"`
}

// AuthConfig describes how to construct the credential store.
type AuthConfig struct {
	Storage StorageType `json:"storage" validate:"required,oneof=file keyring env memory"`

	// Storage-specific settings
	File        string `json:"file,omitempty"`
	KeyringUser string `json:"keyring_user,omitempty"`
	EnvKey      string `json:"env_key,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string    `json:"level" validate:"oneof=debug info warn error"`
	Format LogFormat `json:"format" validate:"oneof=text json"`
	File   string    `json:"file,omitempty"`
}

// RenderConfig holds terminal rendering settings.
type RenderConfig struct {
	// Theme is a glamour style name, or "auto" to follow the terminal background.
	Theme string `json:"theme" validate:"oneof=auto dark light notty ascii dracula pink tokyo-night"`
}

// JiraConfig holds Jira integration settings.
type JiraConfig struct {
	MonitorInterval time.Duration `json:"monitor_interval"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	// Textfile, when set, receives prometheus metrics when the command exits.
	Textfile string `json:"textfile,omitempty"`
}

// Config represents the CLI configuration
type Config struct {
	API     APIConfig     `json:"api"`
	Auth    AuthConfig    `json:"auth"`
	Log     LogConfig     `json:"log"`
	Output  OutputFormat  `json:"output" validate:"oneof=text json yaml"`
	Render  RenderConfig  `json:"render"`
	Jira    JiraConfig    `json:"jira"`
	Metrics MetricsConfig `json:"metrics"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with defaults.
func (c *Config) ApplyDefaults() error {
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultAPIURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultTimeout
	}
	if c.API.RefreshTimeout == 0 {
		c.API.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultStorage
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Render.Theme == "" {
		c.Render.Theme = DefaultTheme
	}
	if c.Jira.MonitorInterval == 0 {
		c.Jira.MonitorInterval = DefaultMonitorInterval
	}

	switch c.Auth.Storage {
	case StorageFile:
		if c.Auth.File == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(home, ConfigDirName, CredentialFileName)
		}
	case StorageKeyring:
		if c.Auth.KeyringUser == "" {
			current, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = current.Username
		}
	case StorageEnv:
		if c.Auth.EnvKey == "" {
			c.Auth.EnvKey = credstore.DefaultEnvKey
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Jira.MonitorInterval < MinMonitorInterval {
		return fmt.Errorf("jira.monitor_interval must be at least %s", MinMonitorInterval)
	}

	switch c.Auth.Storage {
	case StorageFile:
		if c.Auth.File == "" {
			return errors.New("auth.file required for file storage")
		}
	case StorageKeyring:
		if c.Auth.KeyringUser == "" {
			return errors.New("auth.keyring_user required for keyring storage")
		}
	case StorageEnv:
		if c.Auth.EnvKey == "" {
			return errors.New("auth.env_key required for env storage")
		}
	}

	return nil
}

// Writable reports whether login can store a credential in the configured storage.
func (a *AuthConfig) Writable() bool {
	return a.Storage != StorageEnv
}

// NewCredentialStore creates the credential store described by the auth settings.
func (a *AuthConfig) NewCredentialStore() (credstore.Store, error) {
	switch a.Storage {
	case StorageFile:
		return credstore.NewFileStore(a.File)
	case StorageKeyring:
		return credstore.NewKeyringStore(credstore.KeyringService, a.KeyringUser)
	case StorageEnv:
		return credstore.NewEnvStore(a.EnvKey)
	case StorageMemory:
		return credstore.NewMemoryStore(""), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// toMap flattens the config into the shape written to the TOML file.
func (c *Config) toMap() map[string]any {
	auth := map[string]any{"storage": string(c.Auth.Storage)}
	if c.Auth.File != "" {
		auth["file"] = c.Auth.File
	}
	if c.Auth.KeyringUser != "" {
		auth["keyring_user"] = c.Auth.KeyringUser
	}
	if c.Auth.EnvKey != "" {
		auth["env_key"] = c.Auth.EnvKey
	}

	logCfg := map[string]any{
		"level":  c.Log.Level,
		"format": string(c.Log.Format),
	}
	if c.Log.File != "" {
		logCfg["file"] = c.Log.File
	}

	m := map[string]any{
		"api": map[string]any{
			"base_url":        c.API.BaseURL,
			"timeout":         c.API.Timeout.String(),
			"refresh_timeout": c.API.RefreshTimeout.String(),
		},
		"auth":   auth,
		"log":    logCfg,
		"output": string(c.Output),
		"render": map[string]any{"theme": c.Render.Theme},
		"jira":   map[string]any{"monitor_interval": c.Jira.MonitorInterval.String()},
	}
	if c.Metrics.Textfile != "" {
		m["metrics"] = map[string]any{"textfile": c.Metrics.Textfile}
	}
	return m
}
