package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables during loading
// (e.g. CRVIEW_API__BASE_URL -> api.base_url).
const EnvPrefix = "CRVIEW_"

// Manager handles configuration file operations
type Manager struct {
	configPath string
	environ    func() []string
}

// NewManager creates a configuration manager for ~/.crview/config.toml
func NewManager() (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	return NewManagerWithPath(filepath.Join(homeDir, ConfigDirName, ConfigFileName)), nil
}

// NewManagerWithPath creates a new configuration manager with a custom path
func NewManagerWithPath(configPath string) *Manager {
	return &Manager{configPath: configPath, environ: os.Environ}
}

// WithEnviron replaces the environment source. Used by tests.
func (m *Manager) WithEnviron(environ func() []string) *Manager {
	m.environ = environ
	return m
}

// Path returns the config file path
func (m *Manager) Path() string {
	return m.configPath
}

// Exists reports whether the config file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

// Load reads the configuration with precedence:
// defaults -> config file -> environment -> overrides.
// overrides holds dotted keys from explicitly set CLI flags.
// A missing config file is not an error.
func (m *Manager) Load(overrides map[string]any) (*Config, error) {
	k, err := m.loadFile()
	if err != nil {
		return nil, err
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			stripped := strings.TrimPrefix(key, EnvPrefix)
			nested := strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
			return nested, value
		},
		EnvironFunc: m.environ,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	return unmarshal(k)
}

// Save writes the configuration file with owner-only permissions.
func (m *Manager) Save(cfg *Config) error {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(cfg.toMap(), "."), nil); err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}
	return m.write(k)
}

// Init writes a config file with default values. An existing file is kept unless force is set.
func (m *Manager) Init(force bool) (*Config, error) {
	if m.Exists() && !force {
		return nil, fmt.Errorf("config file already exists at %s", m.configPath)
	}

	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := m.Save(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Set updates one key in the config file. The resulting configuration must be valid.
func (m *Manager) Set(key, value string) error {
	if !isKnownKey(key) {
		return fmt.Errorf("unknown config key %q (known keys: %s)", key, strings.Join(Keys(), ", "))
	}

	k, err := m.loadFile()
	if err != nil {
		return err
	}
	if err := k.Set(key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	if _, err := unmarshal(k); err != nil {
		return err
	}
	return m.write(k)
}

// Keys lists every settable config key.
func Keys() []string {
	cfg := &Config{
		Auth:    AuthConfig{File: "-", KeyringUser: "-", EnvKey: "-"},
		Log:     LogConfig{File: "-"},
		Metrics: MetricsConfig{Textfile: "-"},
	}
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(cfg.toMap(), "."), nil)
	keys := k.Keys()
	sort.Strings(keys)
	return keys
}

// Values returns the configuration as flat dotted keys.
func (c *Config) Values() map[string]any {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(c.toMap(), "."), nil)
	return k.All()
}

func isKnownKey(key string) bool {
	for _, known := range Keys() {
		if key == known {
			return true
		}
	}
	return false
}

func (m *Manager) loadFile() (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(m.configPath), toml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	return k, nil
}

func (m *Manager) write(k *koanf.Koanf) error {
	data, err := k.Marshal(toml.Parser())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config file: %w", err)
	}

	if err := os.Rename(tmpPath, m.configPath); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
