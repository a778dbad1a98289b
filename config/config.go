// Package config defines the hostboard application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level hostboard configuration.
type Config struct {
	Server   ServerConfig  `json:"server" yaml:"server"`
	Auth     AuthConfig    `json:"auth" yaml:"auth"`
	Plugins  PluginsConfig `json:"plugins" yaml:"plugins"`
	Exec     ExecConfig    `json:"exec" yaml:"exec"`
	DataDir  string        `json:"data_dir" yaml:"data_dir"`
	AuditDB  string        `json:"audit_db" yaml:"audit_db"` // defaults to <data_dir>/audit.db
	LogLevel string        `json:"log_level" yaml:"log_level"`
}

// AuditDBPath returns the configured audit database path, defaulting to
// audit.db under the data dir.
func (c *Config) AuditDBPath() string {
	if c.AuditDB != "" {
		return c.AuditDB
	}
	return filepath.Join(c.DataDir, "audit.db")
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9180"
}

// AuthConfig controls dashboard authentication.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string `json:"admin_user" yaml:"admin_user"`
	AdminPass string `json:"admin_pass" yaml:"admin_pass"` // bcrypt hash
}

// PluginsConfig controls plugin discovery and persistence.
type PluginsConfig struct {
	Dir          string `json:"dir" yaml:"dir"`                     // root of the plugin directory tree
	RegistryPath string `json:"registry_path" yaml:"registry_path"` // persisted plugin registry file
}

// ExecConfig controls subprocess execution timeouts.
type ExecConfig struct {
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`
	AsyncTimeout   time.Duration `json:"async_timeout" yaml:"async_timeout"`
	InstallTimeout time.Duration `json:"install_timeout" yaml:"install_timeout"`
}

// UnmarshalYAML parses timeout values written as Go duration strings
// ("10s", "2m"). Unset fields keep their current values.
func (e *ExecConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		DefaultTimeout string `yaml:"default_timeout"`
		AsyncTimeout   string `yaml:"async_timeout"`
		InstallTimeout string `yaml:"install_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	for _, f := range []struct {
		src string
		dst *time.Duration
	}{
		{raw.DefaultTimeout, &e.DefaultTimeout},
		{raw.AsyncTimeout, &e.AsyncTimeout},
		{raw.InstallTimeout, &e.InstallTimeout},
	} {
		if f.src == "" {
			continue
		}
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("parse timeout %q: %w", f.src, err)
		}
		*f.dst = d
	}
	return nil
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9180",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
		},
		Plugins: PluginsConfig{
			Dir:          "./data/plugins",
			RegistryPath: "./data/plugin-registry.json",
		},
		Exec: ExecConfig{
			DefaultTimeout: 10 * time.Second,
			AsyncTimeout:   30 * time.Second,
			InstallTimeout: 120 * time.Second,
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
