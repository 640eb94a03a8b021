package domain

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// KeyringService is the service name under which API keys are stored in the
// operating system keyring.
const KeyringService = "redmine-mcp-server"

// DefaultTimeoutSeconds is applied when the config omits a timeout.
const DefaultTimeoutSeconds = 30

// Config represents the server configuration.
// This is the root configuration structure loaded from YAML files.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Redmine   RedmineConfig   `yaml:"redmine"`
}

// TransportConfig defines transport settings.
// Specifies whether to use stdio or HTTP transport.
type TransportConfig struct {
	Type string     `yaml:"type"` // "stdio" or "http"
	HTTP HTTPConfig `yaml:"http,omitempty"`
}

// HTTPConfig defines HTTP transport settings.
// Only used when transport type is "http".
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RedmineConfig defines the connection settings for one Redmine instance.
// The domain identifies the instance; it also scopes the resolution cache.
type RedmineConfig struct {
	// Domain is the base URL of the Redmine instance
	// (e.g. "https://redmine.example.com"). A trailing slash is stripped
	// during validation.
	Domain string `yaml:"domain"`

	// APIKey is sent as the X-Redmine-API-Key header on every request.
	// It may be omitted when APIKeyFromKeyring is set.
	APIKey string `yaml:"api_key,omitempty"`

	// APIKeyFromKeyring, when true, loads the API key from the OS keyring
	// (service "redmine-mcp-server", account = domain) instead of the
	// config file.
	APIKeyFromKeyring bool `yaml:"api_key_from_keyring,omitempty"`

	// TimeoutSeconds bounds every HTTP call. Defaults to 30.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// CacheDir overrides the directory holding the persisted resolution
	// cache. Defaults to ~/.redmine-mcp.
	CacheDir string `yaml:"cache_dir,omitempty"`
}

// LoadConfig reads and validates configuration from a YAML file.
// Returns an error if the file is missing, has invalid syntax, or fails validation.
func LoadConfig(path string) (*Config, error) {
	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	// Parse YAML
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid YAML syntax in configuration file: %w", err)
	}

	config.applyDefaults()

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in optional settings that were left empty.
func (c *Config) applyDefaults() {
	if c.Redmine.TimeoutSeconds == 0 {
		c.Redmine.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Redmine.CacheDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Redmine.CacheDir = filepath.Join(home, ".redmine-mcp")
		}
	}
	c.Redmine.Domain = strings.TrimRight(c.Redmine.Domain, "/")
}

// Validate checks the configuration for completeness and correctness.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errors []string

	// Validate transport configuration
	if err := c.validateTransport(); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate Redmine configuration
	if err := c.Redmine.Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// validateTransport validates the transport configuration.
func (c *Config) validateTransport() error {
	var errors []string

	// Check transport type is specified
	if c.Transport.Type == "" {
		errors = append(errors, "transport type is required")
	} else if c.Transport.Type != "stdio" && c.Transport.Type != "http" {
		errors = append(errors, fmt.Sprintf("invalid transport type '%s': must be 'stdio' or 'http'", c.Transport.Type))
	}

	// If HTTP transport, validate HTTP configuration
	if c.Transport.Type == "http" {
		if c.Transport.HTTP.Host == "" {
			errors = append(errors, "HTTP host is required when transport type is 'http'")
		}
		if c.Transport.HTTP.Port <= 0 || c.Transport.HTTP.Port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid HTTP port %d: must be between 1 and 65535", c.Transport.HTTP.Port))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

// Validate validates the Redmine connection configuration.
func (rc *RedmineConfig) Validate() error {
	var errors []string

	// Check domain is specified and well formed
	if rc.Domain == "" {
		errors = append(errors, "redmine domain is required")
	} else {
		parsedURL, err := url.Parse(rc.Domain)
		if err != nil {
			errors = append(errors, fmt.Sprintf("redmine domain is invalid: %v", err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, "redmine domain must use http or https scheme")
		} else if parsedURL.Host == "" {
			errors = append(errors, "redmine domain must include a host")
		}
	}

	// An API key must come from the config file or the keyring
	if strings.TrimSpace(rc.APIKey) == "" && !rc.APIKeyFromKeyring {
		errors = append(errors, "redmine api_key is required (or set api_key_from_keyring)")
	}

	if rc.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Sprintf("invalid timeout_seconds %d: must be greater than 0", rc.TimeoutSeconds))
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

// ResolveAPIKey returns the API key to use for requests.
// When APIKeyFromKeyring is set the key is fetched from the OS keyring,
// keyed by the configured domain.
func (rc *RedmineConfig) ResolveAPIKey() (string, error) {
	if !rc.APIKeyFromKeyring {
		return rc.APIKey, nil
	}

	key, err := keyring.Get(KeyringService, rc.Domain)
	if err != nil {
		return "", fmt.Errorf("failed to load API key from keyring for %s: %w", rc.Domain, err)
	}
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("keyring entry for %s is empty", rc.Domain)
	}
	return key, nil
}
