// Package config loads the panelgate configuration file.
//
// The file is YAML. ${VAR} references are expanded from the environment
// before parsing, and PANELGATE_AUTH_TOKEN / PANELGATE_AUTH_PASSWORD
// override the secrets from the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAuthToken    = "PANELGATE_AUTH_TOKEN"
	EnvAuthPassword = "PANELGATE_AUTH_PASSWORD"
)

// ErrEmptySecret is returned by Validate when a shared secret is empty.
// An empty secret would match an empty or missing credential.
var ErrEmptySecret = errors.New("shared secret must not be empty")

// Config is the root configuration for panelgate.
type Config struct {
	Server    ServerConfig    `yaml:"server,omitempty"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	WebSocket WebSocketConfig `yaml:"websocket,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address           string        `yaml:"address,omitempty"` // Default: ":25000"
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// AuthConfig holds the shared secrets.
type AuthConfig struct {
	Token         string   `yaml:"token"`
	Password      string   `yaml:"password"`
	Subject       string   `yaml:"subject,omitempty"`
	ExcludedPaths []string `yaml:"excluded_paths,omitempty"` // Default: /healthz, /readyz, /metrics
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // json, text
	Debug  bool   `yaml:"debug,omitempty"`  // Log rejected requests
}

// WebSocketConfig configures the panel socket.
type WebSocketConfig struct {
	Path        string        `yaml:"path,omitempty"`         // Default: "/ws"
	AuthTimeout time.Duration `yaml:"auth_timeout,omitempty"` // Time allowed for the authenticate message
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"` // Default: true
	Path    string `yaml:"path,omitempty"`
}

// MetricsEnabled reports whether the metrics endpoint is served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

// Override adjusts a configuration after environment overrides and before
// validation.
type Override func(*Config)

// WithSecrets overrides the shared secrets. Empty values leave the loaded
// value in place.
func WithSecrets(token, password string) Override {
	return func(c *Config) {
		if token != "" {
			c.Auth.Token = token
		}
		if password != "" {
			c.Auth.Password = password
		}
	}
}

// Load reads configuration from a YAML file.
func Load(path string, overrides ...Override) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data, overrides...)
}

// Parse parses configuration from YAML bytes, applies environment
// overrides and then overrides, validates it and fills in defaults.
func Parse(data []byte, overrides ...Override) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg.finish(overrides)
}

// Default returns a configuration with defaults and secrets taken from
// the environment and overrides. It is used when no file is given.
func Default(overrides ...Override) (*Config, error) {
	var cfg Config
	return cfg.finish(overrides)
}

func (c *Config) finish(overrides []Override) (*Config, error) {
	c.applyEnv()
	for _, o := range overrides {
		o(c)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c.applyDefaults()
	return c, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the value of the environment
// variable, or "" when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvAuthToken); ok {
		c.Auth.Token = v
	}
	if v, ok := os.LookupEnv(EnvAuthPassword); ok {
		c.Auth.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Auth.Token == "" {
		return fmt.Errorf("auth.token: %w", ErrEmptySecret)
	}
	if c.Auth.Password == "" {
		return fmt.Errorf("auth.password: %w", ErrEmptySecret)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}

	if c.WebSocket.Path != "" && !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("websocket.path must start with /")
	}
	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	if c.WebSocket.AuthTimeout < 0 {
		return fmt.Errorf("websocket.auth_timeout must be >= 0")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":25000"
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Auth.Subject == "" {
		c.Auth.Subject = "system:panel"
	}
	if c.Auth.ExcludedPaths == nil {
		c.Auth.ExcludedPaths = []string{"/healthz", "/readyz", "/metrics"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = "/ws"
	}
	if c.WebSocket.AuthTimeout == 0 {
		c.WebSocket.AuthTimeout = 10 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}
