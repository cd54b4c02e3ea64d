package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	OIDC      OIDCConfig      `yaml:"oidc"`
	Headscale HeadscaleConfig `yaml:"headscale"`
	Session   SessionConfig   `yaml:"session"`
	TLS       TLSConfig       `yaml:"tls"`
	Log       LogConfig       `yaml:"log"`
}

// ListenConfig defines where the server listens for requests
type ListenConfig struct {
	HTTP string `yaml:"http"` // HTTP server address (e.g., ":3000")
}

// OIDCConfig defines the relying-party settings for the identity provider
type OIDCConfig struct {
	Issuer                  string `yaml:"issuer"`                     // Provider issuer URL (discovery base)
	ClientID                string `yaml:"client_id"`                  // OIDC client ID
	ClientSecret            string `yaml:"client_secret"`              // OIDC client secret (empty for public clients)
	TokenEndpointAuthMethod string `yaml:"token_endpoint_auth_method"` // client_secret_basic or client_secret_post
}

// HeadscaleConfig defines how to reach the Headscale API
type HeadscaleConfig struct {
	URL    string `yaml:"url"`     // Headscale base URL (e.g., "http://headscale:8080")
	APIKey string `yaml:"api_key"` // Root API key used to mint per-user keys
}

// SessionConfig defines browser session behavior
type SessionConfig struct {
	Timeout      int    `yaml:"timeout"`       // Session lifetime in seconds
	FlowTimeout  int    `yaml:"flow_timeout"`  // Max age of a pending login attempt in seconds
	CookieName   string `yaml:"cookie_name"`   // Session cookie name
	CookieSecure bool   `yaml:"cookie_secure"` // Set the Secure attribute on the cookie
}

// TLSConfig defines TLS settings for the HTTP server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			HTTP: ":3000",
		},
		OIDC: OIDCConfig{
			TokenEndpointAuthMethod: "client_secret_basic",
		},
		Session: SessionConfig{
			Timeout:      3600, // 1 hour
			FlowTimeout:  600,  // 10 minutes to finish a pending login
			CookieName:   "headplane_session",
			CookieSecure: false,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	// OIDC overrides
	if v := os.Getenv("HEADPLANE_OIDC_ISSUER"); v != "" {
		c.OIDC.Issuer = v
	}
	if v := os.Getenv("HEADPLANE_OIDC_CLIENT_ID"); v != "" {
		c.OIDC.ClientID = v
	}
	if v := os.Getenv("HEADPLANE_OIDC_CLIENT_SECRET"); v != "" {
		c.OIDC.ClientSecret = v
	}

	// Headscale overrides
	if v := os.Getenv("HEADPLANE_HEADSCALE_URL"); v != "" {
		c.Headscale.URL = v
	}
	if v := os.Getenv("HEADPLANE_HEADSCALE_API_KEY"); v != "" {
		c.Headscale.APIKey = v
	}

	// Log overrides
	if v := os.Getenv("HEADPLANE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("HEADPLANE_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	// Listen overrides
	if v := os.Getenv("HEADPLANE_LISTEN_HTTP"); v != "" {
		c.Listen.HTTP = v
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Validate OIDC config
	if c.OIDC.Issuer == "" {
		return fmt.Errorf("oidc.issuer is required")
	}
	if !strings.HasPrefix(c.OIDC.Issuer, "http://") && !strings.HasPrefix(c.OIDC.Issuer, "https://") {
		return fmt.Errorf("oidc.issuer must be a valid HTTP(S) URL")
	}

	if c.OIDC.ClientID == "" {
		return fmt.Errorf("oidc.client_id is required")
	}

	switch c.OIDC.TokenEndpointAuthMethod {
	case "client_secret_basic", "client_secret_post":
	default:
		return fmt.Errorf("oidc.token_endpoint_auth_method must be client_secret_basic or client_secret_post")
	}

	// Validate Headscale config
	if c.Headscale.URL == "" {
		return fmt.Errorf("headscale.url is required")
	}
	if !strings.HasPrefix(c.Headscale.URL, "http://") && !strings.HasPrefix(c.Headscale.URL, "https://") {
		return fmt.Errorf("headscale.url must be a valid HTTP(S) URL")
	}
	if c.Headscale.APIKey == "" {
		return fmt.Errorf("headscale.api_key is required")
	}

	// Validate session config
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive")
	}
	if c.Session.FlowTimeout <= 0 {
		return fmt.Errorf("session.flow_timeout must be positive")
	}
	if c.Session.FlowTimeout > c.Session.Timeout {
		return fmt.Errorf("session.flow_timeout must not exceed session.timeout")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session.cookie_name is required")
	}

	// Validate TLS config
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}

		// Check if files exist
		if _, err := os.Stat(c.TLS.CertFile); err != nil {
			return fmt.Errorf("tls.cert_file not found: %w", err)
		}
		if _, err := os.Stat(c.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls.key_file not found: %w", err)
		}
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	// Validate listen config
	if c.Listen.HTTP == "" {
		return fmt.Errorf("listen.http is required")
	}

	return nil
}

// SetupLogging configures the global slog logger based on the LogConfig.
func SetupLogging(cfg *LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
