package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const validConfig = `
listen:
  http: ":3000"
oidc:
  issuer: "https://idp.example.com/realms/test"
  client_id: "headplane"
  client_secret: "secret"
headscale:
  url: "http://headscale:8080"
  api_key: "root-key"
log:
  level: "info"
  format: "json"
`

func TestLoad(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OIDC.Issuer != "https://idp.example.com/realms/test" {
		t.Errorf("issuer = %q", cfg.OIDC.Issuer)
	}
	if cfg.OIDC.ClientID != "headplane" {
		t.Errorf("client_id = %q", cfg.OIDC.ClientID)
	}
	if cfg.Headscale.URL != "http://headscale:8080" {
		t.Errorf("headscale.url = %q", cfg.Headscale.URL)
	}

	// Defaults fill in what the file omits
	if cfg.OIDC.TokenEndpointAuthMethod != "client_secret_basic" {
		t.Errorf("token_endpoint_auth_method = %q, want client_secret_basic", cfg.OIDC.TokenEndpointAuthMethod)
	}
	if cfg.Session.CookieName != "headplane_session" {
		t.Errorf("session.cookie_name = %q", cfg.Session.CookieName)
	}
	if cfg.Session.Timeout != 3600 {
		t.Errorf("session.timeout = %d, want 3600", cfg.Session.Timeout)
	}
	if cfg.Session.FlowTimeout != 600 {
		t.Errorf("session.flow_timeout = %d, want 600", cfg.Session.FlowTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "listen: [not: valid")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, validConfig)

	t.Setenv("HEADPLANE_OIDC_ISSUER", "https://other.example.com")
	t.Setenv("HEADPLANE_OIDC_CLIENT_SECRET", "env-secret")
	t.Setenv("HEADPLANE_HEADSCALE_API_KEY", "env-root-key")
	t.Setenv("HEADPLANE_LISTEN_HTTP", ":8081")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OIDC.Issuer != "https://other.example.com" {
		t.Errorf("issuer = %q, want env override", cfg.OIDC.Issuer)
	}
	if cfg.OIDC.ClientSecret != "env-secret" {
		t.Errorf("client_secret = %q, want env override", cfg.OIDC.ClientSecret)
	}
	if cfg.Headscale.APIKey != "env-root-key" {
		t.Errorf("headscale.api_key = %q, want env override", cfg.Headscale.APIKey)
	}
	if cfg.Listen.HTTP != ":8081" {
		t.Errorf("listen.http = %q, want env override", cfg.Listen.HTTP)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.OIDC.Issuer = "https://idp.example.com"
		cfg.OIDC.ClientID = "headplane"
		cfg.Headscale.URL = "http://headscale:8080"
		cfg.Headscale.APIKey = "root-key"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing issuer",
			mutate:  func(c *Config) { c.OIDC.Issuer = "" },
			wantErr: true,
		},
		{
			name:    "issuer not a URL",
			mutate:  func(c *Config) { c.OIDC.Issuer = "idp.example.com" },
			wantErr: true,
		},
		{
			name:    "missing client id",
			mutate:  func(c *Config) { c.OIDC.ClientID = "" },
			wantErr: true,
		},
		{
			name:    "bad token endpoint auth method",
			mutate:  func(c *Config) { c.OIDC.TokenEndpointAuthMethod = "private_key_jwt" },
			wantErr: true,
		},
		{
			name:    "missing headscale url",
			mutate:  func(c *Config) { c.Headscale.URL = "" },
			wantErr: true,
		},
		{
			name:    "missing headscale api key",
			mutate:  func(c *Config) { c.Headscale.APIKey = "" },
			wantErr: true,
		},
		{
			name:    "zero session timeout",
			mutate:  func(c *Config) { c.Session.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "flow timeout exceeds session timeout",
			mutate:  func(c *Config) { c.Session.FlowTimeout = c.Session.Timeout + 1 },
			wantErr: true,
		},
		{
			name:    "missing cookie name",
			mutate:  func(c *Config) { c.Session.CookieName = "" },
			wantErr: true,
		},
		{
			name:    "tls enabled without cert",
			mutate:  func(c *Config) { c.TLS.Enabled = true },
			wantErr: true,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "missing listen address",
			mutate:  func(c *Config) { c.Listen.HTTP = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
