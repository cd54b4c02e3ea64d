package daemon

import (
	"testing"

	"github.com/lapnd/headplane/internal/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.OIDC.Issuer = "https://idp.example.com"
	cfg.OIDC.ClientID = "headplane"
	cfg.Headscale.URL = "http://headscale:8080"
	cfg.Headscale.APIKey = "root-key"
	return cfg
}

func TestNew(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}

	// No network happens at construction: provider discovery is deferred to
	// each flow invocation.
	d, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.sessions.Stop()

	if d.httpServer == nil || d.headscale == nil || d.sessions == nil {
		t.Error("daemon components not initialized")
	}
}
