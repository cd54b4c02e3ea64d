// Package daemon wires the login service components together.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lapnd/headplane/internal/config"
	"github.com/lapnd/headplane/internal/headscale"
	"github.com/lapnd/headplane/internal/httpserver"
	"github.com/lapnd/headplane/internal/session"
)

// Daemon represents the main process coordinating all components.
type Daemon struct {
	cfg        *config.Config
	sessions   *session.Manager
	headscale  *headscale.Client
	httpServer *httpserver.Server
}

// New creates a daemon with all components initialized. Provider metadata is
// deliberately not resolved here: discovery runs fresh inside every flow
// invocation so configuration changes at the provider are picked up without
// a restart.
func New(cfg *config.Config, version string) (*Daemon, error) {
	sessionTimeout := time.Duration(cfg.Session.Timeout) * time.Second
	sessions := session.NewManager(cfg.Session.CookieName, cfg.Session.CookieSecure, sessionTimeout)

	slog.Info("session manager initialized",
		"cookie", cfg.Session.CookieName,
		"timeout", sessionTimeout,
	)

	hsClient := headscale.NewClient(&cfg.Headscale)

	slog.Info("headscale client initialized",
		"url", cfg.Headscale.URL,
	)

	httpServer, err := httpserver.NewServer(cfg, sessions, hsClient, version)
	if err != nil {
		sessions.Stop()
		return nil, fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	slog.Info("HTTP server initialized",
		"listen", cfg.Listen.HTTP,
		"tls", cfg.TLS.Enabled,
	)

	return &Daemon{
		cfg:        cfg,
		sessions:   sessions,
		headscale:  hsClient,
		httpServer: httpServer,
	}, nil
}

// Run starts the daemon and blocks until a shutdown signal is received.
func (d *Daemon) Run() error {
	slog.Info("starting headplane login service",
		"issuer", d.cfg.OIDC.Issuer,
		"client_id", d.cfg.OIDC.ClientID,
	)

	// Start HTTP server in a goroutine (it blocks on ListenAndServe)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := d.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	// Wait for shutdown signal or startup error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("HTTP server failed to start", "error", err)
			d.sessions.Stop()
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	// Shutdown gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping HTTP server", "error", err)
	}

	d.sessions.Stop()

	slog.Info("daemon shutdown complete")
	return nil
}
