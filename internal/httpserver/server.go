// Package httpserver exposes the login flow over HTTP.
package httpserver

import (
	"context"
	"crypto/tls"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/lapnd/headplane/internal/config"
	"github.com/lapnd/headplane/internal/headscale"
	"github.com/lapnd/headplane/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Route paths. The callback path is part of the wire contract with the
// provider: it must match the redirect URI registered for the client.
const (
	// StartPath initiates a login flow
	StartPath = "/admin/oidc/start"

	// CallbackPath receives the provider's authorization response
	CallbackPath = "/admin/oidc/callback"

	// homePath is where authenticated users land
	homePath = "/machines"
)

// Server is the HTTP server for the login flow and health checks
type Server struct {
	cfg         *config.Config
	httpServer  *http.Server
	mux         *http.ServeMux
	templates   *template.Template
	sessions    *session.Manager
	headscale   *headscale.Client
	rateLimiter *ipRateLimiter
	version     string
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, sessions *session.Manager, hsClient *headscale.Client, version string) (*Server, error) {
	// Parse templates
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		mux:         http.NewServeMux(),
		templates:   templates,
		sessions:    sessions,
		headscale:   hsClient,
		rateLimiter: newIPRateLimiter(10, 50),
		version:     version,
	}

	// Register routes
	s.mux.HandleFunc(StartPath, s.handleOIDCStart)
	s.mux.HandleFunc(CallbackPath, s.handleOIDCCallback)
	s.mux.HandleFunc("/health", s.handleHealth)

	// Wrap with middleware
	handler := loggingMiddleware(s.mux)
	handler = recoveryMiddleware(handler)
	handler = s.rateLimitMiddleware(handler)
	handler = securityHeadersMiddleware(handler)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         cfg.Listen.HTTP,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Configure TLS if enabled
	if cfg.TLS.Enabled {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			},
		}
	}

	return s, nil
}

// Handler returns the server's root handler with all middleware applied.
// Used by tests to drive requests without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting HTTP server",
		"addr", s.cfg.Listen.HTTP,
		"tls", s.cfg.TLS.Enabled,
	)

	if s.cfg.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// callbackURL derives the externally visible callback URL from the current
// request's forwarded scheme and host joined with the fixed callback path.
// Initiator and completer must derive the byte-for-byte identical value or
// the provider rejects the code exchange.
//
// X-Forwarded-Proto and Host are trusted verbatim. This is only safe behind
// a reverse proxy that sets or overwrites both headers.
func callbackURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}

	return scheme + "://" + r.Host + CallbackPath
}
