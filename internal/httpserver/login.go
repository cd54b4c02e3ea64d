package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lapnd/headplane/internal/oidc"
	"github.com/lapnd/headplane/internal/session"
)

// handleOIDCStart initiates a login flow:
// 1. Short-circuit to the home page if the session already holds an API key
// 2. Resolve provider metadata from the issuer
// 3. Generate state, nonce, and PKCE verifier and store them in the session
// 4. Redirect the user agent to the provider's authorization endpoint
func (s *Server) handleOIDCStart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Open(r)
	if err != nil {
		slog.Error("failed to open session", "error", err)
		s.renderError(w, "Could not start login. Please try again.")
		return
	}

	// Already authenticated; starting a new flow would be a no-op
	if sess.Has(session.KeyAPIKey) {
		http.Redirect(w, r, homePath, http.StatusFound)
		return
	}

	provider, err := oidc.NewProvider(r.Context(), &s.cfg.OIDC, callbackURL(r))
	if err != nil {
		slog.Error("provider discovery failed", // #nosec G706 -- values sanitized via sanitizeLog
			"issuer", sanitizeLog(s.cfg.OIDC.Issuer),
			"error", err,
		)
		s.renderError(w, "The identity provider is unavailable. Please try again later.")
		return
	}

	flow, err := oidc.BeginAuthFlow()
	if err != nil {
		slog.Error("failed to begin auth flow", "error", err)
		s.renderError(w, "Could not start login. Please try again.")
		return
	}

	// Persist the ephemeral flow secrets; the callback consumes them once
	sess.Set(session.KeyAuthState, flow.State)
	sess.Set(session.KeyAuthNonce, flow.Nonce)
	sess.Set(session.KeyAuthVerifier, flow.CodeVerifier)
	sess.Set(session.KeyAuthStarted, time.Now())
	s.sessions.Commit(w, sess)

	slog.Info("login flow initiated",
		"session_id", sess.ID,
		"issuer", s.cfg.OIDC.Issuer,
	)

	http.Redirect(w, r, provider.AuthCodeURL(flow), http.StatusFound)
}
