package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/lapnd/headplane/internal/headscale"
	"github.com/lapnd/headplane/internal/oidc"
	"github.com/lapnd/headplane/internal/session"
)

// fallbackUserName is stored when the ID token carries no name claim.
const fallbackUserName = "Anonymous"

// handleOIDCCallback completes a login flow:
//  1. Short-circuit to the home page if the session already holds an API key
//  2. Read the stored state, nonce, and verifier; abort if any is missing
//  3. Validate the callback parameters against the stored state
//  4. Resolve provider metadata (independently of the initiator)
//  5. Exchange the code for tokens and validate the ID token and nonce
//  6. Mint a Headscale API key bound to the ID token's expiry
//  7. Store the key and user identity in the session and redirect home
//
// The flow state and callback parameters are checked before discovery so a
// replayed or stray callback triggers no network calls.
func (s *Server) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Open(r)
	if err != nil {
		slog.Error("failed to open session", "error", err)
		s.renderError(w, "Could not complete login. Please try again.")
		return
	}

	// Already authenticated; nothing left to complete
	if sess.Has(session.KeyAPIKey) {
		http.Redirect(w, r, homePath, http.StatusFound)
		return
	}

	flow, err := s.readFlowState(sess)
	if err != nil {
		s.failLogin(w, sess, err)
		return
	}

	code, err := validateCallback(r.URL.Query(), flow.State)
	if err != nil {
		s.failLogin(w, sess, err)
		return
	}

	provider, err := oidc.NewProvider(r.Context(), &s.cfg.OIDC, callbackURL(r))
	if err != nil {
		s.failLogin(w, sess, err)
		return
	}

	identity, err := provider.Exchange(r.Context(), code, flow.CodeVerifier, flow.Nonce)
	if err != nil {
		s.failLogin(w, sess, err)
		return
	}

	// The application credential inherits the identity assertion's lifetime
	apiKey, err := s.headscale.CreateAPIKey(r.Context(), identity.ExpiresAt)
	if err != nil {
		s.failLogin(w, sess, err)
		return
	}

	user := session.User{
		Name:  identity.Name,
		Email: identity.Email,
	}
	if user.Name == "" {
		user.Name = fallbackUserName
	}

	// Replace the consumed flow state with the credential
	sess.Delete(session.KeyAuthState)
	sess.Delete(session.KeyAuthNonce)
	sess.Delete(session.KeyAuthVerifier)
	sess.Delete(session.KeyAuthStarted)
	sess.Set(session.KeyUser, user)
	sess.Set(session.KeyAPIKey, apiKey)
	s.sessions.Commit(w, sess)

	slog.Info("login completed", // #nosec G706 -- values sanitized via sanitizeLog
		"session_id", sess.ID,
		"subject", sanitizeLog(identity.Subject),
		"name", sanitizeLog(user.Name),
		"key_expires", identity.ExpiresAt,
	)

	http.Redirect(w, r, homePath, http.StatusFound)
}

// readFlowState returns the flow secrets stored by the initiator. All three
// must be present and the attempt must be younger than the flow timeout,
// otherwise the user has to restart the login.
func (s *Server) readFlowState(sess *session.Session) (*oidc.AuthFlow, error) {
	state, okState := sess.GetString(session.KeyAuthState)
	nonce, okNonce := sess.GetString(session.KeyAuthNonce)
	verifier, okVerifier := sess.GetString(session.KeyAuthVerifier)

	if !okState || !okNonce || !okVerifier {
		return nil, fmt.Errorf("%w: session has no pending login", oidc.ErrMissingFlowState)
	}

	flowTimeout := time.Duration(s.cfg.Session.FlowTimeout) * time.Second
	if started, ok := sess.GetTime(session.KeyAuthStarted); ok && time.Since(started) > flowTimeout {
		return nil, fmt.Errorf("%w: login attempt expired", oidc.ErrMissingFlowState)
	}

	return &oidc.AuthFlow{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
	}, nil
}

// validateCallback checks the provider's authorization response parameters
// and returns the authorization code. A provider-signaled error or a state
// mismatch aborts the login.
func validateCallback(query url.Values, wantState string) (string, error) {
	if errParam := query.Get("error"); errParam != "" {
		desc := query.Get("error_description")
		if desc == "" {
			desc = errParam
		}
		return "", fmt.Errorf("%w: provider returned %q: %s", oidc.ErrCallbackValidation, errParam, desc)
	}

	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("%w: missing code parameter", oidc.ErrCallbackValidation)
	}

	// CSRF defense: the round-tripped state must equal the stored one
	if query.Get("state") != wantState {
		return "", fmt.Errorf("%w: state mismatch", oidc.ErrCallbackValidation)
	}

	return code, nil
}

// failLogin logs a flow failure and renders a user-facing error page. Every
// error here is fatal to the current invocation; the stale flow state stays
// in the session and is overwritten by the next initiator run.
func (s *Server) failLogin(w http.ResponseWriter, sess *session.Session, err error) {
	slog.Error("login failed",
		"session_id", sess.ID,
		"error", err,
	)

	s.renderError(w, loginFailureMessage(err))
}

// loginFailureMessage maps flow error kinds to user-facing messages.
func loginFailureMessage(err error) string {
	switch {
	case errors.Is(err, oidc.ErrMissingFlowState):
		return "Your login attempt expired or was never started. Please log in again."
	case errors.Is(err, oidc.ErrCallbackValidation):
		return "The login response could not be validated. Please log in again."
	case errors.Is(err, oidc.ErrDiscovery):
		return "The identity provider is unavailable. Please try again later."
	case errors.Is(err, oidc.ErrProviderChallenge):
		return "The identity provider rejected this application's credentials. Contact your administrator."
	case errors.Is(err, oidc.ErrTokenValidation):
		return "The identity provider returned an invalid token. Please log in again."
	case errors.Is(err, headscale.ErrAPIKeyRequest):
		return "Login succeeded, but Headscale could not issue an API key. Please try again."
	default:
		return "Login failed. Please try again."
	}
}
