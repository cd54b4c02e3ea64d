package oidc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// AuthFlow holds the ephemeral secrets of one authorization flow. All three
// values are generated fresh by BeginAuthFlow, survive the provider round
// trip in the user's session, and are consumed exactly once on callback.
type AuthFlow struct {
	// State is the CSRF binding round-tripped through the provider
	State string

	// Nonce is the replay binding embedded in the returned ID token
	Nonce string

	// CodeVerifier is the PKCE secret; its S256 challenge goes into the
	// authorization URL, the verifier itself only into the token exchange
	CodeVerifier string
}

// Identity contains the validated claims extracted from the ID token.
type Identity struct {
	// Subject is the provider's stable identifier for the user
	Subject string

	// Name is the user's display name ("" when the provider omits it)
	Name string

	// Email is the user's email address ("" when the provider omits it)
	Email string

	// ExpiresAt is the ID token expiry; the downstream API key inherits it
	ExpiresAt time.Time
}

// idTokenClaims is the subset of ID token claims this flow consumes.
type idTokenClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// BeginAuthFlow generates the state, nonce, and PKCE code verifier for a new
// authorization flow. The caller persists all three into the session and
// redirects the user to AuthCodeURL(flow).
func BeginAuthFlow() (*AuthFlow, error) {
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &AuthFlow{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
	}, nil
}

// Exchange trades the authorization code for tokens at the token endpoint and
// validates the result as an OpenID response. The ID token's signature,
// issuer, audience, and expiry are verified, and its embedded nonce must
// match the one stored when the flow was initiated.
func (p *Provider) Exchange(ctx context.Context, code, codeVerifier, nonce string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ClientContext(ctx), httpTimeout)
	defer cancel()

	token, err := p.oauth2Config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		// The exchange is a single backend call; an authentication
		// challenge from the token endpoint means the client credentials
		// or auth method are misconfigured.
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.Header.Get("WWW-Authenticate") != "" {
			return nil, fmt.Errorf("%w: %v", ErrProviderChallenge, err)
		}
		return nil, fmt.Errorf("%w: code exchange failed: %v", ErrTokenValidation, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: no id_token in token response", ErrTokenValidation)
	}

	// Verify signature, issuer, audience, and expiry
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenValidation, err)
	}

	// Replay protection: the token must carry the nonce this flow sent
	if idToken.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrTokenValidation)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrTokenValidation, err)
	}

	return &Identity{
		Subject:   idToken.Subject,
		Name:      claims.Name,
		Email:     claims.Email,
		ExpiresAt: idToken.Expiry,
	}, nil
}

// generateCodeVerifier creates a cryptographically random PKCE code verifier.
// The verifier is 32 random bytes encoded as base64url (43 characters).
// Per RFC 7636, the verifier must be 43-128 characters.
func generateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// codeChallenge derives the PKCE code challenge from the verifier using the
// S256 method: BASE64URL(SHA256(ASCII(verifier)))
func codeChallenge(verifier string) string {
	h := sha256.New()
	h.Write([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// generateState creates a random state parameter for CSRF protection.
// The state is 16 random bytes encoded as hex (32 characters).
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// generateNonce creates a random nonce bound into the ID token.
// The nonce is 16 random bytes encoded as hex (32 characters).
func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
