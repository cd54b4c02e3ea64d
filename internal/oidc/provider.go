// Package oidc implements the relying-party half of an OpenID Connect
// authorization code flow with PKCE.
package oidc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"

	"github.com/lapnd/headplane/internal/config"
)

// Scopes requested on every authorization request.
var Scopes = []string{oidc.ScopeOpenID, "profile", "email"}

// httpTimeout bounds every outbound call (discovery, JWKS fetch, token
// exchange). An unresponsive provider must not hang the user's request.
const httpTimeout = 15 * time.Second

// Provider wraps the resolved provider metadata and OAuth2 configuration for
// a single flow invocation. It handles token exchange and ID token
// verification against the discovered endpoints.
type Provider struct {
	oidcProvider *oidc.Provider
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// NewProvider resolves provider metadata from the issuer URL via
// /.well-known/openid-configuration and sets up the OAuth2 configuration and
// ID token verifier. Metadata is fetched fresh on every call so the two flow
// phases tolerate provider configuration changes between them.
//
// redirectURL must be the externally visible callback URL for the current
// request; the completer has to pass the byte-for-byte identical value it
// used when initiating the flow.
func NewProvider(ctx context.Context, cfg *config.OIDCConfig, redirectURL string) (*Provider, error) {
	ctx, cancel := context.WithTimeout(ClientContext(ctx), httpTimeout)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	endpoint := provider.Endpoint()
	if endpoint.AuthURL == "" {
		return nil, fmt.Errorf("%w: metadata for %s has no authorization_endpoint", ErrDiscovery, cfg.Issuer)
	}
	if endpoint.TokenURL == "" {
		return nil, fmt.Errorf("%w: metadata for %s has no token_endpoint", ErrDiscovery, cfg.Issuer)
	}

	// Token endpoint auth method is fixed by configuration rather than
	// negotiated from metadata.
	switch cfg.TokenEndpointAuthMethod {
	case "client_secret_post":
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	default: // client_secret_basic
		endpoint.AuthStyle = oauth2.AuthStyleInHeader
	}

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoint,
		Scopes:       Scopes,
	}

	// Verifies the token signature, issuer, audience, and expiry
	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	return &Provider{
		oidcProvider: provider,
		oauth2Config: oauth2Config,
		verifier:     verifier,
	}, nil
}

// ClientContext returns a context whose outbound OIDC and OAuth2 calls use a
// pooled HTTP client with a bounded timeout. An existing client on the
// context (e.g. injected by tests) is kept.
func ClientContext(ctx context.Context) context.Context {
	if _, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		return ctx
	}
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = httpTimeout
	return oidc.ClientContext(ctx, client)
}

// AuthCodeURL returns the full authorization URL for the given flow values.
func (p *Provider) AuthCodeURL(flow *AuthFlow) string {
	return p.oauth2Config.AuthCodeURL(flow.State,
		oauth2.SetAuthURLParam("nonce", flow.Nonce),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge(flow.CodeVerifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}
