package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// TestProvider is an in-process OIDC provider for tests. It serves a
// discovery document, a JWKS endpoint, an authorization endpoint that
// round-trips state and captures the nonce, and a token endpoint that signs
// real RS256 ID tokens. Stop is registered via t.Cleanup.
type TestProvider struct {
	t          *testing.T
	httpServer *httptest.Server

	privKey *rsa.PrivateKey
	keyID   string

	mu               sync.Mutex
	clientID         string
	clientSecret     string
	expectedAuthCode string
	capturedNonce    string
	customClaims     map[string]interface{}
	tokenExpiry      time.Time
	omitAuthEndpoint bool
	tokenChallenge   bool
}

// NewTestProvider starts a test provider on a random local port.
func NewTestProvider(t *testing.T) *TestProvider {
	t.Helper()

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test signing key: %v", err)
	}

	p := &TestProvider{
		t:                t,
		privKey:          privKey,
		keyID:            "test-key",
		expectedAuthCode: "test-code",
		tokenExpiry:      time.Now().Add(5 * time.Minute),
	}
	p.httpServer = httptest.NewServer(p)
	t.Cleanup(p.httpServer.Close)

	return p
}

// Issuer returns the provider's issuer URL.
func (p *TestProvider) Issuer() string { return p.httpServer.URL }

// SetClientCreds configures the client credentials the token endpoint
// requires via HTTP basic auth.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the authorization code the provider issues
// and the token endpoint accepts.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetIDTokenNonce overrides the nonce embedded in issued ID tokens. By
// default the token carries the nonce captured from the authorization
// request; a mismatching override simulates a replayed token.
func (p *TestProvider) SetIDTokenNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.capturedNonce = nonce
}

// SetCustomClaims adds claims (e.g. name, email) to issued ID tokens.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetIDTokenExpiry sets the exp claim of issued ID tokens.
func (p *TestProvider) SetIDTokenExpiry(expiry time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenExpiry = expiry
}

// OmitAuthorizationEndpoint drops authorization_endpoint from the discovery
// document, making discovery fail validation.
func (p *TestProvider) OmitAuthorizationEndpoint() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAuthEndpoint = true
}

// SetTokenChallenge makes the token endpoint reject the exchange with a 401
// carrying a WWW-Authenticate challenge.
func (p *TestProvider) SetTokenChallenge(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenChallenge = on
}

// ServeHTTP implements the provider's endpoints.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		p.writeDiscovery(w)
	case "/keys":
		p.writeJWKS(w)
	case "/auth":
		p.handleAuth(w, req)
	case "/token":
		p.handleToken(w, req)
	default:
		http.NotFound(w, req)
	}
}

func (p *TestProvider) writeDiscovery(w http.ResponseWriter) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc := map[string]interface{}{
		"issuer":                                p.httpServer.URL,
		"token_endpoint":                        p.httpServer.URL + "/token",
		"jwks_uri":                              p.httpServer.URL + "/keys",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
	if !p.omitAuthEndpoint {
		doc["authorization_endpoint"] = p.httpServer.URL + "/auth"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		p.t.Errorf("failed to write discovery document: %v", err)
	}
}

func (p *TestProvider) writeJWKS(w http.ResponseWriter) {
	jwks := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       p.privKey.Public(),
				KeyID:     p.keyID,
				Use:       "sig",
				Algorithm: string(jose.RS256),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(jwks); err != nil {
		p.t.Errorf("failed to write JWKS: %v", err)
	}
}

// handleAuth captures the request's nonce and immediately redirects back to
// the client's redirect_uri with the expected code and the request's state,
// as a provider would after a successful user login.
func (p *TestProvider) handleAuth(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" {
		http.Error(w, "missing redirect_uri", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.capturedNonce = q.Get("nonce")
	code := p.expectedAuthCode
	p.mu.Unlock()

	loc, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	lq := loc.Query()
	lq.Set("code", code)
	lq.Set("state", q.Get("state"))
	loc.RawQuery = lq.Encode()

	http.Redirect(w, req, loc.String(), http.StatusFound)
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tokenChallenge {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if p.clientID != "" {
		id, secret, ok := req.BasicAuth()
		if !ok || id != p.clientID || secret != p.clientSecret {
			http.Error(w, "invalid client credentials", http.StatusUnauthorized)
			return
		}
	}

	if err := req.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if req.PostFormValue("code") != p.expectedAuthCode {
		http.Error(w, "invalid code", http.StatusBadRequest)
		return
	}
	if req.PostFormValue("code_verifier") == "" {
		http.Error(w, "missing code_verifier", http.StatusBadRequest)
		return
	}

	idToken, err := p.signIDToken()
	if err != nil {
		p.t.Errorf("failed to sign ID token: %v", err)
		http.Error(w, "signing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": "test-access-token",
		"token_type":   "Bearer",
		"expires_in":   300,
		"id_token":     idToken,
	})
	if err != nil {
		p.t.Errorf("failed to write token response: %v", err)
	}
}

// signIDToken issues an RS256-signed ID token with the configured claims.
// Caller must hold p.mu.
func (p *TestProvider) signIDToken() (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: p.privKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", p.keyID),
	)
	if err != nil {
		return "", err
	}

	std := jwt.Claims{
		Issuer:   p.httpServer.URL,
		Subject:  "test-subject",
		Audience: jwt.Audience{p.clientID},
		Expiry:   jwt.NewNumericDate(p.tokenExpiry),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}

	custom := map[string]interface{}{}
	for k, v := range p.customClaims {
		custom[k] = v
	}
	if p.capturedNonce != "" {
		custom["nonce"] = p.capturedNonce
	}

	return jwt.Signed(signer).Claims(std).Claims(custom).Serialize()
}
