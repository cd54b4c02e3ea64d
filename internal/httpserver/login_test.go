package httpserver

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/lapnd/headplane/internal/oidc"
	"github.com/lapnd/headplane/internal/session"
)

// startLogin drives the start handler and returns the response.
func (e *testEnv) startLogin(cookie *http.Cookie) *httptest.ResponseRecorder {
	e.t.Helper()

	req := httptest.NewRequest(http.MethodGet, StartPath, nil)
	req.Host = "headplane.example.com"
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return e.do(req)
}

// flowSession resolves the session committed by a start response.
func (e *testEnv) flowSession(rec *httptest.ResponseRecorder) (*session.Session, *http.Cookie) {
	e.t.Helper()

	cookie := sessionCookie(e.t, rec)
	if cookie == nil {
		e.t.Fatal("start response did not set a session cookie")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := e.sessions.Open(req)
	if err != nil {
		e.t.Fatalf("Open failed: %v", err)
	}
	return sess, cookie
}

func TestStartLoginRedirectsToProvider(t *testing.T) {
	tp := oidc.NewTestProvider(t)
	e := newTestEnv(t, tp.Issuer())

	rec := e.startLogin(nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302; body: %s", rec.Code, rec.Body.String())
	}

	authURL, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location does not parse: %v", err)
	}
	if !strings.HasPrefix(authURL.String(), tp.Issuer()+"/auth") {
		t.Errorf("redirect %s does not target the provider's authorization endpoint", authURL)
	}

	sess, _ := e.flowSession(rec)
	state, _ := sess.GetString(session.KeyAuthState)
	nonce, _ := sess.GetString(session.KeyAuthNonce)
	verifier, _ := sess.GetString(session.KeyAuthVerifier)
	if state == "" || nonce == "" || verifier == "" {
		t.Fatal("session is missing flow state after start")
	}
	if _, ok := sess.GetTime(session.KeyAuthStarted); !ok {
		t.Error("session is missing the attempt timestamp")
	}

	q := authURL.Query()
	if q.Get("state") != state {
		t.Errorf("state param %q != stored state %q", q.Get("state"), state)
	}
	if q.Get("nonce") != nonce {
		t.Errorf("nonce param %q != stored nonce %q", q.Get("nonce"), nonce)
	}
	if q.Get("client_id") != "test-client" {
		t.Errorf("client_id = %q, want %q", q.Get("client_id"), "test-client")
	}
	if q.Get("response_type") != "code" {
		t.Errorf("response_type = %q, want %q", q.Get("response_type"), "code")
	}
	if q.Get("scope") != "openid profile email" {
		t.Errorf("scope = %q, want %q", q.Get("scope"), "openid profile email")
	}
	if q.Get("redirect_uri") != "http://headplane.example.com"+CallbackPath {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}

	// code_challenge must be the S256 derivation of the stored verifier
	h := sha256.Sum256([]byte(verifier))
	wantChallenge := base64.RawURLEncoding.EncodeToString(h[:])
	if q.Get("code_challenge") != wantChallenge {
		t.Errorf("code_challenge = %q, want %q", q.Get("code_challenge"), wantChallenge)
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q, want S256", q.Get("code_challenge_method"))
	}
}

func TestStartLoginDistinctAcrossCalls(t *testing.T) {
	tp := oidc.NewTestProvider(t)
	e := newTestEnv(t, tp.Issuer())

	first, _ := e.flowSession(e.startLogin(nil))
	second, _ := e.flowSession(e.startLogin(nil))

	for _, key := range []string{session.KeyAuthState, session.KeyAuthNonce, session.KeyAuthVerifier} {
		a, _ := first.GetString(key)
		b, _ := second.GetString(key)
		if a == "" || b == "" {
			t.Fatalf("missing %s in a flow session", key)
		}
		if a == b {
			t.Errorf("%s repeated across flows: %q", key, a)
		}
	}
}

func TestStartLoginAlreadyAuthenticated(t *testing.T) {
	issuer, hits := countingIssuer(t)
	e := newTestEnv(t, issuer)

	rec := e.startLogin(e.authedCookie())
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/machines" {
		t.Errorf("Location = %q, want /machines", loc)
	}
	if hits() != 0 {
		t.Errorf("provider contacted %d times, want 0", hits())
	}
}

func TestStartLoginDiscoveryError(t *testing.T) {
	tp := oidc.NewTestProvider(t)
	tp.OmitAuthorizationEndpoint()
	e := newTestEnv(t, tp.Issuer())

	rec := e.startLogin(nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "" {
		t.Errorf("discovery failure must not redirect, got Location %q", loc)
	}
	if !strings.Contains(rec.Body.String(), "identity provider") {
		t.Errorf("error page does not mention the provider: %s", rec.Body.String())
	}
}

func TestStartLoginHonorsForwardedProto(t *testing.T) {
	tp := oidc.NewTestProvider(t)
	e := newTestEnv(t, tp.Issuer())

	req := httptest.NewRequest(http.MethodGet, StartPath, nil)
	req.Host = "headplane.example.com"
	req.Header.Set("X-Forwarded-Proto", "https")

	rec := e.do(req)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}

	authURL, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location does not parse: %v", err)
	}
	want := "https://headplane.example.com" + CallbackPath
	if got := authURL.Query().Get("redirect_uri"); got != want {
		t.Errorf("redirect_uri = %q, want %q", got, want)
	}
}
