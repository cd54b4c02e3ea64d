// Package session provides cookie-bound browser sessions for the login flow.
package session

import (
	"sync"
	"time"
)

// Well-known session keys. The login flow stores its ephemeral secrets and
// the final credential under exactly these names.
const (
	// KeyAPIKey holds the Headscale API key minted after a successful login
	KeyAPIKey = "hsApiKey"

	// KeyUser holds the authenticated user's identity (a User value)
	KeyUser = "user"

	// KeyAuthState holds the OIDC state parameter of a pending login
	KeyAuthState = "authState"

	// KeyAuthNonce holds the OIDC nonce of a pending login
	KeyAuthNonce = "authNonce"

	// KeyAuthVerifier holds the PKCE code verifier of a pending login
	KeyAuthVerifier = "authVerifier"

	// KeyAuthStarted holds the time.Time a pending login was initiated.
	// Attempts older than the configured flow timeout are treated as absent.
	KeyAuthStarted = "authStartedAt"
)

// User is the identity derived from the ID token claims and stored in the
// session after a successful login.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Session is one browser's server-side session record. It is identified by a
// random ID carried in the session cookie and holds arbitrary values keyed
// by the constants above. Values written by concurrent requests for the same
// cookie follow last-writer-wins.
type Session struct {
	// ID is the cookie value (64-char hex string)
	ID string

	// CreatedAt is when this session was created
	CreatedAt time.Time

	// ExpiresAt is when this session will expire; refreshed on commit
	ExpiresAt time.Time

	mu     sync.RWMutex
	values map[string]interface{}
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the string stored under key. It returns false when the
// key is absent, holds a non-string, or holds an empty string.
func (s *Session) GetString(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	if !ok || str == "" {
		return "", false
	}
	return str, true
}

// GetTime returns the time.Time stored under key.
func (s *Session) GetTime(key string) (time.Time, bool) {
	v, ok := s.Get(key)
	if !ok {
		return time.Time{}, false
	}
	ts, ok := v.(time.Time)
	return ts, ok
}

// Set stores value under key, replacing any previous value.
func (s *Session) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Has reports whether a value is stored under key.
func (s *Session) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// Delete removes the value stored under key.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}
