package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Manager keeps sessions in memory with TTL-based cleanup, keyed by the
// random ID carried in the session cookie. It is safe for concurrent use.
type Manager struct {
	cookieName   string
	cookieSecure bool
	timeout      time.Duration

	mu            sync.RWMutex
	sessions      map[string]*Session // session ID -> Session
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// NewManager creates a session manager with the given cookie settings and
// session lifetime. It starts a background cleanup goroutine that runs every
// minute; call Stop on shutdown.
func NewManager(cookieName string, cookieSecure bool, timeout time.Duration) *Manager {
	m := &Manager{
		cookieName:    cookieName,
		cookieSecure:  cookieSecure,
		timeout:       timeout,
		sessions:      make(map[string]*Session),
		cleanupTicker: time.NewTicker(1 * time.Minute),
		stopCleanup:   make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// Stop stops the manager's cleanup goroutine.
func (m *Manager) Stop() {
	m.cleanupTicker.Stop()
	close(m.stopCleanup)
}

// Open returns the session identified by the request's cookie, or a fresh
// session when the cookie is absent, unknown, or expired. The session only
// becomes (or stays) reachable from a cookie after Commit.
func (m *Manager) Open(r *http.Request) (*Session, error) {
	if cookie, err := r.Cookie(m.cookieName); err == nil && cookie.Value != "" {
		m.mu.RLock()
		sess, ok := m.sessions[cookie.Value]
		m.mu.RUnlock()

		if ok && time.Now().Before(sess.ExpiresAt) {
			return sess, nil
		}
	}

	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(m.timeout),
		values:    make(map[string]interface{}),
	}, nil
}

// Commit persists the session, refreshes its expiry, and writes the session
// cookie onto the response.
func (m *Manager) Commit(w http.ResponseWriter, sess *Session) {
	m.mu.Lock()
	sess.ExpiresAt = time.Now().Add(m.timeout)
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(m.timeout.Seconds()),
		HttpOnly: true,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Delete removes a session from the manager.
func (m *Manager) Delete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Count returns the current number of stored sessions.
// Useful for monitoring and testing.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// cleanupLoop periodically removes expired sessions until Stop is called.
func (m *Manager) cleanupLoop() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.cleanup()
		case <-m.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired sessions.
func (m *Manager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	expiredCount := 0

	for id, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			delete(m.sessions, id)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		slog.Info("cleaned up expired sessions", "count", expiredCount)
	}
}

// generateSessionID generates a cryptographically secure random session ID.
// The ID is 64 hex characters (32 random bytes).
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
