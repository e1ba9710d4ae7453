package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultSessionTimeout is how long an idle session survives in the
// registry before the expiry sweep removes it.
const DefaultSessionTimeout = 24 * time.Hour

// registryEntry tracks a registered session for lookup and cleanup
type registryEntry struct {
	user       *UserSession
	lastAccess time.Time
}

// SessionRegistry maps bearer tokens to server-side user sessions. Tokens
// are never stored raw; the registry keys on their SHA-256 hash. An idle
// session is swept after the configured timeout, forcing the client back
// through sign-in.
type SessionRegistry struct {
	sessions       map[string]*registryEntry // Maps token hash to entry
	mu             sync.RWMutex
	cleanupTicker  *time.Ticker
	cleanupDone    chan bool
	sessionTimeout time.Duration
	logger         *slog.Logger
}

// NewSessionRegistry creates a new session registry with default timeout and logger
func NewSessionRegistry() *SessionRegistry {
	return NewSessionRegistryWithLogger(DefaultSessionTimeout, slog.Default())
}

// NewSessionRegistryWithTimeout creates a new session registry with custom timeout
func NewSessionRegistryWithTimeout(timeout time.Duration) *SessionRegistry {
	return NewSessionRegistryWithLogger(timeout, slog.Default())
}

// NewSessionRegistryWithLogger creates a new session registry with custom timeout and logger
func NewSessionRegistryWithLogger(timeout time.Duration, logger *slog.Logger) *SessionRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	m := &SessionRegistry{
		sessions:       make(map[string]*registryEntry),
		cleanupTicker:  time.NewTicker(10 * time.Minute),
		cleanupDone:    make(chan bool),
		sessionTimeout: timeout,
		logger:         logger,
	}

	// Start cleanup goroutine
	go m.cleanupExpiredSessions()

	return m
}

// ErrNoAuthorizationHeader is returned when no Authorization header is provided
var ErrNoAuthorizationHeader = errors.New("no authorization header provided")

// ErrUnknownSession is returned when the presented token maps to no
// registered session
var ErrUnknownSession = errors.New("unknown or expired session")

// Resolve returns the user session for an HTTP request's Bearer token.
// The session's last access time is refreshed on every hit.
func (m *SessionRegistry) Resolve(r *http.Request) (*UserSession, error) {
	token, err := bearerToken(r)
	if err != nil {
		return nil, err
	}
	return m.Lookup(token)
}

// Lookup returns the user session registered under the given token.
func (m *SessionRegistry) Lookup(token string) (*UserSession, error) {
	key := hashToken(token)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[key]
	if !ok {
		return nil, ErrUnknownSession
	}
	entry.lastAccess = time.Now()
	return entry.user, nil
}

// Register associates a user session with a bearer token.
func (m *SessionRegistry) Register(token string, user *UserSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[hashToken(token)] = &registryEntry{
		user:       user,
		lastAccess: time.Now(),
	}
}

// Remove drops the session registered under the given token and closes
// it, releasing any live subscriptions it holds.
func (m *SessionRegistry) Remove(token string) {
	key := hashToken(token)

	m.mu.Lock()
	entry, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if ok {
		entry.user.Close()
	}
}

// Count returns the number of registered sessions.
func (m *SessionRegistry) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// bearerToken extracts the Bearer token from an HTTP request
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrNoAuthorizationHeader
	}

	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return "", ErrNoAuthorizationHeader
	}
	return token, nil
}

// hashToken creates a stable registry key from the bearer token
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// cleanupExpiredSessions periodically removes expired sessions
func (m *SessionRegistry) cleanupExpiredSessions() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.mu.Lock()
			now := time.Now()
			var expired []*registryEntry
			for key, entry := range m.sessions {
				if now.Sub(entry.lastAccess) > m.sessionTimeout {
					delete(m.sessions, key)
					expired = append(expired, entry)
				}
			}
			m.mu.Unlock()
			for _, entry := range expired {
				entry.user.Close()
			}
			if len(expired) > 0 {
				m.logger.Info("Cleaned up expired sessions", "count", len(expired))
			}
		case <-m.cleanupDone:
			return
		}
	}
}

// Stop stops the session cleanup goroutine
func (m *SessionRegistry) Stop() {
	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}
	if m.cleanupDone != nil {
		close(m.cleanupDone)
	}
}
