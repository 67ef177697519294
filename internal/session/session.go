// Package session implements the in-memory session store. Sessions are
// bearer credentials with a TTL; they are deliberately not persisted, so a
// process restart invalidates every session.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
)

// apiKeyPrefix namespaces issued keys so they are recognisable in requests
// and logs without revealing anything about the holder.
const apiKeyPrefix = "omni_"

// Session is an authenticated client session.
type Session struct {
	ID        uuid.UUID `json:"id"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Expired reports whether the session's TTL has passed at time now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Manager owns the live session index. All methods are safe for concurrent
// use; a single RWMutex linearises writes.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// NewManager returns an empty session manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create mints a new session with the given TTL and a fresh opaque API key.
func (m *Manager) Create(ttl time.Duration) Session {
	now := m.now()
	s := &Session{
		ID:        uuid.New(),
		APIKey:    newAPIKey(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		LastSeen:  now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.APIKey] = s
	return *s
}

// Get returns the session for apiKey without touching it, or nil.
func (m *Manager) Get(apiKey string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[apiKey]; ok {
		cp := *s
		return &cp
	}
	return nil
}

// Validate looks up the session for apiKey. An expired session is evicted on
// the spot and nil is returned; a live one has its LastSeen refreshed.
func (m *Manager) Validate(apiKey string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[apiKey]
	if !ok {
		return nil
	}
	now := m.now()
	if s.Expired(now) {
		delete(m.sessions, apiKey)
		return nil
	}
	s.LastSeen = now
	cp := *s
	return &cp
}

// Revoke removes the session unconditionally and reports whether it existed.
func (m *Manager) Revoke(apiKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[apiKey]
	delete(m.sessions, apiKey)
	return ok
}

// CleanupExpired sweeps every expired session and returns the count removed.
// Validate already self-heals, so this only bounds memory between lookups.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, key)
			removed++
		}
	}
	return removed
}

// Count returns the number of sessions currently held, expired or not.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func newAPIKey() string {
	raw := make([]byte, 32)
	rand.Read(raw) //nolint:errcheck
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
