// Package keystore manages the per-client server keypairs and the two-phase
// registration handshake.
//
// Registration moves a client through three states: unregistered, key
// issued, registered. RegisterInit issues (or reissues, while still pending)
// the dedicated server keypair; RegisterComplete stores the client's public
// key and finishes the handshake.
package keystore

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnicore/omnid/internal/crypto"
	"github.com/omnicore/omnid/internal/errs"
	"github.com/omnicore/omnid/internal/store"
)

const (
	serverKeysCollection = "server_keys"
	clientsCollection    = "clients"
)

// ServerKeyEntry is the server keypair dedicated to one client, generated at
// registration-init time and never regenerated after the client completes.
type ServerKeyEntry struct {
	ClientID  string    `json:"client_id"`
	PublicKey string    `json:"public_key"`
	// SecretKey is the hex private scalar. It is persisted so the shared
	// secret survives restarts; it must never be logged or served.
	SecretKey string    `json:"secret_key"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientEntry is a completed registration. It only exists once a
// ServerKeyEntry for the same client id exists.
type ClientEntry struct {
	ClientID     string    `json:"client_id"`
	PublicKey    string    `json:"client_public_key"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// ServerKeyInfo is the public half of a ServerKeyEntry, safe to list.
type ServerKeyInfo struct {
	ClientID  string `json:"client_id"`
	PublicKey string `json:"public_key"`
}

// Manager owns the registration state. A single RWMutex guards the in-memory
// indexes; every write also persists while holding the lock so memory and
// disk never diverge at the point a call returns. Failed persistence writes
// are logged and the in-memory state stays authoritative.
type Manager struct {
	mu         sync.RWMutex
	serverKeys map[string]ServerKeyEntry
	clients    map[string]ClientEntry

	keysCol    *store.Collection[ServerKeyEntry]
	clientsCol *store.Collection[ClientEntry]
	log        *zap.Logger
	now        func() time.Time
}

// NewManager loads existing registrations from s and returns the manager.
func NewManager(s store.Store, log *zap.Logger) (*Manager, error) {
	m := &Manager{
		serverKeys: make(map[string]ServerKeyEntry),
		clients:    make(map[string]ClientEntry),
		keysCol:    store.NewCollection[ServerKeyEntry](s, serverKeysCollection),
		clientsCol: store.NewCollection[ClientEntry](s, clientsCollection),
		log:        log,
		now:        time.Now,
	}

	ctx := context.Background()
	keys, err := m.keysCol.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		m.serverKeys[k.ClientID] = k
	}
	clients, err := m.clientsCol.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range clients {
		m.clients[c.ClientID] = c
	}
	return m, nil
}

// RegisterInit issues a fresh server keypair for clientID. It conflicts once
// the client has completed registration; while the registration is still
// pending, calling it again silently replaces the pending keypair.
func (m *Manager) RegisterInit(ctx context.Context, clientID string) (ServerKeyEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[clientID]; ok {
		return ServerKeyEntry{}, errs.Newf(errs.KindConflict, "client %q already registered", clientID)
	}

	kp, err := crypto.GenerateKeypair()
	if err != nil {
		return ServerKeyEntry{}, err
	}
	entry := ServerKeyEntry{
		ClientID:  clientID,
		PublicKey: kp.PublicKeyHex(),
		SecretKey: kp.PrivateKeyHex(),
		CreatedAt: m.now(),
	}
	m.serverKeys[clientID] = entry
	if err := m.keysCol.Put(ctx, clientID, entry); err != nil {
		m.log.Warn("persist server key failed", zap.String("client_id", clientID), zap.Error(err))
	}
	return entry, nil
}

// RegisterComplete finishes the handshake. encodedPublicKey is the transport
// form from the wire: base64 whose payload is the hex public key. The
// "encrypted" framing of that field is nominal; public keys are not
// confidential and no shared secret exists yet at this step, so the payload
// is a plain reversible encoding. Kept as documented behavior for wire
// compatibility.
func (m *Manager) RegisterComplete(ctx context.Context, clientID, encodedPublicKey string) (ClientEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.serverKeys[clientID]; !ok {
		return ClientEntry{}, errs.Newf(errs.KindNotFound, "no pending registration for client %q", clientID)
	}

	raw, err := base64.StdEncoding.DecodeString(encodedPublicKey)
	if err != nil {
		return ClientEntry{}, errs.Wrap(errs.KindValidation, "invalid public key encoding", err)
	}
	hexKey := string(raw)
	if _, err := crypto.ParsePublicKey(hexKey); err != nil {
		return ClientEntry{}, err
	}

	now := m.now()
	entry := ClientEntry{
		ClientID:     clientID,
		PublicKey:    hexKey,
		RegisteredAt: now,
		LastSeen:     now,
	}
	m.clients[clientID] = entry
	if err := m.clientsCol.Put(ctx, clientID, entry); err != nil {
		m.log.Warn("persist client failed", zap.String("client_id", clientID), zap.Error(err))
	}
	return entry, nil
}

// GetServerKey returns the server keypair issued for clientID, or nil.
func (m *Manager) GetServerKey(clientID string) *ServerKeyEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k, ok := m.serverKeys[clientID]; ok {
		return &k
	}
	return nil
}

// GetClient returns the completed registration for clientID, or nil.
func (m *Manager) GetClient(clientID string) *ClientEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.clients[clientID]; ok {
		return &c
	}
	return nil
}

// ListClients returns every completed registration.
func (m *Manager) ListClients() []ClientEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ClientEntry, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out
}

// ListServerKeys returns the public halves of every issued server keypair.
func (m *Manager) ListServerKeys() []ServerKeyInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServerKeyInfo, 0, len(m.serverKeys))
	for _, k := range m.serverKeys {
		out = append(out, ServerKeyInfo{ClientID: k.ClientID, PublicKey: k.PublicKey})
	}
	return out
}

// DeriveSharedSecret computes the X25519 shared secret between the server
// keypair issued for clientID and the client's registered public key.
func (m *Manager) DeriveSharedSecret(clientID string) ([crypto.KeySize]byte, error) {
	m.mu.RLock()
	key, haveKey := m.serverKeys[clientID]
	client, haveClient := m.clients[clientID]
	m.mu.RUnlock()

	var zero [crypto.KeySize]byte
	if !haveKey || !haveClient {
		return zero, errs.Newf(errs.KindNotFound, "client %q not registered", clientID)
	}
	kp, err := crypto.KeypairFromPrivateHex(key.SecretKey)
	if err != nil {
		return zero, err
	}
	clientPub, err := crypto.ParsePublicKey(client.PublicKey)
	if err != nil {
		return zero, err
	}
	return kp.DeriveSharedSecret(clientPub)
}

// TouchClient refreshes the client's last-seen timestamp.
func (m *Manager) TouchClient(ctx context.Context, clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		return
	}
	c.LastSeen = m.now()
	m.clients[clientID] = c
	if err := m.clientsCol.Put(ctx, clientID, c); err != nil {
		m.log.Warn("persist client failed", zap.String("client_id", clientID), zap.Error(err))
	}
}
