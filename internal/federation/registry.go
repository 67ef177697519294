// Package federation implements the server directory: a registry of known
// peer servers and the background task that keeps it populated by pulling
// peer lists from authenticated peers.
//
// The directory is eventually consistent. Merges are insert-only, so two
// instances may permanently disagree about fields of a server they both
// already know; that is accepted.
package federation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnicore/omnid/internal/store"
)

const serversCollection = "servers"

// defaultTrustLevel is assigned to newly discovered servers (0-100 scale).
const defaultTrustLevel = 50

// ServerEntry is a known peer server.
type ServerEntry struct {
	ServerID    string `json:"server_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PublicURL   string `json:"public_url"`
	PublicKey   string `json:"public_key"`
	// IsPublic controls whether the entry is shared with syncing peers.
	IsPublic bool `json:"is_public"`
	// IsAuthenticated is only ever set by local administrative action,
	// never by a merge.
	IsAuthenticated bool       `json:"is_authenticated"`
	TrustLevel      int        `json:"trust_level"`
	DiscoveredAt    time.Time  `json:"discovered_at"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
	LastSync        *time.Time `json:"last_sync,omitempty"`
	Version         string     `json:"version,omitempty"`
}

// NewServerEntry returns an entry with discovery defaults: public, not
// authenticated, middling trust.
func NewServerEntry(serverID, name, publicURL, publicKey string) ServerEntry {
	return ServerEntry{
		ServerID:     serverID,
		Name:         name,
		PublicURL:    publicURL,
		PublicKey:    publicKey,
		IsPublic:     true,
		TrustLevel:   defaultTrustLevel,
		DiscoveredAt: time.Now().UTC(),
	}
}

// PublicServerInfo is the share-safe projection of a ServerEntry, exchanged
// between federated servers.
type PublicServerInfo struct {
	ServerID    string `json:"server_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PublicURL   string `json:"public_url"`
	PublicKey   string `json:"public_key"`
	Version     string `json:"version"`
}

// PublicInfo projects the entry for sharing with peers.
func (e ServerEntry) PublicInfo() PublicServerInfo {
	return PublicServerInfo{
		ServerID:    e.ServerID,
		Name:        e.Name,
		Description: e.Description,
		PublicURL:   e.PublicURL,
		PublicKey:   e.PublicKey,
		Version:     e.Version,
	}
}

// Registry owns the known-server index. A single RWMutex guards it; writes
// persist while holding the lock, with failures logged and the in-memory
// state staying authoritative.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]ServerEntry

	col *store.Collection[ServerEntry]
	log *zap.Logger
	now func() time.Time
}

// NewRegistry loads known servers from s and returns the registry.
func NewRegistry(s store.Store, log *zap.Logger) (*Registry, error) {
	r := &Registry{
		servers: make(map[string]ServerEntry),
		col:     store.NewCollection[ServerEntry](s, serversCollection),
		log:     log,
		now:     time.Now,
	}
	entries, err := r.col.List(context.Background())
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		r.servers[e.ServerID] = e
	}
	return r, nil
}

func (r *Registry) persist(ctx context.Context, e ServerEntry) {
	if err := r.col.Put(ctx, e.ServerID, e); err != nil {
		r.log.Warn("persist server entry failed", zap.String("server_id", e.ServerID), zap.Error(err))
	}
}

// Register upserts a server entry keyed by its server id.
func (r *Registry) Register(ctx context.Context, entry ServerEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[entry.ServerID] = entry
	r.persist(ctx, entry)
}

// Update is Register under its read-modify-write name.
func (r *Registry) Update(ctx context.Context, entry ServerEntry) {
	r.Register(ctx, entry)
}

// Get returns the entry for serverID, or nil.
func (r *Registry) Get(serverID string) *ServerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.servers[serverID]; ok {
		return &e
	}
	return nil
}

// Remove deletes the entry for serverID.
func (r *Registry) Remove(ctx context.Context, serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[serverID]; !ok {
		return
	}
	delete(r.servers, serverID)
	if err := r.col.Delete(ctx, serverID); err != nil {
		r.log.Warn("delete server entry failed", zap.String("server_id", serverID), zap.Error(err))
	}
}

// ListAll returns every known server.
func (r *Registry) ListAll() []ServerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerEntry, 0, len(r.servers))
	for _, e := range r.servers {
		out = append(out, e)
	}
	return out
}

// ListPublic returns the servers marked public, the set shared with peers.
func (r *Registry) ListPublic() []ServerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServerEntry
	for _, e := range r.servers {
		if e.IsPublic {
			out = append(out, e)
		}
	}
	return out
}

// ListAuthenticated returns the servers we sync from.
func (r *Registry) ListAuthenticated() []ServerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServerEntry
	for _, e := range r.servers {
		if e.IsAuthenticated {
			out = append(out, e)
		}
	}
	return out
}

// SetAuthenticated flips the local authentication decision for serverID and
// refreshes its last-seen timestamp.
func (r *Registry) SetAuthenticated(ctx context.Context, serverID string, authenticated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.servers[serverID]
	if !ok {
		return
	}
	now := r.now().UTC()
	e.IsAuthenticated = authenticated
	e.LastSeen = &now
	r.servers[serverID] = e
	r.persist(ctx, e)
}

// Touch refreshes the last-seen timestamp for serverID.
func (r *Registry) Touch(ctx context.Context, serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.servers[serverID]
	if !ok {
		return
	}
	now := r.now().UTC()
	e.LastSeen = &now
	r.servers[serverID] = e
	r.persist(ctx, e)
}

// MarkSynced records a completed sync with serverID.
func (r *Registry) MarkSynced(ctx context.Context, serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.servers[serverID]
	if !ok {
		return
	}
	now := r.now().UTC()
	e.LastSync = &now
	r.servers[serverID] = e
	r.persist(ctx, e)
}

// MergeFrom inserts servers received from a peer. Already-known ids are left
// untouched; a merge never overwrites trust or authentication state.
// Returns the number of entries added.
func (r *Registry) MergeFrom(ctx context.Context, servers []PublicServerInfo) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, info := range servers {
		if info.ServerID == "" {
			continue
		}
		if _, known := r.servers[info.ServerID]; known {
			continue
		}
		entry := ServerEntry{
			ServerID:     info.ServerID,
			Name:         info.Name,
			Description:  info.Description,
			PublicURL:    info.PublicURL,
			PublicKey:    info.PublicKey,
			Version:      info.Version,
			IsPublic:     true,
			TrustLevel:   defaultTrustLevel,
			DiscoveredAt: r.now().UTC(),
		}
		r.servers[entry.ServerID] = entry
		r.persist(ctx, entry)
		added++
	}
	return added
}

// Count returns the number of known servers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// CountPublic returns the number of public servers.
func (r *Registry) CountPublic() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.servers {
		if e.IsPublic {
			n++
		}
	}
	return n
}

// CountAuthenticated returns the number of authenticated servers.
func (r *Registry) CountAuthenticated() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.servers {
		if e.IsAuthenticated {
			n++
		}
	}
	return n
}
