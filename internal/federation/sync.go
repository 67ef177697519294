package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SyncConfig tunes the background sync loop.
type SyncConfig struct {
	// Interval between sync cycles.
	Interval time.Duration
	// Timeout bounds each outbound peer request so one unreachable peer
	// cannot stall a cycle past it.
	Timeout time.Duration
	// MaxServersPerSync caps how many entries a single peer response may
	// contribute to a merge.
	MaxServersPerSync int
}

// DefaultSyncConfig returns the production defaults: hourly cycles, 30s
// request timeout.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Interval:          time.Hour,
		Timeout:           30 * time.Second,
		MaxServersPerSync: 100,
	}
}

// SyncRequest is the body sent to a peer's sync endpoint.
type SyncRequest struct {
	RequestingServerID  string `json:"requesting_server_id"`
	RequestingServerKey string `json:"requesting_server_key"`
}

// SyncResponse is a peer's public server list.
type SyncResponse struct {
	Servers []PublicServerInfo `json:"servers"`
	Total   int                `json:"total"`
}

// Syncer periodically pulls peer lists from every authenticated peer and
// merges them into the registry. It runs for the lifetime of the process.
type Syncer struct {
	registry  *Registry
	cfg       SyncConfig
	serverID  string
	publicKey string
	client    *http.Client
	log       *zap.Logger

	// ticks overrides the interval timer when set; tests drive cycles
	// through it without real waiting.
	ticks <-chan time.Time
}

// NewSyncer returns a sync service identifying itself to peers as serverID
// with the given public key.
func NewSyncer(registry *Registry, serverID, publicKey string, cfg SyncConfig, log *zap.Logger) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Syncer{
		registry:  registry,
		cfg:       cfg,
		serverID:  serverID,
		publicKey: publicKey,
		client:    &http.Client{Timeout: cfg.Timeout},
		log:       log,
	}
}

// Run drives sync cycles until ctx is cancelled. It never returns on its own.
func (s *Syncer) Run(ctx context.Context) {
	ticks := s.ticks
	if ticks == nil {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	s.log.Info("server sync service started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			s.SyncAll(ctx)
		}
	}
}

// SyncAll performs one cycle: every authenticated peer is queried once, with
// per-peer failures logged and skipped. There is no retry within a cycle;
// the next tick is the retry. Returns the number of newly discovered servers.
func (s *Syncer) SyncAll(ctx context.Context) int {
	peers := s.registry.ListAuthenticated()
	if len(peers) == 0 {
		s.log.Debug("no authenticated servers to sync with")
		return 0
	}

	s.log.Info("starting sync cycle", zap.Int("peers", len(peers)))
	totalAdded := 0
	for _, peer := range peers {
		added, err := s.syncWith(ctx, peer)
		if err != nil {
			s.log.Warn("sync failed",
				zap.String("server_id", peer.ServerID),
				zap.String("public_url", peer.PublicURL),
				zap.Error(err))
			continue
		}
		totalAdded += added
		s.log.Info("synced with peer",
			zap.String("server_id", peer.ServerID),
			zap.String("public_url", peer.PublicURL),
			zap.Int("added", added))
	}
	s.log.Info("sync cycle complete", zap.Int("discovered", totalAdded))
	return totalAdded
}

// syncWith pulls one peer's public list and merges it.
func (s *Syncer) syncWith(ctx context.Context, peer ServerEntry) (int, error) {
	body, err := json.Marshal(SyncRequest{
		RequestingServerID:  s.serverID,
		RequestingServerKey: s.publicKey,
	})
	if err != nil {
		return 0, err
	}

	url := peer.PublicURL + "/api/v1/servers/sync"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return 0, fmt.Errorf("peer returned %s", resp.Status)
	}

	var list SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return 0, fmt.Errorf("decode sync response: %w", err)
	}

	servers := list.Servers
	if s.cfg.MaxServersPerSync > 0 && len(servers) > s.cfg.MaxServersPerSync {
		servers = servers[:s.cfg.MaxServersPerSync]
	}

	added := s.registry.MergeFrom(ctx, servers)
	s.registry.MarkSynced(ctx, peer.ServerID)
	return added, nil
}
