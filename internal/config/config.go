// Package config manages the server settings file. Settings live in
// data/config.d/server-config.yaml, created with defaults on first run;
// a few fields can be overridden through the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/omnicore/omnid/internal/version"
)

const configFile = "server-config.yaml"

// ServerSettings identify this server to clients and peers.
type ServerSettings struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Version     string `yaml:"version" json:"version"`
}

// NetworkSettings control how the server is reached.
type NetworkSettings struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	PublicURL string `yaml:"public_url" json:"public_url"`
}

// AuthSettings control session lifetimes.
type AuthSettings struct {
	SessionTTLSecs int `yaml:"session_ttl_secs" json:"session_ttl_secs"`
	// AdminSessionMultiplier scales the base TTL for admin sessions.
	AdminSessionMultiplier int `yaml:"admin_session_multiplier" json:"admin_session_multiplier"`
}

// FederationSettings control the server directory and its sync loop.
type FederationSettings struct {
	Enabled          bool `yaml:"enabled" json:"enabled"`
	Public           bool `yaml:"public" json:"public"`
	SyncIntervalSecs int  `yaml:"sync_interval_secs" json:"sync_interval_secs"`
	MaxKnownServers  int  `yaml:"max_known_servers" json:"max_known_servers"`
}

// Config is the complete settings document.
type Config struct {
	Server     ServerSettings     `yaml:"server" json:"server"`
	Network    NetworkSettings    `yaml:"network" json:"network"`
	Auth       AuthSettings       `yaml:"auth" json:"auth"`
	Federation FederationSettings `yaml:"federation" json:"federation"`
}

// Default returns the settings written on first run.
func Default() Config {
	return Config{
		Server: ServerSettings{
			Name:        "Omni Core Server",
			Description: "An Omni Core authentication server",
			Version:     version.Version,
		},
		Network: NetworkSettings{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Auth: AuthSettings{
			SessionTTLSecs:         3600,
			AdminSessionMultiplier: 24,
		},
		Federation: FederationSettings{
			Enabled:          true,
			Public:           true,
			SyncIntervalSecs: 3600,
			MaxKnownServers:  1000,
		},
	}
}

// SessionTTL returns the base session TTL as a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLSecs) * time.Second
}

// AdminSessionTTL returns the extended TTL used for admin sessions.
func (c Config) AdminSessionTTL() time.Duration {
	mult := c.Auth.AdminSessionMultiplier
	if mult <= 0 {
		mult = 1
	}
	return c.SessionTTL() * time.Duration(mult)
}

// SyncInterval returns the federation sync cadence.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.Federation.SyncIntervalSecs) * time.Second
}

// applyEnv overlays environment overrides onto c.
func (c *Config) applyEnv() {
	if v := os.Getenv("OMNI_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Network.Port = port
		}
	}
	if v := os.Getenv("OMNI_PUBLIC_URL"); v != "" {
		c.Network.PublicURL = v
	}
	if v := os.Getenv("OMNI_SESSION_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Auth.SessionTTLSecs = secs
		}
	}
	if v := os.Getenv("OMNI_SYNC_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Federation.SyncIntervalSecs = secs
		}
	}
}

// Manager is the thread-safe settings store. Updates persist while holding
// the lock.
type Manager struct {
	mu   sync.RWMutex
	cfg  Config
	path string
}

// LoadManager reads the settings from dataDir/config.d, creating the file
// with defaults when absent, then applies environment overrides.
func LoadManager(dataDir string) (*Manager, error) {
	path := filepath.Join(dataDir, "config.d", configFile)
	m := &Manager{path: path}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &m.cfg); err != nil {
			return nil, fmt.Errorf("parse server config: %w", err)
		}
	case os.IsNotExist(err):
		m.cfg = Default()
		if err := m.save(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read server config: %w", err)
	}

	m.cfg.applyEnv()
	return m, nil
}

func (m *Manager) save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return err
	}
	out, err := yaml.Marshal(m.cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, out, 0600)
}

// Get returns a copy of the full settings document.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// GetServer returns the server settings section.
func (m *Manager) GetServer() ServerSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Server
}

// GetNetwork returns the network settings section.
func (m *Manager) GetNetwork() NetworkSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Network
}

// GetAuth returns the auth settings section.
func (m *Manager) GetAuth() AuthSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Auth
}

// GetFederation returns the federation settings section.
func (m *Manager) GetFederation() FederationSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Federation
}

// UpdateServer replaces the server settings section and persists.
func (m *Manager) UpdateServer(s ServerSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Server = s
	return m.save()
}

// UpdateNetwork replaces the network settings section and persists.
func (m *Manager) UpdateNetwork(s NetworkSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Network = s
	return m.save()
}

// UpdateAuth replaces the auth settings section and persists.
func (m *Manager) UpdateAuth(s AuthSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Auth = s
	return m.save()
}

// UpdateFederation replaces the federation settings section and persists.
func (m *Manager) UpdateFederation(s FederationSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Federation = s
	return m.save()
}

// Update replaces the full settings document and persists.
func (m *Manager) Update(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	return m.save()
}
