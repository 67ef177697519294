// Package admin manages the server's own identity and the generated admin
// credential.
package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const configFile = "admin.yaml"

// Config is the persisted admin identity: the server id, the admin bearer
// key, and the server public key for display.
type Config struct {
	ServerID        string `yaml:"server_id"`
	AdminKey        string `yaml:"admin_key"`
	CreatedAt       string `yaml:"created_at"`
	ServerPublicKey string `yaml:"server_public_key"`
}

// Auth verifies the admin credential and exposes the server identity.
type Auth struct {
	mu   sync.RWMutex
	cfg  Config
	path string
	log  *zap.Logger
}

// Load reads the admin config from dataDir/config.d, generating one on first
// run. The server public key is refreshed on every start since the server
// keypair is ephemeral; the server id and admin key are stable.
func Load(dataDir, serverPublicKey string, log *zap.Logger) (*Auth, error) {
	path := filepath.Join(dataDir, "config.d", configFile)
	a := &Auth{path: path, log: log}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &a.cfg); err != nil {
			return nil, fmt.Errorf("parse admin config: %w", err)
		}
		a.cfg.ServerPublicKey = serverPublicKey
	case os.IsNotExist(err):
		a.cfg = generate(serverPublicKey)
		if err := a.save(); err != nil {
			log.Warn("persist admin config failed", zap.Error(err))
		}
		// Shown once; the key is not recoverable later.
		log.Warn("admin key generated, save it securely", zap.String("admin_key", a.cfg.AdminKey))
	default:
		return nil, fmt.Errorf("read admin config: %w", err)
	}

	return a, nil
}

func generate(serverPublicKey string) Config {
	raw := make([]byte, 32)
	rand.Read(raw) //nolint:errcheck

	id := serverPublicKey
	if len(id) > 16 {
		id = id[:16]
	}
	return Config{
		ServerID:        "srv_" + id,
		AdminKey:        "admin_" + base64.RawURLEncoding.EncodeToString(raw),
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		ServerPublicKey: serverPublicKey,
	}
}

func (a *Auth) save() error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0700); err != nil {
		return err
	}
	out, err := yaml.Marshal(a.cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(a.path, out, 0600)
}

// Verify reports whether key is the admin credential, in constant time.
func (a *Auth) Verify(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return subtle.ConstantTimeCompare([]byte(a.cfg.AdminKey), []byte(key)) == 1
}

// ServerID returns the stable server identifier.
func (a *Auth) ServerID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.ServerID
}

// ServerPublicKey returns the server's current public key hex.
func (a *Auth) ServerPublicKey() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.ServerPublicKey
}
