package server

import (
	"net/http"
	"time"

	"github.com/omnicore/omnid/internal/errs"
	"github.com/omnicore/omnid/internal/version"
)

type serverInfoResponse struct {
	ServerID        string `json:"server_id"`
	ServerName      string `json:"server_name"`
	ServerPublicKey string `json:"server_public_key"`
	Version         string `json:"version"`
}

func (s *Server) handleServerInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, serverInfoResponse{
		ServerID:        s.admin.ServerID(),
		ServerName:      s.cfg.GetServer().Name,
		ServerPublicKey: s.keypair.PublicKeyHex(),
		Version:         version.Version,
	})
}

type adminLoginRequest struct {
	AdminKey string `json:"admin_key"`
}

type adminLoginResponse struct {
	Authenticated bool   `json:"authenticated"`
	APIKey        string `json:"api_key"`
	ExpiresAt     string `json:"expires_at"`
	Message       string `json:"message"`
}

// handleAdminLogin exchanges the admin credential for a long-lived session.
// The issued key is remembered so admin-gated routes accept it later.
func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.admin.Verify(req.AdminKey) {
		s.writeError(w, errs.New(errs.KindUnauthorized, "invalid admin key"))
		return
	}
	sess := s.sessions.Create(s.cfg.Get().AdminSessionTTL())
	s.adminMu.Lock()
	s.adminKeys[sess.APIKey] = struct{}{}
	s.adminMu.Unlock()

	s.writeJSON(w, http.StatusOK, adminLoginResponse{
		Authenticated: true,
		APIKey:        sess.APIKey,
		ExpiresAt:     sess.ExpiresAt.UTC().Format(time.RFC3339),
		Message:       "Admin session created",
	})
}

type adminDashboardResponse struct {
	ServerID        string `json:"server_id"`
	ServerPublicKey string `json:"server_public_key"`
	TotalClients    int    `json:"total_clients"`
	TotalServerKeys int    `json:"total_server_keys"`
	ActiveSessions  int    `json:"active_sessions"`
	KnownServers    int    `json:"known_servers"`
}

func (s *Server) handleAdminDashboard(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, adminDashboardResponse{
		ServerID:        s.admin.ServerID(),
		ServerPublicKey: s.keypair.PublicKeyHex(),
		TotalClients:    len(s.keystore.ListClients()),
		TotalServerKeys: len(s.keystore.ListServerKeys()),
		ActiveSessions:  s.sessions.Count(),
		KnownServers:    s.registry.Count(),
	})
}
