package server

import (
	"net/http"

	"github.com/omnicore/omnid/internal/errs"
	"github.com/omnicore/omnid/internal/federation"
)

type listServersResponse struct {
	Servers []federation.PublicServerInfo `json:"servers"`
	Total   int                           `json:"total"`
}

// handleListPublicServers returns the share-safe projection of every public
// server in the registry.
func (s *Server) handleListPublicServers(w http.ResponseWriter, _ *http.Request) {
	entries := s.registry.ListPublic()
	out := make([]federation.PublicServerInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.PublicInfo())
	}
	s.writeJSON(w, http.StatusOK, listServersResponse{Servers: out, Total: len(out)})
}

type registerServerRequest struct {
	ServerID    string `json:"server_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PublicURL   string `json:"public_url"`
	PublicKey   string `json:"public_key"`
	IsPublic    bool   `json:"is_public"`
}

type registerServerResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	OurServerID  string `json:"our_server_id"`
	OurPublicKey string `json:"our_public_key"`
}

// handleRegisterServer records a peer that announces itself. The entry is
// never authenticated by this path; that requires local admin action.
func (s *Server) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	var req registerServerRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ServerID == "" || req.PublicURL == "" || req.PublicKey == "" {
		s.writeError(w, errs.New(errs.KindValidation, "server_id, public_url and public_key are required"))
		return
	}
	entry := federation.NewServerEntry(req.ServerID, req.Name, req.PublicURL, req.PublicKey)
	entry.Description = req.Description
	entry.IsPublic = req.IsPublic
	s.registry.Register(r.Context(), entry)

	s.writeJSON(w, http.StatusOK, registerServerResponse{
		Success:      true,
		Message:      "Server registered",
		OurServerID:  s.admin.ServerID(),
		OurPublicKey: s.keypair.PublicKeyHex(),
	})
}

// handleSyncServers answers a peer's sync pull. The requester must already
// be known and authenticated; anyone else gets a 401 and the sync response
// carries only public entries.
func (s *Server) handleSyncServers(w http.ResponseWriter, r *http.Request) {
	var req federation.SyncRequest
	if !s.decode(w, r, &req) {
		return
	}
	peer := s.registry.Get(req.RequestingServerID)
	if peer == nil || !peer.IsAuthenticated {
		s.writeError(w, errs.New(errs.KindUnauthorized, "unknown or unauthenticated server"))
		return
	}
	entries := s.registry.ListPublic()
	servers := make([]federation.PublicServerInfo, 0, len(entries))
	for _, e := range entries {
		servers = append(servers, e.PublicInfo())
	}
	s.registry.MarkSynced(r.Context(), peer.ServerID)
	s.writeJSON(w, http.StatusOK, federation.SyncResponse{Servers: servers, Total: len(servers)})
}

type serverStatsResponse struct {
	TotalServers         int `json:"total_servers"`
	PublicServers        int `json:"public_servers"`
	AuthenticatedServers int `json:"authenticated_servers"`
}

func (s *Server) handleServerStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, serverStatsResponse{
		TotalServers:         s.registry.Count(),
		PublicServers:        s.registry.CountPublic(),
		AuthenticatedServers: s.registry.CountAuthenticated(),
	})
}

type listAllServersResponse struct {
	Servers []federation.ServerEntry `json:"servers"`
	Total   int                      `json:"total"`
}

// handleListAllServers is the admin view: full entries, private ones
// included.
func (s *Server) handleListAllServers(w http.ResponseWriter, _ *http.Request) {
	entries := s.registry.ListAll()
	s.writeJSON(w, http.StatusOK, listAllServersResponse{Servers: entries, Total: len(entries)})
}
