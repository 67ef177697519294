package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/omnicore/omnid/internal/config"
)

// settingsRoutes registers the settings endpoints. All of them are
// admin-gated since they read and write the on-disk configuration.
func (s *Server) settingsRoutes(api *mux.Router) {
	api.HandleFunc("/settings", s.requireAdmin(s.handleGetSettings)).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.requireAdmin(s.handleUpdateSettings)).Methods(http.MethodPut)
	api.HandleFunc("/settings/server", s.requireAdmin(s.handleGetServerSettings)).Methods(http.MethodGet)
	api.HandleFunc("/settings/server", s.requireAdmin(s.handleUpdateServerSettings)).Methods(http.MethodPut)
	api.HandleFunc("/settings/network", s.requireAdmin(s.handleGetNetworkSettings)).Methods(http.MethodGet)
	api.HandleFunc("/settings/network", s.requireAdmin(s.handleUpdateNetworkSettings)).Methods(http.MethodPut)
	api.HandleFunc("/settings/auth", s.requireAdmin(s.handleGetAuthSettings)).Methods(http.MethodGet)
	api.HandleFunc("/settings/auth", s.requireAdmin(s.handleUpdateAuthSettings)).Methods(http.MethodPut)
	api.HandleFunc("/settings/federation", s.requireAdmin(s.handleGetFederationSettings)).Methods(http.MethodGet)
	api.HandleFunc("/settings/federation", s.requireAdmin(s.handleUpdateFederationSettings)).Methods(http.MethodPut)
}

type settingsSavedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) writeSaved(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settingsSavedResponse{Success: true, Message: "Settings saved"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.Get())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if !s.decode(w, r, &cfg) {
		return
	}
	s.writeSaved(w, s.cfg.Update(cfg))
}

func (s *Server) handleGetServerSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.GetServer())
}

func (s *Server) handleUpdateServerSettings(w http.ResponseWriter, r *http.Request) {
	var in config.ServerSettings
	if !s.decode(w, r, &in) {
		return
	}
	s.writeSaved(w, s.cfg.UpdateServer(in))
}

func (s *Server) handleGetNetworkSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.GetNetwork())
}

func (s *Server) handleUpdateNetworkSettings(w http.ResponseWriter, r *http.Request) {
	var in config.NetworkSettings
	if !s.decode(w, r, &in) {
		return
	}
	s.writeSaved(w, s.cfg.UpdateNetwork(in))
}

func (s *Server) handleGetAuthSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.GetAuth())
}

func (s *Server) handleUpdateAuthSettings(w http.ResponseWriter, r *http.Request) {
	var in config.AuthSettings
	if !s.decode(w, r, &in) {
		return
	}
	s.writeSaved(w, s.cfg.UpdateAuth(in))
}

func (s *Server) handleGetFederationSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.GetFederation())
}

func (s *Server) handleUpdateFederationSettings(w http.ResponseWriter, r *http.Request) {
	var in config.FederationSettings
	if !s.decode(w, r, &in) {
		return
	}
	s.writeSaved(w, s.cfg.UpdateFederation(in))
}
