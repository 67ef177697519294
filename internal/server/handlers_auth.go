package server

import (
	"net/http"
	"time"

	"github.com/omnicore/omnid/internal/errs"
)

type joinResponse struct {
	SessionID string `json:"session_id"`
	APIKey    string `json:"api_key"`
	ExpiresAt string `json:"expires_at"`
}

// handleJoin creates an anonymous session and returns its API key.
func (s *Server) handleJoin(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create(s.cfg.Get().SessionTTL())
	s.writeJSON(w, http.StatusOK, joinResponse{
		SessionID: sess.ID.String(),
		APIKey:    sess.APIKey,
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type verifyRequest struct {
	APIKey string `json:"api_key"`
}

type verifyResponse struct {
	Valid     bool   `json:"valid"`
	SessionID string `json:"session_id,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// handleVerify checks an API key and reports whether its session is live.
// Invalid keys are a negative result, not an error.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess := s.sessions.Validate(req.APIKey)
	if sess == nil {
		s.writeJSON(w, http.StatusOK, verifyResponse{Valid: false})
		return
	}
	s.writeJSON(w, http.StatusOK, verifyResponse{
		Valid:     true,
		SessionID: sess.ID.String(),
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type logoutRequest struct {
	APIKey string `json:"api_key"`
}

type logoutResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.APIKey == "" {
		s.writeError(w, errs.New(errs.KindValidation, "api_key is required"))
		return
	}
	revoked := s.sessions.Revoke(req.APIKey)
	if revoked {
		s.adminMu.Lock()
		delete(s.adminKeys, req.APIKey)
		s.adminMu.Unlock()
	}
	s.writeJSON(w, http.StatusOK, logoutResponse{Success: revoked})
}
