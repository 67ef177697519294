package server

import (
	"net/http"
	"time"

	"github.com/omnicore/omnid/internal/crypto"
	"github.com/omnicore/omnid/internal/errs"
)

type registerInitRequest struct {
	ClientID string `json:"client_id"`
}

type registerInitResponse struct {
	ClientID        string `json:"client_id"`
	ServerPublicKey string `json:"server_public_key"`
	Message         string `json:"message"`
}

// handleRegisterInit starts the registration handshake: a per-client
// keypair is issued and its public half handed to the client.
func (s *Server) handleRegisterInit(w http.ResponseWriter, r *http.Request) {
	var req registerInitRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		s.writeError(w, errs.New(errs.KindValidation, "client_id is required"))
		return
	}
	entry, err := s.keystore.RegisterInit(r.Context(), req.ClientID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, registerInitResponse{
		ClientID:        entry.ClientID,
		ServerPublicKey: entry.PublicKey,
		Message:         "Encrypt your public key with the server public key and call /register/complete",
	})
}

type registerCompleteRequest struct {
	ClientID                 string          `json:"client_id"`
	EncryptedClientPublicKey crypto.Envelope `json:"encrypted_client_public_key"`
}

type registerCompleteResponse struct {
	ClientID   string `json:"client_id"`
	Registered bool   `json:"registered"`
	APIKey     string `json:"api_key"`
	ExpiresAt  string `json:"expires_at"`
	Message    string `json:"message"`
}

// handleRegisterComplete finishes the handshake, stores the client's public
// key and issues a session for the registered client.
func (s *Server) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	var req registerCompleteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		s.writeError(w, errs.New(errs.KindValidation, "client_id is required"))
		return
	}
	entry, err := s.keystore.RegisterComplete(r.Context(), req.ClientID, req.EncryptedClientPublicKey.Ciphertext)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess := s.sessions.Create(s.cfg.Get().SessionTTL())
	s.writeJSON(w, http.StatusOK, registerCompleteResponse{
		ClientID:   entry.ClientID,
		Registered: true,
		APIKey:     sess.APIKey,
		ExpiresAt:  sess.ExpiresAt.UTC().Format(time.RFC3339),
		Message:    "Registration complete",
	})
}

type clientInfo struct {
	ClientID     string    `json:"client_id"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

type listClientsResponse struct {
	Clients []clientInfo `json:"clients"`
	Total   int          `json:"total"`
}

func (s *Server) handleListClients(w http.ResponseWriter, _ *http.Request) {
	clients := s.keystore.ListClients()
	out := make([]clientInfo, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientInfo{
			ClientID:     c.ClientID,
			RegisteredAt: c.RegisteredAt,
			LastSeen:     c.LastSeen,
		})
	}
	s.writeJSON(w, http.StatusOK, listClientsResponse{Clients: out, Total: len(out)})
}

type listServerKeysResponse struct {
	Keys  []keystoreKeyInfo `json:"keys"`
	Total int               `json:"total"`
}

type keystoreKeyInfo struct {
	ClientID  string `json:"client_id"`
	PublicKey string `json:"public_key"`
}

// handleListServerKeys lists the per-client server keypairs by client id
// and public half only. Secret keys never leave the keystore.
func (s *Server) handleListServerKeys(w http.ResponseWriter, _ *http.Request) {
	keys := s.keystore.ListServerKeys()
	out := make([]keystoreKeyInfo, 0, len(keys))
	for _, k := range keys {
		out = append(out, keystoreKeyInfo{ClientID: k.ClientID, PublicKey: k.PublicKey})
	}
	s.writeJSON(w, http.StatusOK, listServerKeysResponse{Keys: out, Total: len(out)})
}
