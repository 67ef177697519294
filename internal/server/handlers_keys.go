package server

import (
	"net/http"
	"time"

	"github.com/omnicore/omnid/internal/crypto"
	"github.com/omnicore/omnid/internal/errs"
)

type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

func (s *Server) handlePublicKey(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: s.keypair.PublicKeyHex()})
}

type keyExchangeRequest struct {
	ClientPublicKey string `json:"client_public_key"`
}

type keyExchangeResponse struct {
	SessionID       string `json:"session_id"`
	APIKey          string `json:"api_key"`
	ExpiresAt       string `json:"expires_at"`
	ServerPublicKey string `json:"server_public_key"`
}

// handleKeyExchange validates the client's public key, proves a shared
// secret can be derived, and issues a session bound to the handshake.
func (s *Server) handleKeyExchange(w http.ResponseWriter, r *http.Request) {
	var req keyExchangeRequest
	if !s.decode(w, r, &req) {
		return
	}
	clientPub, err := crypto.ParsePublicKey(req.ClientPublicKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.keypair.DeriveSharedSecret(clientPub); err != nil {
		s.writeError(w, err)
		return
	}
	sess := s.sessions.Create(s.cfg.Get().SessionTTL())
	s.writeJSON(w, http.StatusOK, keyExchangeResponse{
		SessionID:       sess.ID.String(),
		APIKey:          sess.APIKey,
		ExpiresAt:       sess.ExpiresAt.UTC().Format(time.RFC3339),
		ServerPublicKey: s.keypair.PublicKeyHex(),
	})
}

type sendEncryptedRequest struct {
	// ClientID selects a registered client's dedicated server keypair.
	// When empty, ClientPublicKey is paired with the ephemeral server key.
	ClientID        string          `json:"client_id,omitempty"`
	ClientPublicKey string          `json:"client_public_key,omitempty"`
	Payload         crypto.Envelope `json:"payload"`
}

type sendEncryptedResponse struct {
	Payload crypto.Envelope `json:"payload"`
}

// handleSendEncrypted decrypts a payload sealed against one of our public
// keys and echoes an encrypted acknowledgement under the same shared secret.
func (s *Server) handleSendEncrypted(w http.ResponseWriter, r *http.Request) {
	var req sendEncryptedRequest
	if !s.decode(w, r, &req) {
		return
	}

	var secret [crypto.KeySize]byte
	var err error
	if req.ClientID != "" {
		secret, err = s.keystore.DeriveSharedSecret(req.ClientID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.keystore.TouchClient(r.Context(), req.ClientID)
	} else {
		clientPub, perr := crypto.ParsePublicKey(req.ClientPublicKey)
		if perr != nil {
			s.writeError(w, perr)
			return
		}
		secret, err = s.keypair.DeriveSharedSecret(clientPub)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	plaintext, err := req.Payload.Open(secret)
	if err != nil {
		s.writeError(w, err)
		return
	}
	reply, err := crypto.Seal([]byte("Received: "+string(plaintext)), secret)
	if err != nil {
		s.writeError(w, errs.Wrap(errs.KindCrypto, "encrypt reply", err))
		return
	}
	s.writeJSON(w, http.StatusOK, sendEncryptedResponse{Payload: reply})
}
