// Package server exposes the HTTP API: session auth, key exchange, client
// registration, federation, admin and settings endpoints.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/omnicore/omnid/internal/admin"
	"github.com/omnicore/omnid/internal/config"
	"github.com/omnicore/omnid/internal/crypto"
	"github.com/omnicore/omnid/internal/errs"
	"github.com/omnicore/omnid/internal/federation"
	"github.com/omnicore/omnid/internal/keystore"
	"github.com/omnicore/omnid/internal/session"
	"github.com/omnicore/omnid/internal/version"
)

// Server bundles the shared service objects behind the HTTP handlers. It is
// constructed once at startup; tests build isolated instances per case.
type Server struct {
	cfg      *config.Manager
	sessions *session.Manager
	keypair  *crypto.Keypair
	keystore *keystore.Manager
	registry *federation.Registry
	admin    *admin.Auth
	log      *zap.Logger

	// adminKeys tracks session keys issued through admin login, since
	// admin sessions are ordinary sessions with a longer TTL.
	adminMu   sync.Mutex
	adminKeys map[string]struct{}
}

// New wires a server from its collaborators.
func New(cfg *config.Manager, sessions *session.Manager, keypair *crypto.Keypair,
	ks *keystore.Manager, registry *federation.Registry, adminAuth *admin.Auth, log *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		keypair:   keypair,
		keystore:  ks,
		registry:  registry,
		admin:     adminAuth,
		log:       log,
		adminKeys: make(map[string]struct{}),
	}
}

// Handler returns the full HTTP handler: routes under /api/v1 wrapped in
// CORS, panic recovery and request logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/server/info", s.handleServerInfo).Methods(http.MethodGet)

	api.HandleFunc("/admin/login", s.handleAdminLogin).Methods(http.MethodPost)
	api.HandleFunc("/admin/dashboard", s.requireAdmin(s.handleAdminDashboard)).Methods(http.MethodGet)

	api.HandleFunc("/auth/join", s.handleJoin).Methods(http.MethodPost)
	api.HandleFunc("/auth/verify", s.handleVerify).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)

	api.HandleFunc("/keys/public", s.handlePublicKey).Methods(http.MethodGet)
	api.HandleFunc("/keys/exchange", s.handleKeyExchange).Methods(http.MethodPost)
	api.HandleFunc("/keys/send", s.handleSendEncrypted).Methods(http.MethodPost)

	api.HandleFunc("/register/init", s.handleRegisterInit).Methods(http.MethodPost)
	api.HandleFunc("/register/complete", s.handleRegisterComplete).Methods(http.MethodPost)
	api.HandleFunc("/register/clients", s.handleListClients).Methods(http.MethodGet)
	api.HandleFunc("/register/keys", s.handleListServerKeys).Methods(http.MethodGet)

	api.HandleFunc("/servers", s.handleListPublicServers).Methods(http.MethodGet)
	api.HandleFunc("/servers/register", s.handleRegisterServer).Methods(http.MethodPost)
	api.HandleFunc("/servers/sync", s.handleSyncServers).Methods(http.MethodPost)
	api.HandleFunc("/servers/stats", s.handleServerStats).Methods(http.MethodGet)
	api.HandleFunc("/servers/all", s.requireAdmin(s.handleListAllServers)).Methods(http.MethodGet)

	s.settingsRoutes(api)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return handlers.RecoveryHandler()(cors(s.logRequests(r)))
}

// logRequests logs every request with its status and duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// requireAdmin guards handlers behind the admin credential or an admin
// session key. The key can be provided via Authorization header or "token"
// query parameter.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := extractKey(r)
		if key == "" {
			s.writeError(w, errs.New(errs.KindUnauthorized, "authentication required"))
			return
		}
		if s.admin.Verify(key) {
			next(w, r)
			return
		}
		if s.isAdminSession(key) {
			next(w, r)
			return
		}
		s.writeError(w, errs.New(errs.KindUnauthorized, "invalid admin credential"))
	}
}

func (s *Server) isAdminSession(key string) bool {
	s.adminMu.Lock()
	_, issued := s.adminKeys[key]
	s.adminMu.Unlock()
	if !issued {
		return false
	}
	if s.sessions.Validate(key) == nil {
		// Session expired or revoked; drop the stale admin mark.
		s.adminMu.Lock()
		delete(s.adminKeys, key)
		s.adminMu.Unlock()
		return false
	}
	return true
}

// extractKey gets the bearer credential from the request, checking the
// Authorization header first, then the "token" query parameter.
func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return r.URL.Query().Get("token")
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response failed", zap.Error(err))
	}
}

// writeError converts a tagged error to its transport representation.
// Untagged errors and persistence failures surface as a generic 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	if kind, ok := errs.KindOf(err); ok {
		switch kind {
		case errs.KindValidation, errs.KindCrypto:
			status, msg = http.StatusBadRequest, err.Error()
		case errs.KindConflict:
			status, msg = http.StatusConflict, err.Error()
		case errs.KindNotFound:
			status, msg = http.StatusNotFound, err.Error()
		case errs.KindUnauthorized:
			status, msg = http.StatusUnauthorized, err.Error()
		}
	}
	if status == http.StatusInternalServerError {
		s.log.Error("internal error", zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, errs.Wrap(errs.KindValidation, "invalid request body", err))
		return false
	}
	return true
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
