package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/omnicore/omnid/internal/admin"
	"github.com/omnicore/omnid/internal/config"
	"github.com/omnicore/omnid/internal/crypto"
	"github.com/omnicore/omnid/internal/federation"
	"github.com/omnicore/omnid/internal/keystore"
	"github.com/omnicore/omnid/internal/session"
	"github.com/omnicore/omnid/internal/store"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	log := zaptest.NewLogger(t)

	cfgMgr, err := config.LoadManager(dir)
	require.NoError(t, err)

	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	adminAuth, err := admin.Load(dir, kp.PublicKeyHex(), log)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	ks, err := keystore.NewManager(st, log)
	require.NoError(t, err)

	reg, err := federation.NewRegistry(st, log)
	require.NoError(t, err)

	srv := New(cfgMgr, session.NewManager(), kp, ks, reg, adminAuth, log)

	// The admin key is only logged on generation; recover it from the
	// persisted identity file.
	raw, err := os.ReadFile(filepath.Join(dir, "config.d", "admin.yaml"))
	require.NoError(t, err)
	var adminCfg admin.Config
	require.NoError(t, yaml.Unmarshal(raw, &adminCfg))

	return srv, adminCfg.AdminKey
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Version)
}

func TestJoinVerifyLogout(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/auth/join", "", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	var joined joinResponse
	decodeBody(t, rec, &joined)
	assert.True(t, len(joined.APIKey) > 5 && joined.APIKey[:5] == "omni_")
	assert.NotEmpty(t, joined.SessionID)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/auth/verify", "", verifyRequest{APIKey: joined.APIKey})
	require.Equal(t, http.StatusOK, rec.Code)
	var verified verifyResponse
	decodeBody(t, rec, &verified)
	assert.True(t, verified.Valid)
	assert.Equal(t, joined.SessionID, verified.SessionID)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/auth/logout", "", logoutRequest{APIKey: joined.APIKey})
	require.Equal(t, http.StatusOK, rec.Code)
	var out logoutResponse
	decodeBody(t, rec, &out)
	assert.True(t, out.Success)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/auth/verify", "", verifyRequest{APIKey: joined.APIKey})
	decodeBody(t, rec, &verified)
	assert.False(t, verified.Valid)

	// Revoking twice is a negative result, not an error.
	rec = doRequest(t, h, http.MethodPost, "/api/v1/auth/logout", "", logoutRequest{APIKey: joined.APIKey})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &out)
	assert.False(t, out.Success)
}

func TestKeyExchange(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	client, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/keys/exchange", "",
		keyExchangeRequest{ClientPublicKey: client.PublicKeyHex()})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp keyExchangeResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, srv.keypair.PublicKeyHex(), resp.ServerPublicKey)
	assert.NotNil(t, srv.sessions.Validate(resp.APIKey))

	rec = doRequest(t, h, http.MethodPost, "/api/v1/keys/exchange", "",
		keyExchangeRequest{ClientPublicKey: "not-a-key"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendEncryptedRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	client, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	secret, err := client.DeriveSharedSecret(srv.keypair.PublicKey())
	require.NoError(t, err)

	payload, err := crypto.Seal([]byte("hello server"), secret)
	require.NoError(t, err)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/keys/send", "",
		sendEncryptedRequest{ClientPublicKey: client.PublicKeyHex(), Payload: payload})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sendEncryptedResponse
	decodeBody(t, rec, &resp)
	plain, err := resp.Payload.Open(secret)
	require.NoError(t, err)
	assert.Equal(t, "Received: hello server", string(plain))
}

func TestSendEncryptedForRegisteredClient(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	ctx := context.Background()

	keyEntry, err := srv.keystore.RegisterInit(ctx, "client-1")
	require.NoError(t, err)
	client, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString([]byte(client.PublicKeyHex()))
	_, err = srv.keystore.RegisterComplete(ctx, "client-1", encoded)
	require.NoError(t, err)

	serverPub, err := crypto.ParsePublicKey(keyEntry.PublicKey)
	require.NoError(t, err)
	secret, err := client.DeriveSharedSecret(serverPub)
	require.NoError(t, err)

	payload, err := crypto.Seal([]byte("hi"), secret)
	require.NoError(t, err)

	before := srv.keystore.GetClient("client-1").LastSeen
	rec := doRequest(t, h, http.MethodPost, "/api/v1/keys/send", "",
		sendEncryptedRequest{ClientID: "client-1", Payload: payload})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sendEncryptedResponse
	decodeBody(t, rec, &resp)
	plain, err := resp.Payload.Open(secret)
	require.NoError(t, err)
	assert.Equal(t, "Received: hi", string(plain))
	assert.False(t, srv.keystore.GetClient("client-1").LastSeen.Before(before))

	// Unknown client id.
	rec = doRequest(t, h, http.MethodPost, "/api/v1/keys/send", "",
		sendEncryptedRequest{ClientID: "ghost", Payload: payload})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendEncryptedRejectsTamperedPayload(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	client, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	secret, err := client.DeriveSharedSecret(srv.keypair.PublicKey())
	require.NoError(t, err)

	payload, err := crypto.Seal([]byte("hello"), secret)
	require.NoError(t, err)
	payload.Ciphertext = base64.StdEncoding.EncodeToString([]byte("garbage"))

	rec := doRequest(t, h, http.MethodPost, "/api/v1/keys/send", "",
		sendEncryptedRequest{ClientPublicKey: client.PublicKeyHex(), Payload: payload})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegistrationFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/register/init", "",
		registerInitRequest{ClientID: "client-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var initResp registerInitResponse
	decodeBody(t, rec, &initResp)
	assert.Len(t, initResp.ServerPublicKey, 64)

	client, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString([]byte(client.PublicKeyHex()))

	rec = doRequest(t, h, http.MethodPost, "/api/v1/register/complete", "",
		registerCompleteRequest{
			ClientID:                 "client-1",
			EncryptedClientPublicKey: crypto.Envelope{Ciphertext: encoded},
		})
	require.Equal(t, http.StatusOK, rec.Code)
	var completeResp registerCompleteResponse
	decodeBody(t, rec, &completeResp)
	assert.True(t, completeResp.Registered)
	assert.NotNil(t, srv.sessions.Validate(completeResp.APIKey))

	// A registered id cannot be re-initialized.
	rec = doRequest(t, h, http.MethodPost, "/api/v1/register/init", "",
		registerInitRequest{ClientID: "client-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/register/clients", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var clients listClientsResponse
	decodeBody(t, rec, &clients)
	require.Equal(t, 1, clients.Total)
	assert.Equal(t, "client-1", clients.Clients[0].ClientID)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/register/keys", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var keys listServerKeysResponse
	decodeBody(t, rec, &keys)
	require.Equal(t, 1, keys.Total)
	assert.Len(t, keys.Keys[0].PublicKey, 64)
}

func TestRegisterCompleteWithoutInit(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/v1/register/complete", "",
		registerCompleteRequest{
			ClientID:                 "ghost",
			EncryptedClientPublicKey: crypto.Envelope{Ciphertext: "aGV4"},
		})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncRequiresAuthenticatedPeer(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	ctx := context.Background()

	req := federation.SyncRequest{RequestingServerID: "srv_peer", RequestingServerKey: "ff"}

	// Unknown peer.
	rec := doRequest(t, h, http.MethodPost, "/api/v1/servers/sync", "", req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Known but not authenticated.
	peer := federation.NewServerEntry("srv_peer", "Peer", "http://peer.example", "ff")
	srv.registry.Register(ctx, peer)
	rec = doRequest(t, h, http.MethodPost, "/api/v1/servers/sync", "", req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	srv.registry.SetAuthenticated(ctx, "srv_peer", true)
	srv.registry.Register(ctx, federation.NewServerEntry("srv_other", "Other", "http://other.example", "ee"))

	rec = doRequest(t, h, http.MethodPost, "/api/v1/servers/sync", "", req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp federation.SyncResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.Total)

	got := srv.registry.Get("srv_peer")
	require.NotNil(t, got)
	assert.NotNil(t, got.LastSync)
}

func TestListPublicServersHidesPrivateEntries(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	srv.registry.Register(ctx, federation.NewServerEntry("srv_pub", "Pub", "http://pub.example", "aa"))
	private := federation.NewServerEntry("srv_priv", "Priv", "http://priv.example", "bb")
	private.IsPublic = false
	srv.registry.Register(ctx, private)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/servers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp listServersResponse
	decodeBody(t, rec, &resp)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "srv_pub", resp.Servers[0].ServerID)
}

func TestRegisterServerEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/api/v1/servers/register", "", registerServerRequest{
		ServerID:  "srv_new",
		Name:      "New Server",
		PublicURL: "http://new.example",
		PublicKey: "cc",
		IsPublic:  true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp registerServerResponse
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, srv.admin.ServerID(), resp.OurServerID)
	assert.Equal(t, srv.keypair.PublicKeyHex(), resp.OurPublicKey)

	got := srv.registry.Get("srv_new")
	require.NotNil(t, got)
	// Announcement never grants authentication.
	assert.False(t, got.IsAuthenticated)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/servers/register", "",
		registerServerRequest{ServerID: "srv_bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminLoginAndGatedRoutes(t *testing.T) {
	srv, adminKey := newTestServer(t)
	h := srv.Handler()

	// No credential.
	rec := doRequest(t, h, http.MethodGet, "/api/v1/admin/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong key.
	rec = doRequest(t, h, http.MethodPost, "/api/v1/admin/login", "",
		adminLoginRequest{AdminKey: "admin_wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/admin/login", "",
		adminLoginRequest{AdminKey: adminKey})
	require.Equal(t, http.StatusOK, rec.Code)
	var login adminLoginResponse
	decodeBody(t, rec, &login)
	assert.True(t, login.Authenticated)
	require.NotEmpty(t, login.APIKey)

	// Session key from admin login opens gated routes.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/admin/dashboard", login.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dash adminDashboardResponse
	decodeBody(t, rec, &dash)
	assert.Equal(t, srv.admin.ServerID(), dash.ServerID)

	// The raw admin credential works directly too.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/servers/all", adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A plain session key is not an admin session.
	plain := srv.sessions.Create(srv.cfg.Get().SessionTTL())
	rec = doRequest(t, h, http.MethodGet, "/api/v1/admin/dashboard", plain.APIKey, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, adminKey := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/v1/settings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/settings/server", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var serverSettings config.ServerSettings
	decodeBody(t, rec, &serverSettings)

	serverSettings.Name = "Renamed"
	rec = doRequest(t, h, http.MethodPut, "/api/v1/settings/server", adminKey, serverSettings)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/settings", adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all config.Config
	decodeBody(t, rec, &all)
	assert.Equal(t, "Renamed", all.Server.Name)
}

func TestServerInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/v1/server/info", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp serverInfoResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, srv.admin.ServerID(), resp.ServerID)
	assert.Equal(t, srv.keypair.PublicKeyHex(), resp.ServerPublicKey)
}
