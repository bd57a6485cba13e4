package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pecha-tools/pecha-auth/internal/revocation"
	"github.com/pecha-tools/pecha-auth/internal/saml"
	"github.com/pecha-tools/pecha-auth/internal/sso"
	"github.com/pecha-tools/pecha-auth/internal/token"
	"github.com/pecha-tools/pecha-auth/internal/userstore"
)

func newTestServer(t *testing.T) (*httptest.Server, *token.Service, *userstore.Store) {
	t.Helper()

	cfg := &Config{
		Environment: "development",
		CORSOrigins: []string{"http://localhost:3000"},
		FrontendURL: "http://localhost:3000",
	}

	tokens := token.NewService("test-secret", time.Hour, revocation.NewMemoryRegistry())
	provider := sso.NewProvider("https://idp/sso", "https://idp/slo", "https://idp/token", time.Second)

	users, err := userstore.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = users.Close() })

	auth := sso.NewService(saml.NewParser(), tokens, provider, users, cfg.FrontendURL)

	server := httptest.NewServer(NewServer(cfg, auth, tokens, users).Router())
	t.Cleanup(server.Close)

	return server, tokens, users
}

func TestServer_Health(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
}

func TestServer_PublicAndPrivateRoutes(t *testing.T) {
	server, tokens, users := newTestServer(t)

	_, err := users.Provision(context.Background(), "user123", "user@example.org")
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/api/public")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/api/private")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	signed, _, err := tokens.Issue("user123", "user@example.org")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/api/private", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "user123", body["subject"])
}

func TestServer_UserEndpoints(t *testing.T) {
	server, tokens, users := newTestServer(t)

	created, err := users.Provision(context.Background(), "user123", "user@example.org")
	require.NoError(t, err)

	signed, _, err := tokens.Issue("user123", "user@example.org")
	require.NoError(t, err)

	get := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+signed)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := get("/api/user/me")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me userstore.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, created.ID, me.ID)
	assert.Equal(t, "user@example.org", me.Email)

	resp = get("/api/user/" + created.ID)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_UserLookupIsSelfOrAdmin(t *testing.T) {
	server, tokens, users := newTestServer(t)
	ctx := context.Background()

	alice, err := users.Provision(ctx, "alice", "alice@example.org")
	require.NoError(t, err)
	bob, err := users.Provision(ctx, "bob", "bob@example.org")
	require.NoError(t, err)

	get := func(subject, path string) int {
		signed, _, err := tokens.Issue(subject, "")
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+signed)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	// Regular users may read only their own record.
	assert.Equal(t, http.StatusOK, get("alice", "/api/user/"+alice.ID))
	assert.Equal(t, http.StatusForbidden, get("alice", "/api/user/"+bob.ID))
	assert.Equal(t, http.StatusForbidden, get("alice", "/api/user/does-not-exist"))

	// Admins may read anyone, and get a real 404 for missing IDs.
	require.NoError(t, users.SetAdmin(ctx, alice.ID, true))
	assert.Equal(t, http.StatusOK, get("alice", "/api/user/"+bob.ID))
	assert.Equal(t, http.StatusNotFound, get("alice", "/api/user/does-not-exist"))
}

func TestServer_MetricsExposed(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
