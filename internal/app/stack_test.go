package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdesk/docdesk/internal/shared"
	"github.com/docdesk/docdesk/jobs"
)

func memoryConfig(t *testing.T) *Config {
	t.Helper()
	mr := miniredis.RunT(t)
	return &Config{
		AppEnv:            "development",
		AppRequestTimeout: 5 * time.Second,
		AppRateLimit:      1000,
		LogLevel:          "error",
		RedisAddr:         mr.Addr(),
		SessionCookie:     "docdesk_session",
		SessionTTL:        time.Hour,
		CSRFSecret:        "0123456789abcdef",
		RBACBackend:       BackendMemory,
		RBACCacheSize:     128,
		RBACCacheShared:   true,
		RBACGenerationKey: "rbac:generation",
		AuthAdminEmail:    "Admin@Example.com",
		AuthAdminPassword: "correct-horse",
	}
}

type client struct {
	t    *testing.T
	http *http.Client
	base string
	csrf string
}

func (c *client) do(method, path string, body any) (*http.Response, []byte) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrf != "" {
		req.Header.Set(shared.CSRFHeader, c.csrf)
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, data
}

func newServer(t *testing.T, cfg *Config) (*Stack, *client) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stack, err := NewStack(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(stack.Close)

	require.True(t, stack.ShouldBootstrap())
	_, err = stack.Bootstrap(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(stack.Router(jobs.NewHandler(nil, logger)))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return stack, &client{t: t, http: &http.Client{Jar: jar}, base: srv.URL}
}

func (c *client) login(email, password string) {
	c.t.Helper()
	resp, data := c.do(http.MethodGet, "/auth/csrf", nil)
	require.Equal(c.t, http.StatusOK, resp.StatusCode, string(data))
	var issued struct {
		Token string `json:"csrf_token"`
	}
	require.NoError(c.t, json.Unmarshal(data, &issued))
	c.csrf = issued.Token

	resp, data = c.do(http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password})
	require.Equal(c.t, http.StatusOK, resp.StatusCode, string(data))
	var session struct {
		Subject string `json:"subject"`
		Token   string `json:"csrf_token"`
	}
	require.NoError(c.t, json.Unmarshal(data, &session))
	require.NotEmpty(c.t, session.Token)
	c.csrf = session.Token
}

func TestStackEndToEnd(t *testing.T) {
	_, c := newServer(t, memoryConfig(t))

	resp, _ := c.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.do(http.MethodGet, "/suppliers", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = c.do(http.MethodPost, "/auth/login", map[string]string{"email": "admin@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "login needs a csrf token")

	c.login("admin@example.com", "correct-horse")

	resp, data := c.do(http.MethodGet, "/auth/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"subject":"admin@example.com"}`, string(data))

	resp, data = c.do(http.MethodPost, "/suppliers", map[string]string{"code": "sup-1", "name": "Acme"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	resp, data = c.do(http.MethodGet, "/rbac/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		Roles     []string `json:"roles"`
		Effective []string `json:"effective"`
	}
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, []string{"admin"}, me.Roles)
	assert.ElementsMatch(t, shared.AllScopes(), me.Effective)

	resp, data = c.do(http.MethodGet, "/audit/?entity=supplier", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var timeline struct {
		Entries []struct {
			Actor  string `json:"actor"`
			Action string `json:"action"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &timeline))
	require.Len(t, timeline.Entries, 1)
	assert.Equal(t, "admin@example.com", timeline.Entries[0].Actor)
	assert.Equal(t, "supplier.create", timeline.Entries[0].Action)

	resp, data = c.do(http.MethodGet, "/jobs/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0,"archived":0}`, string(data))

	resp, _ = c.do(http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = c.do(http.MethodGet, "/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStackRoleChangeTakesEffect(t *testing.T) {
	stack, admin := newServer(t, memoryConfig(t))
	ctx := context.Background()
	_, _, err := stack.Auth.EnsureUser(ctx, "clerk@example.com", "clerk-password")
	require.NoError(t, err)

	admin.login("admin@example.com", "correct-horse")

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	clerk := &client{t: t, http: &http.Client{Jar: jar}, base: admin.base}
	clerk.login("clerk@example.com", "clerk-password")

	resp, _ := clerk.do(http.MethodGet, "/suppliers", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, data := admin.do(http.MethodPut, "/rbac/subjects/clerk@example.com/roles/viewer", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, string(data))

	resp, _ = clerk.do(http.MethodGet, "/suppliers", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = clerk.do(http.MethodPost, "/suppliers", map[string]string{"code": "sup-2", "name": "Beta"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = admin.do(http.MethodDelete, "/rbac/subjects/clerk@example.com/roles/viewer", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = clerk.do(http.MethodGet, "/suppliers", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUnknownBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.RBACBackend = "sqlite"
	_, err := NewStack(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
