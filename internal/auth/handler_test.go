package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdesk/docdesk/internal/auth"
	"github.com/docdesk/docdesk/internal/shared"
	_ "github.com/docdesk/docdesk/testing"
)

type harness struct {
	router   http.Handler
	sessions *shared.SessionManager
	redis    *miniredis.Miniredis
	service  *auth.Service
	// last holds the session of the most recent request, after commit.
	last *shared.Session
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h := &harness{
		sessions: shared.NewSessionManager(client, "test_session", time.Hour, false),
		redis:    mr,
		service:  auth.NewService(auth.NewMemoryRepository()),
	}
	handler := auth.NewHandler(nil, h.service, h.sessions, shared.NewCSRFManager("csrfsecret"))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := h.sessions.Load(r.Context(), r)
			require.NoError(t, err)
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
			require.NoError(t, h.sessions.Commit(r.Context(), w, sess))
			h.last = sess
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
		})
	})
	r.Route("/auth", handler.MountRoutes)
	h.router = r
	return h
}

func (h *harness) do(method, path, sessionID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: h.sessions.CookieName(), Value: sessionID})
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func TestLoginRenewsSessionAndSetsSubject(t *testing.T) {
	h := newHarness(t)
	_, created, err := h.service.EnsureUser(context.Background(), "Admin@Example.com", "correct-horse")
	require.NoError(t, err)
	require.True(t, created)

	rr := h.do(http.MethodGet, "/auth/csrf", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	anonymous := h.last.ID
	require.True(t, h.redis.Exists("session:"+anonymous), "token issuance persists the session")

	rr = h.do(http.MethodPost, "/auth/login", anonymous, `{"email":"admin@example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Subject   string `json:"subject"`
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "admin@example.com", resp.Subject)
	assert.NotEmpty(t, resp.CSRFToken)

	renewed := h.last.ID
	assert.NotEqual(t, anonymous, renewed)
	assert.False(t, h.redis.Exists("session:"+anonymous), "old id is dropped")
	assert.True(t, h.redis.Exists("session:"+renewed))

	rr = h.do(http.MethodGet, "/auth/session", renewed, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"subject":"admin@example.com"}`, rr.Body.String())

	rr = h.do(http.MethodPost, "/auth/logout", renewed, "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, h.redis.Exists("session:"+renewed))

	rr = h.do(http.MethodGet, "/auth/session", renewed, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.service.EnsureUser(context.Background(), "user@test.local", "correctpass")
	require.NoError(t, err)

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"wrong password", `{"email":"user@test.local","password":"wrongpass"}`, http.StatusUnauthorized},
		{"unknown user", `{"email":"ghost@test.local","password":"whatever1"}`, http.StatusUnauthorized},
		{"short password", `{"email":"user@test.local","password":"short"}`, http.StatusBadRequest},
		{"bad email", `{"email":"nope","password":"correctpass"}`, http.StatusBadRequest},
		{"malformed", `{"email":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := h.do(http.MethodPost, "/auth/login", "", tc.body)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Empty(t, h.last.User())
		})
	}
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	service := auth.NewService(auth.NewMemoryRepository())
	ctx := context.Background()

	first, created, err := service.EnsureUser(ctx, "ops@example.com", "password-1")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := service.EnsureUser(ctx, " OPS@example.com ", "password-2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, err = service.Authenticate(ctx, "ops@example.com", "password-2")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials, "existing password is kept")
}

func TestPruneSessions(t *testing.T) {
	repo := auth.NewMemoryRepository()
	service := auth.NewService(repo)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, service.RegisterSession(ctx, "old", 1, now.Add(-time.Minute), "", ""))
	require.NoError(t, service.RegisterSession(ctx, "live", 1, now.Add(time.Hour), "", ""))

	n, err := service.PruneSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = service.PruneSessions(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}
