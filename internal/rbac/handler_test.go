package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdesk/docdesk/internal/platform/httpx"
	"github.com/docdesk/docdesk/internal/shared"
)

const testSubjectHeader = "X-Test-Subject"

func withTestSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subject := r.Header.Get(testSubjectHeader); subject != "" {
			sess := &shared.Session{ID: "test"}
			sess.SetUser(subject)
			r = r.WithContext(shared.ContextWithSession(r.Context(), sess))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestRouter(t *testing.T) (http.Handler, adminFixture) {
	t.Helper()
	f := newAdminFixture(t)
	r := chi.NewRouter()
	r.Use(withTestSession)
	r.Route("/rbac", NewHandler(nil, f.admin).MountRoutes)
	return r, f
}

func doRequest(t *testing.T, h http.Handler, method, path, subject, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if subject != "" {
		req.Header.Set(testSubjectHeader, subject)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerRoleLifecycle(t *testing.T) {
	router, f := newTestRouter(t)

	rr := doRequest(t, router, http.MethodPost, "/rbac/roles", "root",
		`{"name":"clerk","description":"Front desk","permissions":["doc.read","files.view"]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "/rbac/roles/clerk", rr.Header().Get("Location"))

	var role Role
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &role))
	assert.Equal(t, []string{"doc.read", "files.view"}, role.Permissions)

	rr = doRequest(t, router, http.MethodPut, "/rbac/subjects/u7/roles/clerk", "root", "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, router, http.MethodPut, "/rbac/roles/clerk/permissions", "root", `{"permissions":["doc.write"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doRequest(t, router, http.MethodPatch, "/rbac/roles/clerk", "root", `{"description":"Front office"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &role))
	assert.Equal(t, "Front office", role.Description)
	assert.Equal(t, []string{"doc.write"}, role.Permissions)

	allowed, err := f.engine.IsAllowed(context.Background(), "u7", "doc.write")
	require.NoError(t, err)
	assert.True(t, allowed)

	rr = doRequest(t, router, http.MethodGet, "/rbac/roles/clerk/subjects", "root", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"role":"clerk","subjects":["u7"]}`, rr.Body.String())

	rr = doRequest(t, router, http.MethodDelete, "/rbac/roles/clerk", "root", "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/rbac/subjects/u7", "root", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var access SubjectAccess
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &access))
	assert.Empty(t, access.Roles)
	assert.Empty(t, access.Effective)
}

func TestHandlerErrorMapping(t *testing.T) {
	router, f := newTestRouter(t)
	require.NoError(t, f.repo.AssignRole(context.Background(), "reader", RoleViewer))

	cases := []struct {
		name    string
		method  string
		path    string
		subject string
		body    string
		status  int
	}{
		{"no session", http.MethodGet, "/rbac/roles", "", "", http.StatusUnauthorized},
		{"forbidden mutation", http.MethodPost, "/rbac/roles", "reader", `{"name":"x"}`, http.StatusForbidden},
		{"missing role", http.MethodGet, "/rbac/roles/ghost", "root", "", http.StatusNotFound},
		{"duplicate role", http.MethodPost, "/rbac/roles", "root", `{"name":"admin"}`, http.StatusConflict},
		{"duplicate permission", http.MethodPost, "/rbac/permissions", "root", `{"id":"doc.read"}`, http.StatusConflict},
		{"unknown permission", http.MethodPost, "/rbac/roles", "root", `{"name":"x","permissions":["nope.nope"]}`, http.StatusUnprocessableEntity},
		{"unknown role", http.MethodPut, "/rbac/subjects/u1/roles/ghost", "root", "", http.StatusUnprocessableEntity},
		{"revoke unknown role", http.MethodDelete, "/rbac/subjects/u1/roles/ghost", "root", "", http.StatusUnprocessableEntity},
		{"revoke unknown permission", http.MethodDelete, "/rbac/subjects/u1/permissions/nope.nope", "root", "", http.StatusUnprocessableEntity},
		{"invalid id", http.MethodPost, "/rbac/permissions", "root", `{"id":"NoDots"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/rbac/permissions", "root", `{"ident":"a.b"}`, http.StatusBadRequest},
		{"missing permissions field", http.MethodPut, "/rbac/roles/viewer/permissions", "root", `{}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(t, router, tc.method, tc.path, tc.subject, tc.body)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
		})
	}
}

func TestHandlerPermissionEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doRequest(t, router, http.MethodPost, "/rbac/permissions", "root", `{"id":"doc.archive"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = doRequest(t, router, http.MethodPatch, "/rbac/permissions/doc.archive", "root", `{"label":"Archive"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doRequest(t, router, http.MethodGet, "/rbac/permissions/doc.archive", "root", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var perm Permission
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &perm))
	assert.Equal(t, "Archive", perm.Label)

	rr = doRequest(t, router, http.MethodGet, "/rbac/permissions", "root", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var perms []Permission
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &perms))
	assert.Len(t, perms, len(shared.AllScopes())+1)

	rr = doRequest(t, router, http.MethodDelete, "/rbac/permissions/doc.archive", "root", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = doRequest(t, router, http.MethodDelete, "/rbac/permissions/doc.archive", "root", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerDirectGrantAndMe(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doRequest(t, router, http.MethodPut, "/rbac/subjects/u2/permissions/doc.write", "root", "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/rbac/me", "u2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"subject":"u2","roles":[],"direct_permissions":["doc.write"],"effective":["doc.write"]}`, rr.Body.String())

	rr = doRequest(t, router, http.MethodDelete, "/rbac/subjects/u2/permissions/doc.write", "root", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = doRequest(t, router, http.MethodDelete, "/rbac/subjects/u2/permissions/doc.write", "root", "")
	require.Equal(t, http.StatusNoContent, rr.Code, "revoke is idempotent")
}

type failingAuthorizer struct{}

func (failingAuthorizer) IsAllowed(context.Context, string, string) (bool, error) {
	return false, storageError(errors.New("connection reset"))
}

func (f failingAuthorizer) RequirePermission(ctx context.Context, subject, permission string) error {
	_, err := f.IsAllowed(ctx, subject, permission)
	return err
}

func (failingAuthorizer) EffectivePermissions(context.Context, string) ([]string, error) {
	return nil, storageError(errors.New("connection reset"))
}

func TestMiddlewareGuards(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.AssignRole(ctx, "reader", RoleViewer))

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mw := Middleware{Authorizer: f.engine}

	r := chi.NewRouter()
	r.Use(withTestSession)
	r.With(mw.RequireAny(shared.PermSupplierEdit, shared.PermSupplierView)).Get("/any", ok)
	r.With(mw.RequireAll(shared.PermSupplierEdit, shared.PermSupplierView)).Get("/all", ok)
	r.With(mw.RequireAny("bogus.permission")).Get("/misconfigured", ok)
	r.With(Middleware{Authorizer: failingAuthorizer{}}.RequireAny(shared.PermSupplierView)).Get("/down", ok)

	assert.Equal(t, http.StatusOK, doRequest(t, r, http.MethodGet, "/any", "reader", "").Code)
	assert.Equal(t, http.StatusForbidden, doRequest(t, r, http.MethodGet, "/all", "reader", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(t, r, http.MethodGet, "/all", "root", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(t, r, http.MethodGet, "/any", "", "").Code)
	assert.Equal(t, http.StatusInternalServerError, doRequest(t, r, http.MethodGet, "/misconfigured", "root", "").Code)

	rr := doRequest(t, r, http.MethodGet, "/down", "root", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, httpx.RetryAfterSeconds, rr.Header().Get("Retry-After"))
}
