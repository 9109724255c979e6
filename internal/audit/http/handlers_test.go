package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdesk/docdesk/internal/audit"
	"github.com/docdesk/docdesk/internal/rbac"
	"github.com/docdesk/docdesk/internal/shared"
)

const subjectHeader = "X-Test-Subject"

func withSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subject := r.Header.Get(subjectHeader); subject != "" {
			sess := &shared.Session{ID: "test"}
			sess.SetUser(subject)
			r = r.WithContext(shared.ContextWithSession(r.Context(), sess))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestRouter(t *testing.T, now time.Time) (http.Handler, *audit.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	repo := rbac.NewMemoryRepository()
	_, err := rbac.Bootstrap(ctx, repo, rbac.DefaultSeed("root"))
	require.NoError(t, err)
	require.NoError(t, repo.AssignRole(ctx, "reader", rbac.RoleViewer))

	store := audit.NewMemoryStore(nil)
	h := NewHandler(nil, audit.NewService(store), rbac.Middleware{Authorizer: rbac.NewEngine(repo, nil)})
	h.now = func() time.Time { return now }

	r := chi.NewRouter()
	r.Use(withSubject)
	r.Route("/audit", h.MountRoutes)
	return r, store
}

func get(h http.Handler, path, subject string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if subject != "" {
		req.Header.Set(subjectHeader, subject)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestTimelineDefaultsToLastWeek(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
	router, store := newTestRouter(t, now)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, shared.AuditLog{ActorID: "root", Action: "role.create", Entity: "role", EntityID: "old", At: now.AddDate(0, 0, -30)}))
	require.NoError(t, store.Record(ctx, shared.AuditLog{ActorID: "root", Action: "role.create", Entity: "role", EntityID: "clerk", At: now.Add(-time.Hour)}))

	rr := get(router, "/audit/", "root")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var result audit.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "clerk", result.Entries[0].EntityID)
	assert.Equal(t, 1, result.Paging.Page)

	rr = get(router, "/audit/?from=2024-04-01&to=2024-05-10&entity=role", "root")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Len(t, result.Entries, 2)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router, _ := newTestRouter(t, time.Now())
	for _, q := range []string{"from=yesterday", "from=2024-05-10&to=2024-05-01", "from=2023-01-01&to=2024-05-01", "page=0", "page_size=x", "page=1000001", "page=9223372036854775807", "page=99999999999999999999"} {
		rr := get(router, "/audit/?"+q, "root")
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestTimelineGuarded(t *testing.T) {
	router, _ := newTestRouter(t, time.Now())
	assert.Equal(t, http.StatusUnauthorized, get(router, "/audit/", "").Code)
	assert.Equal(t, http.StatusForbidden, get(router, "/audit/", "reader").Code)
	assert.Equal(t, http.StatusForbidden, get(router, "/audit/export.csv", "reader").Code)
}

func TestExportCSVRateLimited(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)
	router, store := newTestRouter(t, now)
	require.NoError(t, store.Record(context.Background(), shared.AuditLog{ActorID: "root", Action: "supplier.create", Entity: "supplier", EntityID: "1", At: now}))

	rr := get(router, "/audit/export.csv", "root")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-05-10T15:00:00Z,root,supplier.create,supplier,1,", lines[1])

	for i := 1; i < rateLimit; i++ {
		require.Equal(t, http.StatusOK, get(router, "/audit/export.csv", "root").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/audit/export.csv", "root").Code)
}
