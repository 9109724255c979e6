package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/docdesk/docdesk/internal/platform/httpx"
	"github.com/docdesk/docdesk/internal/shared"
)

// Middleware guards HTTP handlers with explicit permission checks.
type Middleware struct {
	Authorizer Authorizer
	Logger     *slog.Logger
}

// RequireAny ensures the current subject has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require any", RequireAny, perms)
}

// RequireAll ensures the current subject has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require all", RequireAll, perms)
}

type checkFunc func(ctx context.Context, authz Authorizer, subject string, permissions ...string) error

func (m Middleware) require(op string, check checkFunc, perms []string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			subject, ok := CurrentSubject(r)
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if err := check(r.Context(), m.Authorizer, subject, normalized...); err != nil {
				if errors.Is(err, ErrForbidden) {
					RespondError(w, err)
					return
				}
				m.logger().Error(op, slog.String("subject", subject), slog.Any("error", err))
				if errors.Is(err, ErrUnknownPermission) {
					// A route guarded by an unregistered permission is a wiring fault.
					httpx.RespondError(w, err)
					return
				}
				RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// CurrentSubject returns the subject bound to the request session.
func CurrentSubject(r *http.Request) (string, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return "", false
	}
	subject := strings.TrimSpace(sess.User())
	return subject, subject != ""
}

// RespondError writes the problem response for an RBAC error.
func RespondError(w http.ResponseWriter, err error) {
	httpx.RespondError(w, toHTTPError(err))
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	case errors.Is(err, ErrDuplicateIdentifier), errors.Is(err, ErrDuplicateName):
		return fmt.Errorf("%w: %w", httpx.ErrDuplicate, err)
	case errors.Is(err, ErrUnknownPermission), errors.Is(err, ErrUnknownRole):
		return fmt.Errorf("%w: %w", httpx.ErrUnprocessable, err)
	case errors.Is(err, ErrInvalidInput):
		return fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	case errors.Is(err, ErrForbidden):
		return fmt.Errorf("%w: %w", httpx.ErrForbidden, err)
	case errors.Is(err, ErrStorage):
		return fmt.Errorf("%w: %w", httpx.ErrUnavailable, err)
	default:
		return err
	}
}

func normalizePermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, p := range normalizeIDs(perms) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
