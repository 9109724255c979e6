package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docdesk/docdesk/internal/platform/httpx"
)

// Handler exposes the Admin API as JSON endpoints. Authorization is enforced
// by Admin itself against the session subject.
type Handler struct {
	logger *slog.Logger
	admin  *Admin
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, admin *Admin) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, admin: admin}
}

// MountRoutes registers RBAC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)

	r.Route("/permissions", func(r chi.Router) {
		r.Get("/", h.listPermissions)
		r.Post("/", h.registerPermission)
		r.Get("/{id}", h.getPermission)
		r.Patch("/{id}", h.relabelPermission)
		r.Delete("/{id}", h.retirePermission)
	})

	r.Route("/roles", func(r chi.Router) {
		r.Get("/", h.listRoles)
		r.Post("/", h.createRole)
		r.Get("/{name}", h.getRole)
		r.Patch("/{name}", h.describeRole)
		r.Delete("/{name}", h.deleteRole)
		r.Put("/{name}/permissions", h.replaceRolePermissions)
		r.Get("/{name}/subjects", h.roleSubjects)
	})

	r.Route("/subjects/{subject}", func(r chi.Router) {
		r.Get("/", h.subjectAccess)
		r.Put("/roles/{role}", h.assignRole)
		r.Delete("/roles/{role}", h.revokeRole)
		r.Put("/permissions/{permission}", h.grantPermission)
		r.Delete("/permissions/{permission}", h.revokePermission)
	})
}

type permissionRequest struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type describeRequest struct {
	Description string `json:"description"`
}

type replacePermissionsRequest struct {
	Permissions *[]string `json:"permissions"`
}

type roleSubjectsResponse struct {
	Role     string   `json:"role"`
	Subjects []string `json:"subjects"`
}

// actor resolves the session subject or writes 401.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	subject, ok := CurrentSubject(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
	}
	return subject, ok
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !isDomainError(err) || errors.Is(err, ErrStorage) {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	RespondError(w, err)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	access, err := h.admin.Access(r.Context(), actor, actor)
	if err != nil {
		h.fail(w, r, "rbac me", err)
		return
	}
	httpx.JSON(w, http.StatusOK, access)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	perms, err := Collect(h.admin.Permissions(r.Context(), actor))
	if err != nil {
		h.fail(w, r, "rbac list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) registerPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.admin.RegisterPermission(r.Context(), actor, req.ID, req.Label)
	if err != nil {
		h.fail(w, r, "rbac register permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) getPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	perm, err := h.admin.GetPermission(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "rbac get permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) relabelPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req permissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.admin.RelabelPermission(r.Context(), actor, chi.URLParam(r, "id"), req.Label)
	if err != nil {
		h.fail(w, r, "rbac relabel permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) retirePermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.admin.RetirePermission(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "rbac retire permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	roles, err := Collect(h.admin.Roles(r.Context(), actor))
	if err != nil {
		h.fail(w, r, "rbac list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.admin.CreateRole(r.Context(), actor, req.Name, req.Description, req.Permissions)
	if err != nil {
		h.fail(w, r, "rbac create role", err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/rbac/roles/%s", role.Name))
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	role, err := h.admin.GetRole(r.Context(), actor, chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, "rbac get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) describeRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req describeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.admin.UpdateRoleDescription(r.Context(), actor, chi.URLParam(r, "name"), req.Description)
	if err != nil {
		h.fail(w, r, "rbac describe role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.admin.DeleteRole(r.Context(), actor, chi.URLParam(r, "name")); err != nil {
		h.fail(w, r, "rbac delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req replacePermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Permissions == nil {
		httpx.RespondError(w, fmt.Errorf("%w: permissions is required", httpx.ErrValidation))
		return
	}
	role, err := h.admin.UpdateRolePermissions(r.Context(), actor, chi.URLParam(r, "name"), *req.Permissions)
	if err != nil {
		h.fail(w, r, "rbac replace role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) roleSubjects(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	subjects, err := Collect(h.admin.SubjectsWithRole(r.Context(), actor, name))
	if err != nil {
		h.fail(w, r, "rbac role subjects", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roleSubjectsResponse{Role: name, Subjects: subjects})
}

func (h *Handler) subjectAccess(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	access, err := h.admin.Access(r.Context(), actor, chi.URLParam(r, "subject"))
	if err != nil {
		h.fail(w, r, "rbac subject access", err)
		return
	}
	httpx.JSON(w, http.StatusOK, access)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.admin.AssignRole(r.Context(), actor, chi.URLParam(r, "subject"), chi.URLParam(r, "role")); err != nil {
		h.fail(w, r, "rbac assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.admin.RevokeRole(r.Context(), actor, chi.URLParam(r, "subject"), chi.URLParam(r, "role")); err != nil {
		h.fail(w, r, "rbac revoke role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.admin.GrantDirectPermission(r.Context(), actor, chi.URLParam(r, "subject"), chi.URLParam(r, "permission")); err != nil {
		h.fail(w, r, "rbac grant permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.admin.RevokeDirectPermission(r.Context(), actor, chi.URLParam(r, "subject"), chi.URLParam(r, "permission")); err != nil {
		h.fail(w, r, "rbac revoke permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
