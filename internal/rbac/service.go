package rbac

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"

	"github.com/docdesk/docdesk/internal/shared"
)

// Auditor records administrative changes.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Admin is the guarded administration surface over a Repository. Every
// mutation requires the actor to hold roles.manage; reads require
// roles.view or permissions.view (roles.manage implies both).
type Admin struct {
	repo        Repository
	authz       Authorizer
	invalidator Invalidator
	audit       Auditor
	logger      *slog.Logger
}

// NewAdmin wires an Admin. invalidator and audit may be nil.
func NewAdmin(repo Repository, authz Authorizer, invalidator Invalidator, audit Auditor, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{repo: repo, authz: authz, invalidator: invalidator, audit: audit, logger: logger}
}

// guard fails with ErrForbidden unless actor holds one of permissions. A guard
// permission missing from the registry is held by nobody.
func (a *Admin) guard(ctx context.Context, actor string, permissions ...string) error {
	err := RequireAny(ctx, a.authz, actor, permissions...)
	if errors.Is(err, ErrUnknownPermission) {
		return &ForbiddenError{Subject: actor, Permission: permissions[0]}
	}
	return err
}

func (a *Admin) guardManage(ctx context.Context, actor string) error {
	return a.guard(ctx, actor, shared.PermRolesManage)
}

func (a *Admin) guardViewRoles(ctx context.Context, actor string) error {
	return a.guard(ctx, actor, shared.PermRolesView, shared.PermRolesManage)
}

func (a *Admin) guardViewPermissions(ctx context.Context, actor string) error {
	return a.guard(ctx, actor, shared.PermPermissionsView, shared.PermRolesManage)
}

// after runs once a mutation returns. Caches are dropped on success and on
// storage failures, where the commit outcome is unknown.
func (a *Admin) after(ctx context.Context, err error, actor, action, entity, entityID string, meta map[string]any) {
	if err != nil && !errors.Is(err, ErrStorage) {
		return
	}
	if a.invalidator != nil {
		if ierr := a.invalidator.Invalidate(ctx); ierr != nil {
			a.logger.Error("rbac invalidate cache", slog.String("action", action), slog.Any("error", ierr))
		}
	}
	if err != nil || a.audit == nil {
		return
	}
	if aerr := a.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); aerr != nil {
		a.logger.Warn("rbac audit record", slog.String("action", action), slog.Any("error", aerr))
	}
}

// RegisterPermission adds a permission to the registry. An empty label
// defaults to DefaultLabel(id).
func (a *Admin) RegisterPermission(ctx context.Context, actor, id, label string) (Permission, error) {
	if err := a.guardManage(ctx, actor); err != nil {
		return Permission{}, err
	}
	in := permissionInput{ID: strings.TrimSpace(id), Label: strings.TrimSpace(label)}
	if err := validateInput(in); err != nil {
		return Permission{}, err
	}
	if in.Label == "" {
		in.Label = DefaultLabel(in.ID)
	}
	perm, err := a.repo.CreatePermission(ctx, Permission{ID: in.ID, Label: in.Label})
	a.after(ctx, err, actor, "rbac.permission.register", "permission", in.ID, map[string]any{"label": in.Label})
	return perm, err
}

// GetPermission returns a registered permission.
func (a *Admin) GetPermission(ctx context.Context, actor, id string) (Permission, error) {
	if err := a.guardViewPermissions(ctx, actor); err != nil {
		return Permission{}, err
	}
	return a.repo.GetPermission(ctx, strings.TrimSpace(id))
}

// Permissions yields every permission ordered by id. Each range re-checks the
// guard and reads a fresh snapshot.
func (a *Admin) Permissions(ctx context.Context, actor string) iter.Seq2[Permission, error] {
	return sequence(func() ([]Permission, error) {
		if err := a.guardViewPermissions(ctx, actor); err != nil {
			return nil, err
		}
		return a.repo.ListPermissions(ctx)
	})
}

// RelabelPermission edits a permission label.
func (a *Admin) RelabelPermission(ctx context.Context, actor, id, label string) (Permission, error) {
	if err := a.guardManage(ctx, actor); err != nil {
		return Permission{}, err
	}
	id = strings.TrimSpace(id)
	label = strings.TrimSpace(label)
	if err := validateField("label", label, "max=200"); err != nil {
		return Permission{}, err
	}
	if label == "" {
		label = DefaultLabel(id)
	}
	perm, err := a.repo.RelabelPermission(ctx, id, label)
	a.after(ctx, err, actor, "rbac.permission.relabel", "permission", id, map[string]any{"label": label})
	return perm, err
}

// RetirePermission removes a permission from the registry, every role and
// every direct grant in one step.
func (a *Admin) RetirePermission(ctx context.Context, actor, id string) error {
	if err := a.guardManage(ctx, actor); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	err := a.repo.RetirePermission(ctx, id)
	a.after(ctx, err, actor, "rbac.permission.retire", "permission", id, nil)
	return err
}

// CreateRole creates a role over a set of registered permissions.
func (a *Admin) CreateRole(ctx context.Context, actor, name, description string, permissionIDs []string) (Role, error) {
	if err := a.guardManage(ctx, actor); err != nil {
		return Role{}, err
	}
	in := roleInput{Name: strings.TrimSpace(name), Description: strings.TrimSpace(description)}
	if err := validateInput(in); err != nil {
		return Role{}, err
	}
	ids := normalizeIDs(permissionIDs)
	role, err := a.repo.CreateRole(ctx, Role{Name: in.Name, Description: in.Description, Permissions: ids})
	a.after(ctx, err, actor, "rbac.role.create", "role", in.Name, map[string]any{"permissions": ids})
	return role, err
}

// GetRole returns a role by name.
func (a *Admin) GetRole(ctx context.Context, actor, name string) (Role, error) {
	if err := a.guardViewRoles(ctx, actor); err != nil {
		return Role{}, err
	}
	return a.repo.GetRole(ctx, strings.TrimSpace(name))
}

// Roles yields every role ordered by name.
func (a *Admin) Roles(ctx context.Context, actor string) iter.Seq2[Role, error] {
	return sequence(func() ([]Role, error) {
		if err := a.guardViewRoles(ctx, actor); err != nil {
			return nil, err
		}
		return a.repo.ListRoles(ctx)
	})
}

// UpdateRolePermissions replaces the whole permission set of a role.
func (a *Admin) UpdateRolePermissions(ctx context.Context, actor, name string, permissionIDs []string) (Role, error) {
	if err := a.guardManage(ctx, actor); err != nil {
		return Role{}, err
	}
	name = strings.TrimSpace(name)
	ids := normalizeIDs(permissionIDs)
	role, err := a.repo.ReplaceRolePermissions(ctx, name, ids)
	a.after(ctx, err, actor, "rbac.role.permissions", "role", name, map[string]any{"permissions": ids})
	return role, err
}

// UpdateRoleDescription edits a role description.
func (a *Admin) UpdateRoleDescription(ctx context.Context, actor, name, description string) (Role, error) {
	if err := a.guardManage(ctx, actor); err != nil {
		return Role{}, err
	}
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if err := validateField("description", description, "max=500"); err != nil {
		return Role{}, err
	}
	role, err := a.repo.UpdateRoleDescription(ctx, name, description)
	a.after(ctx, err, actor, "rbac.role.describe", "role", name, nil)
	return role, err
}

// DeleteRole removes a role and every assignment of it.
func (a *Admin) DeleteRole(ctx context.Context, actor, name string) error {
	if err := a.guardManage(ctx, actor); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	err := a.repo.DeleteRole(ctx, name)
	a.after(ctx, err, actor, "rbac.role.delete", "role", name, nil)
	return err
}

// SubjectsWithRole yields the subjects holding a role, ordered.
func (a *Admin) SubjectsWithRole(ctx context.Context, actor, name string) iter.Seq2[string, error] {
	return sequence(func() ([]string, error) {
		if err := a.guardViewRoles(ctx, actor); err != nil {
			return nil, err
		}
		return a.repo.SubjectsWithRole(ctx, strings.TrimSpace(name))
	})
}

// AssignRole gives subject a role. Assigning a held role succeeds.
func (a *Admin) AssignRole(ctx context.Context, actor, subject, role string) error {
	if err := a.guardManage(ctx, actor); err != nil {
		return err
	}
	subject, err := validateSubject(subject)
	if err != nil {
		return err
	}
	role = strings.TrimSpace(role)
	err = a.repo.AssignRole(ctx, subject, role)
	a.after(ctx, err, actor, "rbac.subject.assign", "subject", subject, map[string]any{"role": role})
	return err
}

// RevokeRole takes a role from subject. Revoking an unheld role succeeds;
// an unknown role fails with ErrUnknownRole.
func (a *Admin) RevokeRole(ctx context.Context, actor, subject, role string) error {
	if err := a.guardManage(ctx, actor); err != nil {
		return err
	}
	subject, err := validateSubject(subject)
	if err != nil {
		return err
	}
	role = strings.TrimSpace(role)
	err = a.repo.RevokeRole(ctx, subject, role)
	a.after(ctx, err, actor, "rbac.subject.revoke", "subject", subject, map[string]any{"role": role})
	return err
}

// GrantDirectPermission gives subject a permission outside any role.
func (a *Admin) GrantDirectPermission(ctx context.Context, actor, subject, permission string) error {
	if err := a.guardManage(ctx, actor); err != nil {
		return err
	}
	subject, err := validateSubject(subject)
	if err != nil {
		return err
	}
	permission = strings.TrimSpace(permission)
	err = a.repo.GrantPermission(ctx, subject, permission)
	a.after(ctx, err, actor, "rbac.subject.grant", "subject", subject, map[string]any{"permission": permission})
	return err
}

// RevokeDirectPermission removes a direct grant. Revoking an absent grant
// succeeds; an unregistered permission fails with ErrUnknownPermission.
func (a *Admin) RevokeDirectPermission(ctx context.Context, actor, subject, permission string) error {
	if err := a.guardManage(ctx, actor); err != nil {
		return err
	}
	subject, err := validateSubject(subject)
	if err != nil {
		return err
	}
	permission = strings.TrimSpace(permission)
	err = a.repo.RevokePermission(ctx, subject, permission)
	a.after(ctx, err, actor, "rbac.subject.ungrant", "subject", subject, map[string]any{"permission": permission})
	return err
}

// RolesOf yields the roles subject holds, ordered. Any actor may read its own.
func (a *Admin) RolesOf(ctx context.Context, actor, subject string) iter.Seq2[string, error] {
	return sequence(func() ([]string, error) {
		if err := a.guardSubject(ctx, actor, subject); err != nil {
			return nil, err
		}
		return a.repo.RolesOf(ctx, strings.TrimSpace(subject))
	})
}

// DirectPermissionsOf yields the direct grants of subject, ordered.
func (a *Admin) DirectPermissionsOf(ctx context.Context, actor, subject string) iter.Seq2[string, error] {
	return sequence(func() ([]string, error) {
		if err := a.guardSubject(ctx, actor, subject); err != nil {
			return nil, err
		}
		return a.repo.DirectPermissionsOf(ctx, strings.TrimSpace(subject))
	})
}

// Access summarises roles, direct grants and the effective set of subject.
func (a *Admin) Access(ctx context.Context, actor, subject string) (SubjectAccess, error) {
	subject = strings.TrimSpace(subject)
	if err := a.guardSubject(ctx, actor, subject); err != nil {
		return SubjectAccess{}, err
	}
	roles, err := a.repo.RolesOf(ctx, subject)
	if err != nil {
		return SubjectAccess{}, err
	}
	direct, err := a.repo.DirectPermissionsOf(ctx, subject)
	if err != nil {
		return SubjectAccess{}, err
	}
	effective, err := a.authz.EffectivePermissions(ctx, subject)
	if err != nil {
		return SubjectAccess{}, err
	}
	return SubjectAccess{
		Subject:           subject,
		Roles:             nonNil(roles),
		DirectPermissions: nonNil(direct),
		Effective:         nonNil(effective),
	}, nil
}

func (a *Admin) guardSubject(ctx context.Context, actor, subject string) error {
	if actor != "" && actor == strings.TrimSpace(subject) {
		return nil
	}
	return a.guardViewRoles(ctx, actor)
}

// sequence adapts a snapshot loader to a restartable iterator; every range
// calls load again.
func sequence[T any](load func() ([]T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		items, err := load()
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	out := []T{}
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
