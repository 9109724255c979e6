package rbac

import (
	"context"
	"time"
)

// Permission represents an atomic capability known to the registry.
type Permission struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Role represents a named set of permissions.
type Role struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasPermission reports whether the role grants permission directly.
func (r Role) HasPermission(permission string) bool {
	for _, p := range r.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// SubjectAccess summarises what a subject holds.
type SubjectAccess struct {
	Subject           string   `json:"subject"`
	Roles             []string `json:"roles"`
	DirectPermissions []string `json:"direct_permissions"`
	Effective         []string `json:"effective"`
}

// Source is the read side the authorization engine evaluates against.
type Source interface {
	GetPermission(ctx context.Context, id string) (Permission, error)
	EffectivePermissions(ctx context.Context, subject string) ([]string, error)
}

// Repository persists permissions, roles and assignments. Every method is
// applied atomically: readers never observe a partially applied mutation.
type Repository interface {
	Source

	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	RelabelPermission(ctx context.Context, id, label string) (Permission, error)
	// RetirePermission removes the permission together with every role
	// reference and direct grant of it.
	RetirePermission(ctx context.Context, id string) error

	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	ReplaceRolePermissions(ctx context.Context, name string, permissionIDs []string) (Role, error)
	UpdateRoleDescription(ctx context.Context, name, description string) (Role, error)
	// DeleteRole removes the role together with every assignment of it.
	DeleteRole(ctx context.Context, name string) error
	SubjectsWithRole(ctx context.Context, name string) ([]string, error)

	AssignRole(ctx context.Context, subject, role string) error
	RevokeRole(ctx context.Context, subject, role string) error
	GrantPermission(ctx context.Context, subject, permission string) error
	RevokePermission(ctx context.Context, subject, permission string) error
	RolesOf(ctx context.Context, subject string) ([]string, error)
	DirectPermissionsOf(ctx context.Context, subject string) ([]string, error)
}

// Authorizer answers access questions for a subject.
type Authorizer interface {
	IsAllowed(ctx context.Context, subject, permission string) (bool, error)
	RequirePermission(ctx context.Context, subject, permission string) error
	EffectivePermissions(ctx context.Context, subject string) ([]string, error)
}

// Invalidator is notified after every committed mutation so that caches
// layered over the engine drop what they hold.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}
