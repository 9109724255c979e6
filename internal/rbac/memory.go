package rbac

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

type roleRecord struct {
	name        string
	description string
	permissions map[string]struct{}
	createdAt   time.Time
	updatedAt   time.Time
}

func (r *roleRecord) toRole() Role {
	return Role{
		Name:        r.name,
		Description: r.description,
		Permissions: sortedKeys(r.permissions),
		CreatedAt:   r.createdAt,
		UpdatedAt:   r.updatedAt,
	}
}

// MemoryRepository keeps the registry, roles and assignments in process.
// A single lock spans all of them so cascades are indivisible for readers.
type MemoryRepository struct {
	mu           sync.RWMutex
	permissions  map[string]Permission
	roles        map[string]*roleRecord
	subjectRoles map[string]map[string]struct{}
	subjectPerms map[string]map[string]struct{}
	now          func() time.Time
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		permissions:  make(map[string]Permission),
		roles:        make(map[string]*roleRecord),
		subjectRoles: make(map[string]map[string]struct{}),
		subjectPerms: make(map[string]map[string]struct{}),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreatePermission registers a permission.
func (m *MemoryRepository) CreatePermission(_ context.Context, perm Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[perm.ID]; ok {
		return Permission{}, duplicateIdentifier(perm.ID)
	}
	perm.CreatedAt = m.now()
	m.permissions[perm.ID] = perm
	return perm, nil
}

// GetPermission fetches a permission by id.
func (m *MemoryRepository) GetPermission(_ context.Context, id string) (Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perm, ok := m.permissions[id]
	if !ok {
		return Permission{}, notFound("permission", id)
	}
	return perm, nil
}

// ListPermissions returns all permissions ordered by id.
func (m *MemoryRepository) ListPermissions(_ context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perms := make([]Permission, 0, len(m.permissions))
	for _, id := range slices.Sorted(maps.Keys(m.permissions)) {
		perms = append(perms, m.permissions[id])
	}
	return perms, nil
}

// RelabelPermission edits the human readable label.
func (m *MemoryRepository) RelabelPermission(_ context.Context, id, label string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perm, ok := m.permissions[id]
	if !ok {
		return Permission{}, notFound("permission", id)
	}
	perm.Label = label
	m.permissions[id] = perm
	return perm, nil
}

// RetirePermission removes a permission from the registry, every role and
// every direct grant.
func (m *MemoryRepository) RetirePermission(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[id]; !ok {
		return notFound("permission", id)
	}
	delete(m.permissions, id)
	now := m.now()
	for _, role := range m.roles {
		if _, ok := role.permissions[id]; ok {
			delete(role.permissions, id)
			role.updatedAt = now
		}
	}
	removeFromAll(m.subjectPerms, id)
	return nil
}

// CreateRole inserts a role after validating its permission set.
func (m *MemoryRepository) CreateRole(_ context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.Name]; ok {
		return Role{}, duplicateName(role.Name)
	}
	set, err := m.permissionSetLocked(role.Permissions)
	if err != nil {
		return Role{}, err
	}
	now := m.now()
	rec := &roleRecord{
		name:        role.Name,
		description: role.Description,
		permissions: set,
		createdAt:   now,
		updatedAt:   now,
	}
	m.roles[role.Name] = rec
	return rec.toRole(), nil
}

// GetRole fetches a role by name.
func (m *MemoryRepository) GetRole(_ context.Context, name string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.roles[name]
	if !ok {
		return Role{}, notFound("role", name)
	}
	return rec.toRole(), nil
}

// ListRoles returns all roles ordered by name.
func (m *MemoryRepository) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roles := make([]Role, 0, len(m.roles))
	for _, name := range slices.Sorted(maps.Keys(m.roles)) {
		roles = append(roles, m.roles[name].toRole())
	}
	return roles, nil
}

// ReplaceRolePermissions swaps the full permission set of a role.
func (m *MemoryRepository) ReplaceRolePermissions(_ context.Context, name string, permissionIDs []string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.roles[name]
	if !ok {
		return Role{}, notFound("role", name)
	}
	set, err := m.permissionSetLocked(permissionIDs)
	if err != nil {
		return Role{}, err
	}
	rec.permissions = set
	rec.updatedAt = m.now()
	return rec.toRole(), nil
}

// UpdateRoleDescription edits the role description.
func (m *MemoryRepository) UpdateRoleDescription(_ context.Context, name, description string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.roles[name]
	if !ok {
		return Role{}, notFound("role", name)
	}
	rec.description = description
	rec.updatedAt = m.now()
	return rec.toRole(), nil
}

// DeleteRole removes the role and every assignment referencing it.
func (m *MemoryRepository) DeleteRole(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[name]; !ok {
		return notFound("role", name)
	}
	delete(m.roles, name)
	removeFromAll(m.subjectRoles, name)
	return nil
}

// SubjectsWithRole lists subjects holding the role, ordered.
func (m *MemoryRepository) SubjectsWithRole(_ context.Context, name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.roles[name]; !ok {
		return nil, notFound("role", name)
	}
	subjects := make([]string, 0)
	for subject, roles := range m.subjectRoles {
		if _, ok := roles[name]; ok {
			subjects = append(subjects, subject)
		}
	}
	slices.Sort(subjects)
	return subjects, nil
}

// AssignRole gives a role to a subject. Assigning a held role is a no-op.
func (m *MemoryRepository) AssignRole(_ context.Context, subject, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role]; !ok {
		return unknownRole(role)
	}
	addTo(m.subjectRoles, subject, role)
	return nil
}

// RevokeRole takes a role away from a subject. Revoking an unheld role is a
// no-op; the role itself must exist.
func (m *MemoryRepository) RevokeRole(_ context.Context, subject, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role]; !ok {
		return unknownRole(role)
	}
	removeFrom(m.subjectRoles, subject, role)
	return nil
}

// GrantPermission gives a subject a permission outside any role.
func (m *MemoryRepository) GrantPermission(_ context.Context, subject, permission string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[permission]; !ok {
		return unknownPermission(permission)
	}
	addTo(m.subjectPerms, subject, permission)
	return nil
}

// RevokePermission removes a direct grant. Revoking an absent grant of a
// registered permission is a no-op.
func (m *MemoryRepository) RevokePermission(_ context.Context, subject, permission string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[permission]; !ok {
		return unknownPermission(permission)
	}
	removeFrom(m.subjectPerms, subject, permission)
	return nil
}

// RolesOf lists the roles held by subject, ordered.
func (m *MemoryRepository) RolesOf(_ context.Context, subject string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.subjectRoles[subject]), nil
}

// DirectPermissionsOf lists direct grants of subject, ordered.
func (m *MemoryRepository) DirectPermissionsOf(_ context.Context, subject string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.subjectPerms[subject]), nil
}

// EffectivePermissions resolves the union of role and direct permissions
// under one read lock.
func (m *MemoryRepository) EffectivePermissions(_ context.Context, subject string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	effective := make(map[string]struct{})
	for role := range m.subjectRoles[subject] {
		if rec, ok := m.roles[role]; ok {
			for p := range rec.permissions {
				effective[p] = struct{}{}
			}
		}
	}
	for p := range m.subjectPerms[subject] {
		effective[p] = struct{}{}
	}
	return sortedKeys(effective), nil
}

func (m *MemoryRepository) permissionSetLocked(ids []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := m.permissions[id]; !ok {
			return nil, unknownPermission(id)
		}
		set[id] = struct{}{}
	}
	return set, nil
}

func addTo(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[value] = struct{}{}
}

func removeFrom(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(index, key)
	}
}

func removeFromAll(index map[string]map[string]struct{}, value string) {
	for key := range index {
		removeFrom(index, key, value)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

var _ Repository = (*MemoryRepository)(nil)
