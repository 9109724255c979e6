package rbac

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, "doc.write", "doc.read")

	_, err := repo.CreatePermission(ctx, Permission{ID: "doc.read", Label: "again"})
	require.ErrorIs(t, err, ErrDuplicateIdentifier)

	perm, err := repo.GetPermission(ctx, "doc.read")
	require.NoError(t, err)
	assert.Equal(t, "Doc Read", perm.Label)

	_, err = repo.GetPermission(ctx, "doc.none")
	require.ErrorIs(t, err, ErrNotFound)

	perms, err := repo.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, "doc.read", perms[0].ID)
	assert.Equal(t, "doc.write", perms[1].ID)

	relabelled, err := repo.RelabelPermission(ctx, "doc.read", "Read documents")
	require.NoError(t, err)
	assert.Equal(t, "Read documents", relabelled.Label)
	assert.Equal(t, "doc.read", relabelled.ID)
}

func TestMemoryRoleValidation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, "doc.read")

	_, err := repo.CreateRole(ctx, Role{Name: "editor", Permissions: []string{"doc.read", "doc.write"}})
	require.ErrorIs(t, err, ErrUnknownPermission)
	assert.Contains(t, err.Error(), "doc.write")

	_, err = repo.GetRole(ctx, "editor")
	require.ErrorIs(t, err, ErrNotFound, "failed create must not leave a role behind")

	empty, err := repo.CreateRole(ctx, Role{Name: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, empty.Permissions)

	_, err = repo.CreateRole(ctx, Role{Name: "nobody"})
	require.ErrorIs(t, err, ErrDuplicateName)

	_, err = repo.ReplaceRolePermissions(ctx, "ghost", []string{"doc.read"})
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, repo.DeleteRole(ctx, "ghost"), ErrNotFound)
	require.ErrorIs(t, repo.AssignRole(ctx, "u1", "ghost"), ErrUnknownRole)
	require.ErrorIs(t, repo.GrantPermission(ctx, "u1", "doc.none"), ErrUnknownPermission)
}

func TestMemoryReplaceIsFullReplace(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, "doc.read", "doc.write", "files.view")

	_, err := repo.CreateRole(ctx, Role{Name: "editor", Permissions: []string{"doc.read", "doc.write"}})
	require.NoError(t, err)
	require.NoError(t, repo.AssignRole(ctx, "u1", "editor"))

	role, err := repo.ReplaceRolePermissions(ctx, "editor", []string{"files.view"})
	require.NoError(t, err)
	assert.Equal(t, []string{"files.view"}, role.Permissions)

	perms, err := repo.EffectivePermissions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"files.view"}, perms)

	_, err = repo.ReplaceRolePermissions(ctx, "editor", []string{"doc.read", "doc.bogus"})
	require.ErrorIs(t, err, ErrUnknownPermission)

	role, err = repo.GetRole(ctx, "editor")
	require.NoError(t, err)
	assert.Equal(t, []string{"files.view"}, role.Permissions, "rejected replace must leave the role unchanged")
}

func TestMemoryAssignmentIdempotence(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, "doc.read")
	_, err := repo.CreateRole(ctx, Role{Name: "viewer", Permissions: []string{"doc.read"}})
	require.NoError(t, err)

	require.NoError(t, repo.AssignRole(ctx, "u1", "viewer"))
	require.NoError(t, repo.AssignRole(ctx, "u1", "viewer"))
	roles, err := repo.RolesOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"viewer"}, roles)

	require.NoError(t, repo.RevokeRole(ctx, "u1", "viewer"))
	require.NoError(t, repo.RevokeRole(ctx, "u1", "viewer"))
	require.ErrorIs(t, repo.RevokeRole(ctx, "u9", "missing"), ErrUnknownRole)
	roles, err = repo.RolesOf(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, roles)

	require.NoError(t, repo.GrantPermission(ctx, "u1", "doc.read"))
	require.NoError(t, repo.GrantPermission(ctx, "u1", "doc.read"))
	direct, err := repo.DirectPermissionsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.read"}, direct)

	require.NoError(t, repo.RevokePermission(ctx, "u1", "doc.read"))
	require.NoError(t, repo.RevokePermission(ctx, "u1", "doc.read"))
	require.NoError(t, repo.RevokePermission(ctx, "u9", "doc.read"), "unheld but registered")
	require.ErrorIs(t, repo.RevokePermission(ctx, "u1", "doc.none"), ErrUnknownPermission)
	direct, err = repo.DirectPermissionsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, direct)
}

func TestMemoryDeleteRoleCascades(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, "doc.read")
	_, err := repo.CreateRole(ctx, Role{Name: "viewer", Permissions: []string{"doc.read"}})
	require.NoError(t, err)
	for _, s := range []string{"u2", "u1", "u3"} {
		require.NoError(t, repo.AssignRole(ctx, s, "viewer"))
	}

	subjects, err := repo.SubjectsWithRole(ctx, "viewer")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, subjects)

	require.NoError(t, repo.DeleteRole(ctx, "viewer"))

	for _, s := range []string{"u1", "u2", "u3"} {
		roles, err := repo.RolesOf(ctx, s)
		require.NoError(t, err)
		assert.Empty(t, roles)
	}
	_, err = repo.SubjectsWithRole(ctx, "viewer")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = repo.CreateRole(ctx, Role{Name: "viewer"})
	require.NoError(t, err)
	roles, err := repo.RolesOf(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, roles, "recreated role must not inherit old assignments")
}

func TestMemoryRetirePermissionCascades(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, "doc.read", "doc.write")
	_, err := repo.CreateRole(ctx, Role{Name: "editor", Permissions: []string{"doc.read", "doc.write"}})
	require.NoError(t, err)
	require.NoError(t, repo.GrantPermission(ctx, "u2", "doc.write"))

	require.NoError(t, repo.RetirePermission(ctx, "doc.write"))
	require.ErrorIs(t, repo.RetirePermission(ctx, "doc.write"), ErrNotFound)

	role, err := repo.GetRole(ctx, "editor")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.read"}, role.Permissions)

	direct, err := repo.DirectPermissionsOf(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, direct)
}

// Run with -race: checks racing a delete must neither fail nor trip the detector.
func TestMemoryDeleteRoleIsAtomicForReaders(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, "doc.read")
	engine := NewEngine(repo, nil)

	for round := 0; round < 50; round++ {
		name := fmt.Sprintf("r%d", round)
		_, err := repo.CreateRole(ctx, Role{Name: name, Permissions: []string{"doc.read"}})
		require.NoError(t, err)
		require.NoError(t, repo.AssignRole(ctx, "u1", name))

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := engine.IsAllowed(ctx, "u1", "doc.read"); err != nil {
					errs <- err
				}
			}()
		}
		require.NoError(t, repo.DeleteRole(ctx, name))
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		allowed, err := engine.IsAllowed(ctx, "u1", "doc.read")
		require.NoError(t, err)
		assert.False(t, allowed)
	}
}
