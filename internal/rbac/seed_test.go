package rbac

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdesk/docdesk/internal/shared"
)

const seedYAML = `
permissions:
  - id: doc.read
    label: Read documents
  - id: doc.write
roles:
  - name: editor
    description: Edits documents
    permissions: [doc.read, doc.write]
assignments:
  - subject: u1
    roles: [editor]
  - subject: u2
    permissions: [doc.write]
`

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, seed.Permissions, 2)
	assert.Equal(t, "Read documents", seed.Permissions[0].Label)
	assert.Equal(t, []string{"doc.read", "doc.write"}, seed.Roles[0].Permissions)
	assert.Equal(t, []string{"doc.write"}, seed.Assignments[1].Permissions)

	_, err = ParseSeed(strings.NewReader("permissions:\n  - id: a.b\n    colour: red\n"))
	require.Error(t, err)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Len(t, seed.Roles, 1)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestBootstrapAppliesSeed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seed, err := ParseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)

	report, err := Bootstrap(ctx, repo, seed)
	require.NoError(t, err)
	assert.Equal(t, BootstrapReport{PermissionsCreated: 2, RolesCreated: 1, Assignments: 1, Grants: 1}, report)

	perm, err := repo.GetPermission(ctx, "doc.write")
	require.NoError(t, err)
	assert.Equal(t, "Doc Write", perm.Label)

	engine := NewEngine(repo, nil)
	allowed, err := engine.IsAllowed(ctx, "u1", "doc.write")
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, err = engine.IsAllowed(ctx, "u2", "doc.read")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := Bootstrap(ctx, repo, DefaultSeed("root"))
	require.NoError(t, err)
	_, err = repo.RelabelPermission(ctx, shared.PermDocRead, "Custom label")
	require.NoError(t, err)
	_, err = repo.ReplaceRolePermissions(ctx, RoleViewer, nil)
	require.NoError(t, err)

	report, err := Bootstrap(ctx, repo, DefaultSeed("root"))
	require.NoError(t, err)
	assert.Zero(t, report.PermissionsCreated)
	assert.Zero(t, report.RolesCreated)
	assert.Equal(t, 3, report.RolesUpdated)

	perm, err := repo.GetPermission(ctx, shared.PermDocRead)
	require.NoError(t, err)
	assert.Equal(t, "Custom label", perm.Label, "existing permissions are left intact")

	viewer, err := repo.GetRole(ctx, RoleViewer)
	require.NoError(t, err)
	assert.Contains(t, viewer.Permissions, shared.PermDocRead, "seeded roles get the seed's set back")

	roles, err := repo.RolesOf(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, []string{RoleAdmin}, roles)
}

func TestDefaultSeedAdminHoldsEverything(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_, err := Bootstrap(ctx, repo, DefaultSeed("root", " ", ""))
	require.NoError(t, err)

	perms, err := repo.EffectivePermissions(ctx, "root")
	require.NoError(t, err)
	assert.ElementsMatch(t, shared.AllScopes(), perms)

	subjects, err := repo.SubjectsWithRole(ctx, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, subjects)
}

func TestBootstrapRejectsUnknownReferences(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	seed := Seed{Roles: []SeedRole{{Name: "broken", Permissions: []string{"doc.read"}}}}

	_, err := Bootstrap(ctx, repo, seed)
	require.ErrorIs(t, err, ErrUnknownPermission)

	seed = Seed{Assignments: []SeedAssignment{{Subject: "u1", Roles: []string{"ghost"}}}}
	_, err = Bootstrap(ctx, repo, seed)
	require.ErrorIs(t, err, ErrUnknownRole)
}
