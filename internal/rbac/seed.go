package rbac

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/docdesk/docdesk/internal/shared"
)

// Seed is the fixed catalog and first assignments applied at start-up.
type Seed struct {
	Permissions []SeedPermission `yaml:"permissions"`
	Roles       []SeedRole       `yaml:"roles"`
	Assignments []SeedAssignment `yaml:"assignments"`
}

// SeedPermission declares one catalog entry.
type SeedPermission struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// SeedRole declares a role and its full permission set.
type SeedRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// SeedAssignment gives a subject roles and direct grants.
type SeedAssignment struct {
	Subject     string   `yaml:"subject"`
	Roles       []string `yaml:"roles"`
	Permissions []string `yaml:"permissions"`
}

// BootstrapReport counts what Bootstrap changed.
type BootstrapReport struct {
	PermissionsCreated int `json:"permissions_created" yaml:"permissions_created"`
	RolesCreated       int `json:"roles_created" yaml:"roles_created"`
	RolesUpdated       int `json:"roles_updated" yaml:"roles_updated"`
	Assignments        int `json:"assignments" yaml:"assignments"`
	Grants             int `json:"grants" yaml:"grants"`
}

// Role names created by DefaultSeed.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// DefaultSeed returns the built-in catalog with admin, editor and viewer
// roles. Every subject in admins is assigned the admin role.
func DefaultSeed(admins ...string) Seed {
	seed := Seed{}
	for _, id := range shared.AllScopes() {
		seed.Permissions = append(seed.Permissions, SeedPermission{ID: id, Label: DefaultLabel(id)})
	}
	seed.Roles = []SeedRole{
		{Name: RoleAdmin, Description: "Full access including role management", Permissions: shared.AllScopes()},
		{
			Name:        RoleEditor,
			Description: "Edits documents, files and suppliers",
			Permissions: []string{
				shared.PermDocRead, shared.PermDocWrite, shared.PermDocTransfer,
				shared.PermFilesView, shared.PermFilesUpload,
				shared.PermSupplierView, shared.PermSupplierEdit,
			},
		},
		{
			Name:        RoleViewer,
			Description: "Read-only access",
			Permissions: []string{
				shared.PermDocRead, shared.PermFilesView, shared.PermSupplierView,
				shared.PermRolesView, shared.PermPermissionsView,
			},
		},
	}
	for _, subject := range admins {
		subject = strings.TrimSpace(subject)
		if subject == "" {
			continue
		}
		seed.Assignments = append(seed.Assignments, SeedAssignment{Subject: subject, Roles: []string{RoleAdmin}})
	}
	return seed
}

// ParseSeed decodes a YAML seed, rejecting unknown fields.
func ParseSeed(r io.Reader) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return Seed{}, fmt.Errorf("rbac: decode seed: %w", err)
	}
	return seed, nil
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("rbac: read seed: %w", err)
	}
	return ParseSeed(bytes.NewReader(raw))
}

// Bootstrap applies seed directly to repo without consulting the engine. It
// is the privileged path that creates the first administrator and must not be
// reachable from a request. Existing permissions are left intact and existing
// roles get the seed's permission set, so running it twice is harmless.
func Bootstrap(ctx context.Context, repo Repository, seed Seed) (BootstrapReport, error) {
	var report BootstrapReport
	for _, p := range seed.Permissions {
		in := permissionInput{ID: strings.TrimSpace(p.ID), Label: strings.TrimSpace(p.Label)}
		if err := validateInput(in); err != nil {
			return report, fmt.Errorf("seed permission %q: %w", p.ID, err)
		}
		if in.Label == "" {
			in.Label = DefaultLabel(in.ID)
		}
		_, err := repo.CreatePermission(ctx, Permission{ID: in.ID, Label: in.Label})
		switch {
		case err == nil:
			report.PermissionsCreated++
		case errors.Is(err, ErrDuplicateIdentifier):
		default:
			return report, fmt.Errorf("seed permission %q: %w", in.ID, err)
		}
	}
	for _, r := range seed.Roles {
		in := roleInput{Name: strings.TrimSpace(r.Name), Description: strings.TrimSpace(r.Description)}
		if err := validateInput(in); err != nil {
			return report, fmt.Errorf("seed role %q: %w", r.Name, err)
		}
		ids := normalizeIDs(r.Permissions)
		_, err := repo.CreateRole(ctx, Role{Name: in.Name, Description: in.Description, Permissions: ids})
		switch {
		case err == nil:
			report.RolesCreated++
		case errors.Is(err, ErrDuplicateName):
			if _, err := repo.ReplaceRolePermissions(ctx, in.Name, ids); err != nil {
				return report, fmt.Errorf("seed role %q: %w", in.Name, err)
			}
			report.RolesUpdated++
		default:
			return report, fmt.Errorf("seed role %q: %w", in.Name, err)
		}
	}
	for _, a := range seed.Assignments {
		subject, err := validateSubject(a.Subject)
		if err != nil {
			return report, fmt.Errorf("seed assignment: %w", err)
		}
		for _, role := range a.Roles {
			if err := repo.AssignRole(ctx, subject, strings.TrimSpace(role)); err != nil {
				return report, fmt.Errorf("seed assignment %q: %w", subject, err)
			}
			report.Assignments++
		}
		for _, perm := range a.Permissions {
			if err := repo.GrantPermission(ctx, subject, strings.TrimSpace(perm)); err != nil {
				return report, fmt.Errorf("seed grant %q: %w", subject, err)
			}
			report.Grants++
		}
	}
	return report, nil
}
