package rbac

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/docdesk/docdesk/internal/platform/db"
)

//go:embed schema.sql
var schemaSQL string

// Pool is the subset of *pgxpool.Pool used by PGRepository.
type Pool interface {
	db.TxStarter
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository provides PostgreSQL backed persistence. Every mutation runs
// in one serializable transaction; foreign keys with ON DELETE CASCADE carry
// the role and permission cascades inside that transaction.
type PGRepository struct {
	pool Pool
}

// NewPGRepository constructs a repository backed by the provided pool.
func NewPGRepository(pool Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// EnsureSchema creates the RBAC tables when they are missing.
func (r *PGRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("rbac: ensure schema: %w", err)
	}
	return nil
}

// maxWriteAttempts bounds how often a mutation is replayed after a
// serialization failure.
const maxWriteAttempts = 3

func (r *PGRepository) write(ctx context.Context, fn func(pgx.Tx) error) error {
	return storageError(retrySerialization(maxWriteAttempts, func() error {
		return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
	}))
}

// retrySerialization replays attempt while it fails with a serialization
// failure or deadlock. A replayed transaction sees rows committed by the
// transaction it collided with, so a concurrent duplicate insert ends as
// ErrDuplicateIdentifier or ErrDuplicateName instead of ErrStorage.
func retrySerialization(attempts int, attempt func() error) error {
	var err error
	for i := 0; i < max(attempts, 1); i++ {
		if err = attempt(); !isSerializationFailure(err) {
			return err
		}
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgCodeSerializationFailure || pgErr.Code == pgCodeDeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgCodeUniqueViolation
}

const (
	pgCodeUniqueViolation      = "23505"
	pgCodeSerializationFailure = "40001"
	pgCodeDeadlockDetected     = "40P01"
)

func (r *PGRepository) read(ctx context.Context, fn func(pgx.Tx) error) error {
	return storageError(db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn))
}

// CreatePermission registers a permission.
func (r *PGRepository) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	err := r.write(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO rbac_permissions (id, label) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING
			RETURNING created_at`, perm.ID, perm.Label).Scan(&perm.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return duplicateIdentifier(perm.ID)
		}
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// GetPermission fetches a permission by id.
func (r *PGRepository) GetPermission(ctx context.Context, id string) (Permission, error) {
	var perm Permission
	err := r.pool.QueryRow(ctx, `SELECT id, label, created_at FROM rbac_permissions WHERE id = $1`, id).
		Scan(&perm.ID, &perm.Label, &perm.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, notFound("permission", id)
		}
		return Permission{}, storageError(err)
	}
	return perm, nil
}

// ListPermissions returns all permissions ordered by id.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, label, created_at FROM rbac_permissions ORDER BY id`)
	if err != nil {
		return nil, storageError(err)
	}
	perms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Permission, error) {
		var p Permission
		err := row.Scan(&p.ID, &p.Label, &p.CreatedAt)
		return p, err
	})
	if err != nil {
		return nil, storageError(err)
	}
	return perms, nil
}

// RelabelPermission edits the human readable label.
func (r *PGRepository) RelabelPermission(ctx context.Context, id, label string) (Permission, error) {
	var perm Permission
	err := r.write(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE rbac_permissions SET label = $2 WHERE id = $1
			RETURNING id, label, created_at`, id, label).Scan(&perm.ID, &perm.Label, &perm.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("permission", id)
		}
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// RetirePermission deletes a permission; role references and direct grants
// go with it through the foreign keys.
func (r *PGRepository) RetirePermission(ctx context.Context, id string) error {
	return r.write(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE rbac_roles SET updated_at = NOW()
			WHERE name IN (SELECT role_name FROM rbac_role_permissions WHERE permission_id = $1)`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM rbac_permissions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return notFound("permission", id)
		}
		return nil
	})
}

// CreateRole inserts a role and its permission set.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) (Role, error) {
	var created Role
	err := r.write(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO rbac_roles (name, description) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING
			RETURNING name`, role.Name, role.Description).Scan(&role.Name)
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return duplicateName(role.Name)
		}
		if err != nil {
			return err
		}
		if err := attachPermissions(ctx, tx, role.Name, role.Permissions); err != nil {
			return err
		}
		created, err = getRole(ctx, tx, role.Name)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return created, nil
}

// GetRole fetches a role by name.
func (r *PGRepository) GetRole(ctx context.Context, name string) (Role, error) {
	role, err := getRole(ctx, r.pool, name)
	if err != nil {
		return Role{}, storageError(err)
	}
	return role, nil
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, roleSelect+` GROUP BY r.name ORDER BY r.name`)
	if err != nil {
		return nil, storageError(err)
	}
	roles, err := pgx.CollectRows(rows, scanRole)
	if err != nil {
		return nil, storageError(err)
	}
	return roles, nil
}

// ReplaceRolePermissions swaps the full permission set of a role.
func (r *PGRepository) ReplaceRolePermissions(ctx context.Context, name string, permissionIDs []string) (Role, error) {
	var updated Role
	err := r.write(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE rbac_roles SET updated_at = NOW() WHERE name = $1`, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return notFound("role", name)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM rbac_role_permissions WHERE role_name = $1`, name); err != nil {
			return err
		}
		if err := attachPermissions(ctx, tx, name, permissionIDs); err != nil {
			return err
		}
		updated, err = getRole(ctx, tx, name)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// UpdateRoleDescription edits the role description.
func (r *PGRepository) UpdateRoleDescription(ctx context.Context, name, description string) (Role, error) {
	var updated Role
	err := r.write(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE rbac_roles SET description = $2, updated_at = NOW() WHERE name = $1`, name, description)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return notFound("role", name)
		}
		updated, err = getRole(ctx, tx, name)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// DeleteRole removes a role; its assignments are removed by the same statement.
func (r *PGRepository) DeleteRole(ctx context.Context, name string) error {
	return r.write(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM rbac_roles WHERE name = $1`, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return notFound("role", name)
		}
		return nil
	})
}

// SubjectsWithRole lists subjects holding the role, ordered.
func (r *PGRepository) SubjectsWithRole(ctx context.Context, name string) ([]string, error) {
	var subjects []string
	err := r.read(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rbac_roles WHERE name = $1)`, name).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return notFound("role", name)
		}
		var err error
		subjects, err = collectStrings(tx.Query(ctx, `SELECT subject_id FROM rbac_subject_roles WHERE role_name = $1 ORDER BY subject_id`, name))
		return err
	})
	if err != nil {
		return nil, err
	}
	return subjects, nil
}

// AssignRole gives a role to a subject. Assigning a held role is a no-op.
func (r *PGRepository) AssignRole(ctx context.Context, subject, role string) error {
	return r.write(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rbac_roles WHERE name = $1 FOR KEY SHARE)`, role).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return unknownRole(role)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO rbac_subject_roles (subject_id, role_name) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, subject, role)
		return err
	})
}

// RevokeRole takes a role away from a subject. Revoking an unheld role is a
// no-op; the role itself must exist.
func (r *PGRepository) RevokeRole(ctx context.Context, subject, role string) error {
	return r.write(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rbac_roles WHERE name = $1 FOR KEY SHARE)`, role).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return unknownRole(role)
		}
		_, err := tx.Exec(ctx, `DELETE FROM rbac_subject_roles WHERE subject_id = $1 AND role_name = $2`, subject, role)
		return err
	})
}

// GrantPermission gives a subject a permission outside any role.
func (r *PGRepository) GrantPermission(ctx context.Context, subject, permission string) error {
	return r.write(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rbac_permissions WHERE id = $1 FOR KEY SHARE)`, permission).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return unknownPermission(permission)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO rbac_subject_permissions (subject_id, permission_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, subject, permission)
		return err
	})
}

// RevokePermission removes a direct grant. Revoking an absent grant of a
// registered permission is a no-op.
func (r *PGRepository) RevokePermission(ctx context.Context, subject, permission string) error {
	return r.write(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rbac_permissions WHERE id = $1 FOR KEY SHARE)`, permission).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return unknownPermission(permission)
		}
		_, err := tx.Exec(ctx, `DELETE FROM rbac_subject_permissions WHERE subject_id = $1 AND permission_id = $2`, subject, permission)
		return err
	})
}

// RolesOf lists the roles held by subject, ordered.
func (r *PGRepository) RolesOf(ctx context.Context, subject string) ([]string, error) {
	roles, err := collectStrings(r.pool.Query(ctx, `SELECT role_name FROM rbac_subject_roles WHERE subject_id = $1 ORDER BY role_name`, subject))
	return roles, storageError(err)
}

// DirectPermissionsOf lists direct grants of subject, ordered.
func (r *PGRepository) DirectPermissionsOf(ctx context.Context, subject string) ([]string, error) {
	perms, err := collectStrings(r.pool.Query(ctx, `SELECT permission_id FROM rbac_subject_permissions WHERE subject_id = $1 ORDER BY permission_id`, subject))
	return perms, storageError(err)
}

// EffectivePermissions resolves role and direct permissions in one statement,
// so the result comes from a single snapshot.
func (r *PGRepository) EffectivePermissions(ctx context.Context, subject string) ([]string, error) {
	perms, err := collectStrings(r.pool.Query(ctx, `
		SELECT rp.permission_id
		FROM rbac_subject_roles sr
		JOIN rbac_role_permissions rp ON rp.role_name = sr.role_name
		WHERE sr.subject_id = $1
		UNION
		SELECT sp.permission_id
		FROM rbac_subject_permissions sp
		WHERE sp.subject_id = $1
		ORDER BY 1`, subject))
	return perms, storageError(err)
}

const roleSelect = `
	SELECT r.name, r.description, r.created_at, r.updated_at,
		COALESCE(array_agg(rp.permission_id ORDER BY rp.permission_id) FILTER (WHERE rp.permission_id IS NOT NULL), '{}')
	FROM rbac_roles r
	LEFT JOIN rbac_role_permissions rp ON rp.role_name = r.name`

func scanRole(row pgx.CollectableRow) (Role, error) {
	var role Role
	err := row.Scan(&role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt, &role.Permissions)
	return role, err
}

func getRole(ctx context.Context, q querier, name string) (Role, error) {
	rows, err := q.Query(ctx, roleSelect+` WHERE r.name = $1 GROUP BY r.name`, name)
	if err != nil {
		return Role{}, err
	}
	role, err := pgx.CollectExactlyOneRow(rows, scanRole)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, notFound("role", name)
	}
	return role, err
}

func attachPermissions(ctx context.Context, tx pgx.Tx, role string, permissionIDs []string) error {
	ids := normalizeIDs(permissionIDs)
	if len(ids) == 0 {
		return nil
	}
	known, err := collectStrings(tx.Query(ctx, `SELECT id FROM rbac_permissions WHERE id = ANY($1) FOR KEY SHARE`, ids))
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, found := slices.BinarySearch(known, id); !found {
			return unknownPermission(id)
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO rbac_role_permissions (role_name, permission_id)
		SELECT $1, unnest($2::text[])`, role, ids)
	return err
}

func collectStrings(rows pgx.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	slices.Sort(values)
	return values, nil
}

var _ Repository = (*PGRepository)(nil)
