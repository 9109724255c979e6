package suppliers

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Supplier, int, error)
	Get(ctx context.Context, id int64) (Supplier, error)
	Create(ctx context.Context, supplier Supplier) (Supplier, error)
	Update(ctx context.Context, id int64, supplier Supplier) (Supplier, error)
	Delete(ctx context.Context, id int64) error
}

const schema = `
CREATE TABLE IF NOT EXISTS suppliers (
	id         BIGSERIAL PRIMARY KEY,
	code       TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	address    TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const supplierColumns = `id, code, name, address, email, phone, created_at, updated_at`

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the PostgreSQL-backed store.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// EnsureSchema creates the suppliers table when missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("suppliers: ensure schema: %w", err)
	}
	return nil
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Supplier, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where += ` AND (name ILIKE $1 OR code ILIKE $1)`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM suppliers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + supplierColumns + ` FROM suppliers` + where + ` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir)
	if filters.PerPage > 0 {
		query += ` LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
		args = append(args, filters.PerPage, max(filters.Page-1, 0)*filters.PerPage)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	suppliers, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Supplier])
	if err != nil {
		return nil, 0, err
	}
	return suppliers, total, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Supplier, error) {
	rows, err := r.db.Query(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id)
	if err != nil {
		return Supplier{}, err
	}
	s, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Supplier])
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s, err
}

func (r *repository) Create(ctx context.Context, supplier Supplier) (Supplier, error) {
	now := time.Now().UTC()
	err := r.db.QueryRow(ctx,
		`INSERT INTO suppliers (code, name, address, email, phone, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`,
		supplier.Code, supplier.Name, supplier.Address, supplier.Email, supplier.Phone, now,
	).Scan(&supplier.ID)
	if err != nil {
		return Supplier{}, translate(err, supplier.Code)
	}
	supplier.CreatedAt = now
	supplier.UpdatedAt = now
	return supplier, nil
}

func (r *repository) Update(ctx context.Context, id int64, supplier Supplier) (Supplier, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE suppliers SET code = $1, name = $2, address = $3, email = $4, phone = $5, updated_at = $6
		 WHERE id = $7 RETURNING `+supplierColumns,
		supplier.Code, supplier.Name, supplier.Address, supplier.Email, supplier.Phone, time.Now().UTC(), id)
	if err != nil {
		return Supplier{}, translate(err, supplier.Code)
	}
	updated, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[Supplier])
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return Supplier{}, translate(err, supplier.Code)
	}
	return updated, nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM suppliers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func translate(err error, code string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateCode, code)
	}
	return err
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	case "created_at":
		return "created_at " + dir + ", id " + dir
	default:
		return "name " + dir + ", id " + dir
	}
}

// MemoryRepository keeps suppliers in process; used by the memory backend and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]Supplier
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[int64]Supplier)}
}

func (m *MemoryRepository) List(_ context.Context, filters ListFilters) ([]Supplier, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(filters.Search)
	out := make([]Supplier, 0, len(m.rows))
	for _, s := range m.rows {
		if needle != "" && !strings.Contains(strings.ToLower(s.Name), needle) && !strings.Contains(strings.ToLower(s.Code), needle) {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Supplier) int {
		var c int
		switch filters.SortBy {
		case "code":
			c = strings.Compare(a.Code, b.Code)
		case "created_at":
			c = a.CreatedAt.Compare(b.CreatedAt)
		default:
			c = strings.Compare(a.Name, b.Name)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if filters.SortDir == "desc" {
			c = -c
		}
		return c
	})

	total := len(out)
	if filters.PerPage > 0 {
		start := min(max(filters.Page-1, 0)*filters.PerPage, total)
		out = out[start:min(start+filters.PerPage, total)]
	}
	return out, total, nil
}

func (m *MemoryRepository) Get(_ context.Context, id int64) (Supplier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rows[id]
	if !ok {
		return Supplier{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s, nil
}

func (m *MemoryRepository) Create(_ context.Context, supplier Supplier) (Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codeTaken(supplier.Code, 0) {
		return Supplier{}, fmt.Errorf("%w: %s", ErrDuplicateCode, supplier.Code)
	}
	m.nextID++
	now := time.Now().UTC()
	supplier.ID = m.nextID
	supplier.CreatedAt = now
	supplier.UpdatedAt = now
	m.rows[supplier.ID] = supplier
	return supplier, nil
}

func (m *MemoryRepository) Update(_ context.Context, id int64, supplier Supplier) (Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.rows[id]
	if !ok {
		return Supplier{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if m.codeTaken(supplier.Code, id) {
		return Supplier{}, fmt.Errorf("%w: %s", ErrDuplicateCode, supplier.Code)
	}
	supplier.ID = id
	supplier.CreatedAt = current.CreatedAt
	supplier.UpdatedAt = time.Now().UTC()
	m.rows[id] = supplier
	return supplier, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	delete(m.rows, id)
	return nil
}

func (m *MemoryRepository) codeTaken(code string, except int64) bool {
	for id, s := range m.rows {
		if id != except && s.Code == code {
			return true
		}
	}
	return false
}

var (
	_ Repository = (*repository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
