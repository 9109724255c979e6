package suppliers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/docdesk/docdesk/internal/shared"
)

// Auditor receives one record per successful supplier mutation.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

type Service struct {
	repo     Repository
	audit    Auditor
	logger   *slog.Logger
	validate *validator.Validate
}

func NewService(repo Repository, audit Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, validate: validator.New()}
}

// List returns one page of suppliers and the pagination that describes it.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Supplier, shared.Pagination, error) {
	page := shared.NewPagination(filters.Page, filters.PerPage, 0)
	filters.Page, filters.PerPage = page.Page, page.PerPage
	filters.Search = strings.TrimSpace(filters.Search)

	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page.Page, page.PerPage, total), nil
}

func (s *Service) Get(ctx context.Context, id int64) (Supplier, error) {
	if id <= 0 {
		return Supplier{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, actor string, supplier Supplier) (Supplier, error) {
	supplier = normalize(supplier)
	if err := s.check(supplier); err != nil {
		return Supplier{}, err
	}
	created, err := s.repo.Create(ctx, supplier)
	if err != nil {
		return Supplier{}, err
	}
	s.record(ctx, actor, "supplier.create", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

func (s *Service) Update(ctx context.Context, actor string, id int64, supplier Supplier) (Supplier, error) {
	if id <= 0 {
		return Supplier{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	supplier = normalize(supplier)
	if err := s.check(supplier); err != nil {
		return Supplier{}, err
	}
	updated, err := s.repo.Update(ctx, id, supplier)
	if err != nil {
		return Supplier{}, err
	}
	s.record(ctx, actor, "supplier.update", id, map[string]any{"code": updated.Code})
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, actor string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "supplier.delete", id, nil)
	return nil
}

func (s *Service) check(sup Supplier) error {
	if err := s.validate.Struct(sup); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "supplier",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("supplier audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func normalize(sup Supplier) Supplier {
	sup.Code = strings.ToUpper(strings.TrimSpace(sup.Code))
	sup.Name = strings.TrimSpace(sup.Name)
	sup.Address = strings.TrimSpace(sup.Address)
	sup.Email = strings.TrimSpace(sup.Email)
	sup.Phone = strings.TrimSpace(sup.Phone)
	return sup
}
