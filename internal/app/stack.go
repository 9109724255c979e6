package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/docdesk/docdesk/internal/audit"
	audithttp "github.com/docdesk/docdesk/internal/audit/http"
	"github.com/docdesk/docdesk/internal/auth"
	"github.com/docdesk/docdesk/internal/observability"
	"github.com/docdesk/docdesk/internal/platform/cache"
	"github.com/docdesk/docdesk/internal/platform/db"
	"github.com/docdesk/docdesk/internal/rbac"
	"github.com/docdesk/docdesk/internal/shared"
	"github.com/docdesk/docdesk/internal/suppliers"
	"github.com/docdesk/docdesk/jobs"
)

// Stack holds the wired services shared by the server, worker and CLI.
type Stack struct {
	Config   *Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Metrics  *observability.Metrics
	Sessions *shared.SessionManager
	CSRF     *shared.CSRFManager

	RBAC      rbac.Repository
	Cache     *rbac.Cache
	Engine    *rbac.Engine
	Admin     *rbac.Admin
	Auth      *auth.Service
	Suppliers *suppliers.Service
	Audit     *audit.Service
}

// NewStack connects storage and wires the domain services for cfg.
func NewStack(ctx context.Context, cfg *Config, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	s := &Stack{
		Config:   cfg,
		Logger:   logger,
		Redis:    redisClient,
		Metrics:  observability.NewMetrics(),
		Sessions: shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction()),
		CSRF:     shared.NewCSRFManager(cfg.CSRFSecret),
	}
	if err := s.wire(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stack) wire(ctx context.Context) error {
	var (
		authRepo     auth.Repository
		supplierRepo suppliers.Repository
		auditor      rbac.Auditor
		timeline     audit.Repository
	)
	switch s.Config.RBACBackend {
	case BackendPostgres:
		pool, err := db.New(ctx, s.Config.PGDSN, s.Config.PGMaxConns)
		if err != nil {
			return err
		}
		s.Pool = pool

		rbacRepo := rbac.NewPGRepository(pool)
		authPG := auth.NewRepository(pool)
		auditLogger := shared.NewAuditLogger(pool)
		schemas := []struct {
			name   string
			ensure func(context.Context) error
		}{
			{"rbac", rbacRepo.EnsureSchema},
			{"auth", authPG.EnsureSchema},
			{"audit", auditLogger.EnsureSchema},
			{"suppliers", func(ctx context.Context) error { return suppliers.EnsureSchema(ctx, pool) }},
		}
		for _, schema := range schemas {
			if err := schema.ensure(ctx); err != nil {
				return fmt.Errorf("app: ensure %s schema: %w", schema.name, err)
			}
		}
		s.RBAC, authRepo, auditor = rbacRepo, authPG, auditLogger
		supplierRepo = suppliers.NewRepository(pool)
		timeline = audit.NewPGRepository(pool)
	case BackendMemory:
		s.RBAC = rbac.NewMemoryRepository()
		authRepo = auth.NewMemoryRepository()
		supplierRepo = suppliers.NewMemoryRepository()
		store := audit.NewMemoryStore(shared.NewSlogAuditLogger(s.Logger))
		auditor, timeline = store, store
	default:
		return fmt.Errorf("app: unknown rbac backend %q", s.Config.RBACBackend)
	}

	var gen rbac.Generation = &rbac.LocalGeneration{}
	if s.Config.RBACCacheShared {
		gen = rbac.NewRedisGeneration(s.Redis, s.Config.RBACGenerationKey)
	}
	rbacCache, err := rbac.NewCache(s.RBAC, gen, s.Config.RBACCacheSize, s.Logger)
	if err != nil {
		return err
	}
	s.Cache = rbacCache
	s.Engine = rbac.NewEngine(rbacCache, s.Metrics)
	s.Admin = rbac.NewAdmin(s.RBAC, s.Engine, rbacCache, auditor, s.Logger)
	s.Auth = auth.NewService(authRepo)
	s.Suppliers = suppliers.NewService(supplierRepo, auditor, s.Logger)
	s.Audit = audit.NewService(timeline)
	return nil
}

// ShouldBootstrap reports whether the server seeds RBAC on start. The memory
// backend always does, or nobody could ever administer it.
func (s *Stack) ShouldBootstrap() bool {
	c := s.Config
	return c.RBACBackend == BackendMemory || len(c.RBACBootstrapAdmins) > 0 || c.RBACSeedFile != "" || c.AuthAdminEmail != ""
}

// Bootstrap applies the configured seed, creates the admin login if
// configured, and invalidates every decision cache sharing the generation.
func (s *Stack) Bootstrap(ctx context.Context) (rbac.BootstrapReport, error) {
	admins := append([]string(nil), s.Config.RBACBootstrapAdmins...)
	if s.Config.AuthAdminEmail != "" {
		user, created, err := s.Auth.EnsureUser(ctx, s.Config.AuthAdminEmail, s.Config.AuthAdminPassword)
		if err != nil {
			return rbac.BootstrapReport{}, fmt.Errorf("app: ensure admin user: %w", err)
		}
		if created {
			s.Logger.Info("created admin login", slog.String("subject", user.Subject()))
		}
		admins = append(admins, user.Subject())
	}

	seed := rbac.DefaultSeed(admins...)
	if s.Config.RBACSeedFile != "" {
		loaded, err := rbac.LoadSeed(s.Config.RBACSeedFile)
		if err != nil {
			return rbac.BootstrapReport{}, err
		}
		for _, admin := range admins {
			loaded.Assignments = append(loaded.Assignments, rbac.SeedAssignment{Subject: admin, Roles: []string{rbac.RoleAdmin}})
		}
		seed = loaded
	}

	report, err := rbac.Bootstrap(ctx, s.RBAC, seed)
	if ierr := s.Cache.Invalidate(ctx); ierr != nil {
		s.Logger.Warn("rbac cache invalidate after bootstrap", slog.Any("error", ierr))
	}
	if err != nil {
		return report, err
	}
	s.Logger.Info("rbac bootstrap",
		slog.Int("permissions_created", report.PermissionsCreated),
		slog.Int("roles_created", report.RolesCreated),
		slog.Int("roles_updated", report.RolesUpdated),
		slog.Int("assignments", report.Assignments),
		slog.Int("grants", report.Grants),
	)
	return report, nil
}

// Router builds the HTTP handler. jobHandler may be nil.
func (s *Stack) Router(jobHandler *jobs.Handler) http.Handler {
	guard := rbac.Middleware{Authorizer: s.Engine, Logger: s.Logger}
	return NewRouter(RouterParams{
		Logger:          s.Logger,
		Config:          s.Config,
		SessionManager:  s.Sessions,
		CSRFManager:     s.CSRF,
		AuthHandler:     auth.NewHandler(s.Logger, s.Auth, s.Sessions, s.CSRF),
		RBACHandler:     rbac.NewHandler(s.Logger, s.Admin),
		SupplierHandler: suppliers.NewHandler(s.Logger, s.Suppliers, guard),
		AuditHandler:    audithttp.NewHandler(s.Logger, s.Audit, guard),
		JobHandler:      jobHandler,
		RBACMiddleware:  guard,
		Metrics:         s.Metrics,
	})
}

// Close releases storage connections.
func (s *Stack) Close() {
	if s == nil {
		return
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			s.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
}
