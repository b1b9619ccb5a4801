package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/gapt-edu/gapt/internal/auth"
	"github.com/gapt-edu/gapt/internal/notify"
	"github.com/gapt-edu/gapt/internal/observability"
	"github.com/gapt-edu/gapt/internal/override"
	"github.com/gapt-edu/gapt/internal/rbac"
	"github.com/gapt-edu/gapt/internal/shared"
	"github.com/gapt-edu/gapt/internal/users"
	"github.com/gapt-edu/gapt/jobs"
)

// Stores groups the persistence ports the portal runs on.
type Stores struct {
	Matrix        rbac.Repository
	Overrides     override.Repository
	Notifications notify.Repository
	Accounts      auth.Repository
	Members       users.RepositoryPort
	Audit         shared.AuditRecorder
}

// PostgresStores builds every store on one pool.
func PostgresStores(pool *pgxpool.Pool, logger *slog.Logger) Stores {
	return Stores{
		Matrix:        rbac.NewRepository(pool, logger),
		Overrides:     override.NewRepository(pool),
		Notifications: notify.NewRepository(pool),
		Accounts:      auth.NewRepository(pool),
		Members:       users.NewRepository(pool),
		Audit:         shared.NewAuditLogger(pool),
	}
}

// Deps are the collaborators Build wires together.
type Deps struct {
	Config    *Config
	Logger    *slog.Logger
	Stores    Stores
	Redis     *redis.Client
	Enqueuer  notify.Enqueuer
	Inspector *asynq.Inspector
	Metrics   *observability.Metrics
	Clock     *shared.Clock
	Readiness map[string]Pinger
}

// Portal is the assembled application.
type Portal struct {
	Handler     http.Handler
	Matrix      *rbac.Service
	Overrides   *override.Service
	Authorizer  *rbac.Authorizer
	Invalidator *rbac.RedisInvalidator
	logger      *slog.Logger
}

// Build wires services and handlers and loads the permission matrix. A matrix
// that cannot be loaded aborts startup; nothing is authorized without it.
func Build(ctx context.Context, deps Deps) (*Portal, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		loc, err := cfg.Location()
		if err != nil {
			return nil, err
		}
		clock = shared.NewClock(loc)
	}

	notifications := notify.NewService(deps.Stores.Notifications, deps.Enqueuer, logger)

	invalidator := rbac.NewRedisInvalidator(deps.Redis, logger)
	matrix := rbac.NewService(deps.Stores.Matrix, rbac.ServiceConfig{
		Logger:    logger,
		Audit:     deps.Stores.Audit,
		Notifier:  notifications,
		Publisher: invalidator,
	})
	if err := matrix.Load(ctx); err != nil {
		return nil, fmt.Errorf("load access matrix: %w", err)
	}
	if matrix.GetAll().Len() == 0 {
		logger.Warn("access matrix is empty; run the seed command")
	}

	overrides := override.NewService(deps.Stores.Overrides, override.ServiceConfig{
		Logger:    logger,
		Notifier:  notifications,
		Audit:     deps.Stores.Audit,
		Clock:     clock,
		CacheSize: cfg.OverrideCacheSize,
	})

	authorizer := rbac.NewAuthorizer(matrix, overrides, clock)
	if deps.Metrics != nil {
		authorizer.WithObserver(deps.Metrics)
	}
	guard := rbac.Middleware{Authorizer: authorizer, Logger: logger}

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return nil, err
	}
	accounts := auth.NewService(deps.Stores.Accounts)
	provider := auth.NewProvider(accounts, tokens, logger)
	sessions := shared.NewSessionManager(deps.Redis, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	csrf := shared.NewCSRFManager(cfg.CSRFSecret)

	members := users.NewService(deps.Stores.Members, authorizer, deps.Stores.Audit, logger)

	handler := NewRouter(RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessions,
		CSRFManager:     csrf,
		Provider:        provider,
		RBAC:            guard,
		Metrics:         deps.Metrics,
		AuthHandler:     auth.NewHandler(logger, accounts, provider, tokens, sessions, csrf),
		AccessHandler:   rbac.NewHandler(logger, matrix, authorizer, guard),
		OverrideHandler: override.NewHandler(logger, overrides, guard),
		NotifyHandler:   notify.NewHandler(logger, notifications),
		UsersHandler:    users.NewHandler(logger, members),
		JobHandler:      jobs.NewHandler(deps.Inspector, logger),
		Readiness:       deps.Readiness,
	})

	return &Portal{
		Handler:     handler,
		Matrix:      matrix,
		Overrides:   overrides,
		Authorizer:  authorizer,
		Invalidator: invalidator,
		logger:      logger,
	}, nil
}

// WatchMatrix keeps this instance's matrix in step with writes made elsewhere
// until ctx ends.
func (p *Portal) WatchMatrix(ctx context.Context) error {
	stop, err := p.Invalidator.Start(ctx, p.Matrix)
	if err != nil {
		return err
	}
	<-ctx.Done()
	stop()
	return nil
}
