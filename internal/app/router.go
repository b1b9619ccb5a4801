package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/auth"
	"github.com/gapt-edu/gapt/internal/notify"
	"github.com/gapt-edu/gapt/internal/observability"
	"github.com/gapt-edu/gapt/internal/override"
	"github.com/gapt-edu/gapt/internal/platform/httpx"
	"github.com/gapt-edu/gapt/internal/rbac"
	"github.com/gapt-edu/gapt/internal/shared"
	"github.com/gapt-edu/gapt/internal/users"
	"github.com/gapt-edu/gapt/jobs"
)

// Pinger reports whether a backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Provider       *auth.Provider
	RBAC           rbac.Middleware
	Metrics        *observability.Metrics

	AuthHandler     *auth.Handler
	AccessHandler   *rbac.Handler
	OverrideHandler *override.Handler
	NotifyHandler   *notify.Handler
	UsersHandler    *users.Handler
	JobHandler      *jobs.Handler

	// Readiness names the stores /readyz pings.
	Readiness map[string]Pinger
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(params.Readiness, params.Logger))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(params.Provider.RequireIdentity)
		if params.AccessHandler != nil {
			r.Route("/access", params.AccessHandler.MountRoutes)
		}
		if params.OverrideHandler != nil {
			r.Route("/overrides", params.OverrideHandler.MountRoutes)
		}
		if params.NotifyHandler != nil {
			r.Route("/notifications", params.NotifyHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.With(params.RBAC.RequireView(access.FeatureAccessMatrix)).Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}

func readiness(checks map[string]Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		status := http.StatusOK
		out := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out[name] = "fail"
				if logger != nil {
					logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				}
				continue
			}
			out[name] = "ok"
		}
		httpx.JSON(w, status, out)
	}
}

var _ rbac.DecisionObserver = (*observability.Metrics)(nil)
