package rbac

import (
	"log/slog"
	"net/http"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/platform/httpx"
	"github.com/gapt-edu/gapt/internal/shared"
)

// Middleware wires matrix checks in front of HTTP handlers. It expects the
// identity middleware to have run first.
type Middleware struct {
	Authorizer *Authorizer
	Logger     *slog.Logger
}

// RequireView lets the request through when the current view may read feature.
func (m Middleware) RequireView(feature access.Feature) func(http.Handler) http.Handler {
	return m.require(feature, func(d Decision) bool { return d.CanView })
}

// RequireEdit lets the request through when the current view may edit something in feature.
func (m Middleware) RequireEdit(feature access.Feature) func(http.Handler) http.Handler {
	return m.require(feature, func(d Decision) bool { return d.CanEdit })
}

func (m Middleware) require(feature access.Feature, allowed func(Decision) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			d := m.Authorizer.Decide(Query{Role: id.View, Feature: feature})
			if !allowed(d) {
				if m.Logger != nil {
					m.Logger.Info("access denied",
						slog.String("user", id.UserID),
						slog.String("view", id.View.String()),
						slog.String("feature", feature.String()),
						slog.String("path", r.URL.Path))
				}
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "no access to "+feature.Label())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
