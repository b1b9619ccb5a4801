package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/platform/httpx"
	"github.com/gapt-edu/gapt/internal/shared"
)

// Handler exposes the permission matrix over JSON.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	authorizer *Authorizer
	validate   *validator.Validate
	rbac       Middleware
}

// NewHandler builds the matrix handler.
func NewHandler(logger *slog.Logger, service *Service, authorizer *Authorizer, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		service:    service,
		authorizer: authorizer,
		validate:   validator.New(),
		rbac:       rbac,
	}
}

// MountRoutes registers matrix routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireView(access.FeatureAccessMatrix))
		r.Get("/matrix", h.getMatrix)
		r.Get("/levels/{role}", h.getLevels)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireEdit(access.FeatureAccessMatrix))
		r.Put("/matrix/{role}/{feature}", h.setLevel)
	})
	r.Get("/decision", h.decide)
}

type levelOption struct {
	Level string `json:"level"`
	Label string `json:"label"`
}

func (h *Handler) getMatrix(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.GetAll())
}

func (h *Handler) getLevels(w http.ResponseWriter, r *http.Request) {
	role, _, err := access.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	levels := access.AssignableLevels(role)
	out := make([]levelOption, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelOption{Level: l.String(), Label: l.Title()})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role.String(), "levels": out})
}

type setLevelRequest struct {
	Level string `json:"level" validate:"required"`
}

func (h *Handler) setLevel(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	role, _, err := access.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	feature, err := access.ParseFeature(chi.URLParam(r, "feature"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req setLevelRequest
	if err := httpx.DecodeJSON(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	level, err := access.ParseLevel(req.Level)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	target, admin := TargetFor(role)
	d := h.authorizer.Decide(Query{Role: actor.View, Feature: access.FeatureAccessMatrix, Target: target, AdminTarget: admin})
	if !d.CanEdit {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "cannot change grants of "+role.Label())
		return
	}

	change, err := h.service.SetLevel(r.Context(), actor, role, feature, level)
	if err != nil {
		h.logger.Warn("set matrix level", slog.String("role", role.String()), slog.String("feature", feature.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, change)
}

// decide answers "what may I do" for the caller's current view, optionally on
// a target role's records and a given day.
func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	feature, err := access.ParseFeature(q.Get("feature"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	query := Query{Feature: feature, Self: q.Get("self") == "true"}
	if raw := q.Get("target"); raw != "" {
		role, _, err := access.ParseRole(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		query.Target, query.AdminTarget = TargetFor(role)
	}
	day := h.authorizer.Today()
	if raw := q.Get("day"); raw != "" {
		if day, err = shared.ParseDay(raw); err != nil {
			httpx.RespondError(w, httpx.ErrValidation)
			return
		}
	}
	d, err := h.authorizer.DecideOn(r.Context(), id, query, day)
	if err != nil {
		h.logger.Warn("override lookup failed", slog.String("user", id.UserID), slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"view":     id.View.String(),
		"feature":  feature.String(),
		"day":      day.String(),
		"level":    d.Level.String(),
		"can_view": d.CanView,
		"can_edit": d.CanEdit,
	})
}
