package override

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/platform/httpx"
	"github.com/gapt-edu/gapt/internal/rbac"
	"github.com/gapt-edu/gapt/internal/shared"
)

// Handler exposes the override workflow over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds the override handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbac}
}

// MountRoutes registers override routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireEdit(access.FeatureAttendanceTracking)).Post("/", h.petition)
	r.Get("/pending", h.listPending)
	r.Get("/{requester}/{day}", h.getRequest)
	r.Post("/{requester}/{day}/approve", h.approve)
}

type petitionRequest struct {
	Day   string `json:"day" validate:"required,datetime=2006-01-02"`
	Route string `json:"route,omitempty" validate:"omitempty,oneof=ADMIN DEAN HOD"`
}

type requestView struct {
	Request
	State   State    `json:"state"`
	Missing []string `json:"missing"`
}

func viewOf(req Request, state State) requestView {
	missing := make([]string, 0, 3)
	for _, role := range req.Missing() {
		missing = append(missing, role.String())
	}
	return requestView{Request: req, State: state, Missing: missing}
}

func (h *Handler) petition(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var body petitionRequest
	if err := httpx.DecodeJSON(r, h.validate, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	day, err := shared.ParseDay(body.Day)
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	route := access.RoleUnknown
	if body.Route != "" {
		if route, _, err = access.ParseRole(body.Route); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	req, err := h.service.Petition(r.Context(), id, day, route)
	if err != nil {
		h.respondError(w, err)
		return
	}
	state := StateHistoricalLocked
	if req.FullyGranted() {
		state = StateHistoricalUnlocked
	}
	httpx.JSON(w, http.StatusAccepted, viewOf(req, state))
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	pending, err := h.service.ListPending(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]requestView, 0, len(pending))
	for _, req := range pending {
		out = append(out, viewOf(req, StateHistoricalLocked))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	requesterID := chi.URLParam(r, "requester")
	if requesterID != id.UserID && !IsApprover(id.View) {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}
	day, err := shared.ParseDay(chi.URLParam(r, "day"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	req, err := h.service.GetRequest(r.Context(), requesterID, day)
	if err != nil {
		h.respondError(w, err)
		return
	}
	state, err := h.service.State(r.Context(), requesterID, day)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(req, state))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	day, err := shared.ParseDay(chi.URLParam(r, "day"))
	if err != nil {
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	req, err := h.service.ApproveAs(r.Context(), id, chi.URLParam(r, "requester"), day)
	if err != nil {
		h.respondError(w, err)
		return
	}
	state := StateHistoricalLocked
	if req.FullyGranted() {
		state = StateHistoricalUnlocked
	}
	httpx.JSON(w, http.StatusOK, viewOf(req, state))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidApprover):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrNotHistorical):
		httpx.Problem(w, http.StatusConflict, "Not Historical", err.Error())
	case errors.Is(err, ErrRequestNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		if errors.Is(err, shared.ErrStorage) {
			h.logger.Error("override storage", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
