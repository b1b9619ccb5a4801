package users

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/platform/httpx"
	"github.com/gapt-edu/gapt/internal/shared"
)

// Handler manages member directory endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers member routes. Visibility is decided per member.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listMembers)
	r.Get("/{id}", h.getMember)
	r.Put("/{id}/status", h.setStatus)
	r.Put("/{id}/mentor", h.assignMentor)
	r.Get("/{id}/leave-approval", h.leaveApproval)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
	}
	return id, ok
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, shared.ErrStorage) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	role := access.RoleUnknown
	if raw := r.URL.Query().Get("role"); raw != "" {
		var err error
		if role, _, err = access.ParseRole(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	members, err := h.service.List(r.Context(), id, role)
	if err != nil {
		h.fail(w, "list members", err)
		return
	}
	httpx.JSON(w, http.StatusOK, members)
}

func (h *Handler) getMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	member, err := h.service.Get(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get member", err)
		return
	}
	httpx.JSON(w, http.StatusOK, member)
}

type statusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	member, err := h.service.SetActive(r.Context(), id, chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		h.fail(w, "set member status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, member)
}

type mentorRequest struct {
	MentorID string `json:"mentor_id" validate:"required"`
}

func (h *Handler) assignMentor(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req mentorRequest
	if err := httpx.DecodeJSON(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	member, err := h.service.AssignMentor(r.Context(), id, chi.URLParam(r, "id"), req.MentorID)
	if err != nil {
		h.fail(w, "assign mentor", err)
		return
	}
	httpx.JSON(w, http.StatusOK, member)
}

func (h *Handler) leaveApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	allowed, err := h.service.CanApproveLeave(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "leave approval", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"can_approve": allowed})
}
