package notify

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gapt-edu/gapt/internal/platform/httpx"
	"github.com/gapt-edu/gapt/internal/shared"
)

// Handler exposes the caller's inbox.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inbox routes. The router must resolve an identity first.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/clear", h.clear)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	items, err := h.service.ListFor(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("list notifications", slog.String("user", id.UserID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []Notification{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	removed, err := h.service.ClearFor(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("clear notifications", slog.String("user", id.UserID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "cleared", "removed": removed})
}
