package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/platform/httpx"
	"github.com/gapt-edu/gapt/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	provider       *Provider
	tokens         *TokenIssuer
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, provider *Provider, tokens *TokenIssuer, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		provider:       provider,
		tokens:         tokens,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(h.provider.RequireIdentity)
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
		r.Post("/view", h.handleSetView)
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type identityView struct {
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
	Role       string `json:"role"`
	Grade      string `json:"grade,omitempty"`
	View       string `json:"view"`
	Projected  bool   `json:"projected"`
}

func viewOf(id shared.Identity) identityView {
	return identityView{
		UserID:     id.UserID,
		Name:       id.Name,
		Department: id.Department,
		Role:       id.Intrinsic.String(),
		Grade:      string(id.Grade),
		View:       id.View.String(),
		Projected:  id.Projected(),
	}
}

type loginResponse struct {
	Identity  identityView `json:"identity"`
	Token     string       `json:"token,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	CSRFToken string       `json:"csrf_token,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			h.logger.Info("login rejected", slog.String("email", req.Email))
		}
		httpx.RespondError(w, err)
		return
	}

	id := user.Identity()
	resp := loginResponse{Identity: viewOf(id)}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Renew(sess)
		sess.SetUser(user.ID, time.Now())
		token, err := h.csrfManager.EnsureToken(sess)
		if err != nil {
			h.logger.Warn("issue csrf token", slog.Any("error", err))
		}
		resp.CSRFToken = token
	}
	if h.tokens != nil {
		token, expires, err := h.tokens.Issue(user.ID, id.View)
		if err != nil {
			h.logger.Error("issue bearer token", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		resp.Token = token
		resp.ExpiresAt = &expires
	}
	h.logger.Info("login", slog.String("user", user.ID), slog.String("role", user.Role.String()))
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(id))
}

type setViewRequest struct {
	Role string `json:"role" validate:"required"`
}

// handleSetView projects the caller onto a junior role. Cookie sessions keep
// the view server-side; bearer clients receive a token carrying it.
func (h *Handler) handleSetView(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req setViewRequest
	if err := httpx.DecodeJSON(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, _, err := access.ParseRole(req.Role)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := id.SetView(role); err != nil {
		h.logger.Warn("view escalation refused",
			slog.String("user", id.UserID),
			slog.String("role", id.Intrinsic.String()),
			slog.String("requested", role.String()))
		httpx.RespondError(w, err)
		return
	}

	resp := loginResponse{Identity: viewOf(id)}
	if _, bearer := BearerToken(r); bearer {
		if h.tokens == nil {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		token, expires, err := h.tokens.Issue(id.UserID, id.View)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		resp.Token = token
		resp.ExpiresAt = &expires
	} else {
		id.PersistView(shared.SessionFromContext(r.Context()))
	}
	httpx.JSON(w, http.StatusOK, resp)
}
