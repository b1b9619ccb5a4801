package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/platform/httpx"
	"github.com/gapt-edu/gapt/internal/shared"
)

// ErrUnauthenticated is returned when a request carries no valid identity.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Provider resolves the identity of a request from a bearer token or the
// cookie session.
type Provider struct {
	service *Service
	tokens  *TokenIssuer
	logger  *slog.Logger
}

// NewProvider constructs a Provider. tokens may be nil to accept sessions only.
func NewProvider(service *Service, tokens *TokenIssuer, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{service: service, tokens: tokens, logger: logger}
}

// BearerToken extracts the token of an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// CurrentIdentity returns the identity behind r. The user record is reloaded on
// every call so deactivation and role changes apply immediately.
func (p *Provider) CurrentIdentity(ctx context.Context, r *http.Request) (shared.Identity, error) {
	if raw, ok := BearerToken(r); ok {
		return p.fromToken(ctx, raw)
	}
	sess := shared.SessionFromContext(ctx)
	if sess == nil || sess.User() == "" {
		return shared.Identity{}, ErrUnauthenticated
	}
	user, err := p.service.Lookup(ctx, sess.User())
	if err != nil {
		return shared.Identity{}, err
	}
	id := user.Identity()
	id.RestoreView(sess)
	return id, nil
}

func (p *Provider) fromToken(ctx context.Context, raw string) (shared.Identity, error) {
	if p.tokens == nil {
		return shared.Identity{}, ErrUnauthenticated
	}
	claims, err := p.tokens.Verify(raw)
	if err != nil {
		return shared.Identity{}, err
	}
	user, err := p.service.Lookup(ctx, claims.Subject)
	if err != nil {
		return shared.Identity{}, err
	}
	id := user.Identity()
	if claims.View != "" {
		view, _, err := access.ParseRole(claims.View)
		if err != nil {
			return shared.Identity{}, ErrUnauthenticated
		}
		if err := id.SetView(view); err != nil {
			p.logger.Warn("token view exceeds user role", slog.String("user", id.UserID), slog.String("view", claims.View))
			return shared.Identity{}, ErrUnauthenticated
		}
	}
	return id, nil
}

// RequireIdentity attaches the request identity to the context and answers 401
// when there is none.
func (p *Provider) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := p.CurrentIdentity(r.Context(), r)
		if err != nil {
			if errors.Is(err, shared.ErrStorage) {
				p.logger.Error("resolve identity", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
	})
}
