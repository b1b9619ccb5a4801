package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/gapt-edu/gapt/internal/access"
	"github.com/gapt-edu/gapt/internal/auth"
	"github.com/gapt-edu/gapt/internal/shared"
	_ "github.com/gapt-edu/gapt/testing"
)

type stubRepo struct {
	users map[string]*auth.User
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) FindByID(ctx context.Context, id string) (*auth.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}

type authFixture struct {
	router   http.Handler
	repo     *stubRepo
	tokens   *auth.TokenIssuer
	sessions *shared.SessionManager
	redis    *miniredis.Miniredis
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	repo := &stubRepo{users: map[string]*auth.User{
		"hod-1": {
			ID: "hod-1", Email: "hod@gapt.test", Name: "Dr. Rao", PasswordHash: string(hashed),
			Role: access.RoleHOD, Department: "Computer Science (CSE)", IsActive: true,
		},
		"staff-1": {
			ID: "staff-1", Email: "staff@gapt.test", Name: "Lecturer", PasswordHash: string(hashed),
			Role: access.RoleStaff, Grade: access.GradeAssocProfII, IsActive: true,
		},
	}}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)
	tokens, err := auth.NewTokenIssuer("test-signing-key", time.Hour)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	service := auth.NewService(repo)
	provider := auth.NewProvider(service, tokens, nil)
	handler := auth.NewHandler(nil, service, provider, tokens, sessions, shared.NewCSRFManager("csrfsecret"))

	r := chi.NewRouter()
	r.Use(sessions.Middleware(nil))
	r.Route("/auth", handler.MountRoutes)
	return authFixture{router: r, repo: repo, tokens: tokens, sessions: sessions, redis: mr}
}

func (f authFixture) do(t *testing.T, method, path, body string, prepare func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if prepare != nil {
		prepare(req)
	}
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

type loginBody struct {
	Identity struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
		Grade  string `json:"grade"`
		View   string `json:"view"`
	} `json:"identity"`
	Token     string `json:"token"`
	CSRFToken string `json:"csrf_token"`
}

func login(t *testing.T, f authFixture, email string) (loginBody, *http.Cookie) {
	t.Helper()
	res := f.do(t, http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"correctpass"}`, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body loginBody
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var cookie *http.Cookie
	for _, c := range res.Result().Cookies() {
		if c.Name == f.sessions.CookieName() {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("session cookie not set")
	}
	return body, cookie
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newAuthFixture(t)
	res := f.do(t, http.MethodPost, "/auth/login", `{"email":"hod@gapt.test","password":"wrongpass"}`, nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	res = f.do(t, http.MethodPost, "/auth/login", `{"email":"nobody@gapt.test","password":"correctpass"}`, nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", res.Code)
	}
}

func TestLoginValidatesBody(t *testing.T) {
	f := newAuthFixture(t)
	res := f.do(t, http.MethodPost, "/auth/login", `{"email":"not-an-email","password":"correctpass"}`, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	f := newAuthFixture(t)
	f.repo.users["staff-1"].IsActive = false
	res := f.do(t, http.MethodPost, "/auth/login", `{"email":"staff@gapt.test","password":"correctpass"}`, nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestLoginBindsSessionAndIssuesToken(t *testing.T) {
	f := newAuthFixture(t)
	body, cookie := login(t, f, "staff@gapt.test")

	if body.Identity.Role != "STAFF" || body.Identity.Grade != "ASSOC_PROF_II" || body.Identity.View != "STAFF" {
		t.Fatalf("unexpected identity %+v", body.Identity)
	}
	if body.Token == "" || body.CSRFToken == "" {
		t.Fatalf("expected token and csrf token, got %+v", body)
	}
	if !f.redis.Exists("gapt:session:" + cookie.Value) {
		t.Fatalf("session not stored")
	}

	res := f.do(t, http.MethodGet, "/auth/me", "", func(r *http.Request) { r.AddCookie(cookie) })
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"user_id":"staff-1"`) {
		t.Fatalf("session /me: %d %s", res.Code, res.Body.String())
	}

	res = f.do(t, http.MethodGet, "/auth/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+body.Token)
	})
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"user_id":"staff-1"`) {
		t.Fatalf("bearer /me: %d %s", res.Code, res.Body.String())
	}
}

func TestMeRequiresIdentity(t *testing.T) {
	f := newAuthFixture(t)
	res := f.do(t, http.MethodGet, "/auth/me", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	res = f.do(t, http.MethodGet, "/auth/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer not.a.token")
	})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.Code)
	}
}

func TestSessionViewProjection(t *testing.T) {
	f := newAuthFixture(t)
	_, cookie := login(t, f, "hod@gapt.test")
	withCookie := func(r *http.Request) { r.AddCookie(cookie) }

	res := f.do(t, http.MethodPost, "/auth/view", `{"role":"DEAN"}`, withCookie)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on escalation, got %d", res.Code)
	}

	res = f.do(t, http.MethodPost, "/auth/view", `{"role":"STUDENT"}`, withCookie)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	res = f.do(t, http.MethodGet, "/auth/me", "", withCookie)
	if !strings.Contains(res.Body.String(), `"view":"STUDENT"`) || !strings.Contains(res.Body.String(), `"projected":true`) {
		t.Fatalf("view not restored: %s", res.Body.String())
	}

	res = f.do(t, http.MethodPost, "/auth/view", `{"role":"HOD"}`, withCookie)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 returning to own role, got %d", res.Code)
	}
	res = f.do(t, http.MethodGet, "/auth/me", "", withCookie)
	if !strings.Contains(res.Body.String(), `"view":"HOD"`) {
		t.Fatalf("view not reset: %s", res.Body.String())
	}
}

func TestBearerViewProjection(t *testing.T) {
	f := newAuthFixture(t)
	body, _ := login(t, f, "hod@gapt.test")

	res := f.do(t, http.MethodPost, "/auth/view", `{"role":"STAFF"}`, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+body.Token)
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var projected loginBody
	if err := json.Unmarshal(res.Body.Bytes(), &projected); err != nil {
		t.Fatalf("decode: %v", err)
	}
	res = f.do(t, http.MethodGet, "/auth/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+projected.Token)
	})
	if !strings.Contains(res.Body.String(), `"view":"STAFF"`) {
		t.Fatalf("token view not applied: %s", res.Body.String())
	}
}

func TestTokenForSeniorViewRejected(t *testing.T) {
	f := newAuthFixture(t)
	token, _, err := f.tokens.Issue("staff-1", access.RoleDean)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res := f.do(t, http.MethodGet, "/auth/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	f := newAuthFixture(t)
	_, cookie := login(t, f, "hod@gapt.test")

	res := f.do(t, http.MethodPost, "/auth/logout", "", func(r *http.Request) { r.AddCookie(cookie) })
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if f.redis.Exists("gapt:session:" + cookie.Value) {
		t.Fatalf("session still stored after logout")
	}
	res = f.do(t, http.MethodGet, "/auth/me", "", func(r *http.Request) { r.AddCookie(cookie) })
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", res.Code)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	issuer, err := auth.NewTokenIssuer("test-signing-key", time.Minute)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	issuer.WithNow(func() time.Time { return past })
	token, _, err := issuer.Issue("hod-1", access.RoleHOD)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	verifier, _ := auth.NewTokenIssuer("test-signing-key", time.Minute)
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	other, _ := auth.NewTokenIssuer("another-key", time.Minute)
	fresh, _, _ := verifier.Issue("hod-1", access.RoleHOD)
	if _, err := other.Verify(fresh); err == nil {
		t.Fatalf("expected foreign signature to fail")
	}
}
