package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/RNatsuki/store-system/internal/config"
	"github.com/RNatsuki/store-system/internal/store"
)

type stubUserStore struct {
	user *store.User
	err  error
}

func (s *stubUserStore) FindByEmail(ctx context.Context, email string) (*store.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.user != nil && s.user.Email == email {
		return s.user, nil
	}
	return nil, store.ErrNotFound
}

func seededAdmin(t *testing.T) *store.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("sofievO"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash seed password: %v", err)
	}
	return &store.User{
		ID:           "admin-1",
		Email:        "mail@sofi.dev",
		PasswordHash: string(hashed),
		Role:         store.RoleAdmin,
		IsVerified:   true,
	}
}

// newAuthRouter は本番の配線と同じ順序でミドルウェアを組んだルーターを返します。
func newAuthRouter(cfg *config.Config, users UserStore) *gin.Engine {
	gin.SetMode(gin.TestMode)

	issuer := NewTokenIssuer(cfg)
	manager := NewManager(cfg, users, issuer)

	router := gin.New()
	router.Use(EnsureCSRF(cfg))
	authRoutes := router.Group("/api/auth")
	{
		authRoutes.GET("/csrf-token", manager.GetCSRFToken)
		authRoutes.POST("/login", VerifyCSRF(), manager.Login)
		authRoutes.POST("/logout", RequireAuth(issuer), VerifyCSRF(), manager.Logout)
		authRoutes.GET("/me", RequireAuth(issuer), manager.Me)
	}
	return router
}

func bootstrapCSRF(t *testing.T, router *gin.Engine) string {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/csrf-token", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf bootstrap status = %d, want 200", rec.Code)
	}
	token := csrfCookieValue(t, rec)
	if token == "" {
		t.Fatal("csrf bootstrap did not set a cookie")
	}
	return token
}

func postLogin(router *gin.Engine, csrfToken, email, password string) *httptest.ResponseRecorder {
	payload := map[string]string{"email": email, "password": password}
	if csrfToken != "" {
		payload["_csrf"] = csrfToken
	}
	raw, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if csrfToken != "" {
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: csrfToken})
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func sessionCookieValue(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookieName {
			return cookie.Value
		}
	}
	return ""
}

func decodeErrors(t *testing.T, rec *httptest.ResponseRecorder) []apiError {
	t.Helper()
	var body struct {
		Errors []apiError `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v (%s)", err, rec.Body.String())
	}
	if len(body.Errors) == 0 {
		t.Fatalf("expected at least one error, body: %s", rec.Body.String())
	}
	return body.Errors
}

func TestCSRFTokenEndpointIsIdempotent(t *testing.T) {
	router := newAuthRouter(testConfig(), &stubUserStore{})

	token := bootstrapCSRF(t, router)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: token})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var body struct {
		CsrfToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.CsrfToken != token {
		t.Fatalf("csrfToken = %q, want the cookie value %q", body.CsrfToken, token)
	}
}

func TestLoginWithoutCSRF(t *testing.T) {
	router := newAuthRouter(testConfig(), &stubUserStore{user: seededAdmin(t)})

	rec := postLogin(router, "", "mail@sofi.dev", "sofievO")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	errs := decodeErrors(t, rec)
	if errs[0].CsrfToken == "" {
		t.Fatal("error body must carry a CSRF token for retry")
	}
}

func TestLoginSuccess(t *testing.T) {
	router := newAuthRouter(testConfig(), &stubUserStore{user: seededAdmin(t)})

	csrfToken := bootstrapCSRF(t, router)
	rec := postLogin(router, csrfToken, "mail@sofi.dev", "sofievO")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	if sessionCookieValue(t, rec) == "" {
		t.Fatal("session cookie was not set")
	}

	var body struct {
		Message   string         `json:"message"`
		User      store.SafeUser `json:"user"`
		CsrfToken string         `json:"csrfToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.User.Role != store.RoleAdmin {
		t.Fatalf("role = %q, want ADMIN", body.User.Role)
	}
	if body.User.Email != "mail@sofi.dev" || body.User.ID != "admin-1" {
		t.Fatalf("unexpected user projection: %#v", body.User)
	}
	if body.CsrfToken == "" || body.CsrfToken == csrfToken {
		t.Fatalf("csrf token was not rotated: %q", body.CsrfToken)
	}
	if newCookie := csrfCookieValue(t, rec); newCookie != body.CsrfToken {
		t.Fatalf("rotated cookie %q does not match body token %q", newCookie, body.CsrfToken)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	router := newAuthRouter(testConfig(), &stubUserStore{user: seededAdmin(t)})

	csrfToken := bootstrapCSRF(t, router)
	rec := postLogin(router, csrfToken, "mail@sofi.dev", "wrong-password")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if sessionCookieValue(t, rec) != "" {
		t.Fatal("session cookie must not be set on failed login")
	}
	errs := decodeErrors(t, rec)
	if errs[0].CsrfToken == "" {
		t.Fatal("error body must carry a CSRF token for retry")
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	router := newAuthRouter(testConfig(), &stubUserStore{user: seededAdmin(t)})

	csrfToken := bootstrapCSRF(t, router)
	rec := postLogin(router, csrfToken, "nobody@example.com", "whatever")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestLoginUnverifiedUser(t *testing.T) {
	user := seededAdmin(t)
	user.IsVerified = false
	router := newAuthRouter(testConfig(), &stubUserStore{user: user})

	csrfToken := bootstrapCSRF(t, router)
	rec := postLogin(router, csrfToken, "mail@sofi.dev", "sofievO")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if sessionCookieValue(t, rec) != "" {
		t.Fatal("session cookie must not be set for an unverified user")
	}
}

func TestLoginValidation(t *testing.T) {
	router := newAuthRouter(testConfig(), &stubUserStore{user: seededAdmin(t)})
	csrfToken := bootstrapCSRF(t, router)

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"invalid email", "not-an-email", "sofievO"},
		{"empty email", "", "sofievO"},
		{"empty password", "mail@sofi.dev", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postLogin(router, csrfToken, tc.email, tc.password)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body: %s", rec.Code, rec.Body.String())
			}
			errs := decodeErrors(t, rec)
			if errs[0].CsrfToken == "" {
				t.Fatal("validation errors must carry a CSRF token")
			}
		})
	}
}

func TestLoginLockout(t *testing.T) {
	router := newAuthRouter(testConfig(), &stubUserStore{user: seededAdmin(t)})
	csrfToken := bootstrapCSRF(t, router)

	for i := 0; i < maxLoginAttempts; i++ {
		rec := postLogin(router, csrfToken, "mail@sofi.dev", "wrong-password")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, rec.Code)
		}
	}

	rec := postLogin(router, csrfToken, "mail@sofi.dev", "sofievO")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after lockout", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("lockout response must set Retry-After")
	}
}

func TestProtectedRouteWithoutToken(t *testing.T) {
	router := newAuthRouter(testConfig(), &stubUserStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestProtectedRouteWithExpiredToken(t *testing.T) {
	cfg := testConfig()
	router := newAuthRouter(cfg, &stubUserStore{})

	expiredCfg := testConfig()
	expiredCfg.JWTExpiresIn = -time.Minute
	token, err := NewTokenIssuer(expiredCfg).Issue("admin-1", "ADMIN", "mail@sofi.dev")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for expired token", rec.Code)
	}
}

func TestProtectedRouteWithValidToken(t *testing.T) {
	cfg := testConfig()
	router := newAuthRouter(cfg, &stubUserStore{})

	token, err := NewTokenIssuer(cfg).Issue("admin-1", "ADMIN", "mail@sofi.dev")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		User Identity `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.User.ID != "admin-1" || body.User.Role != "ADMIN" || body.User.Email != "mail@sofi.dev" {
		t.Fatalf("unexpected identity: %#v", body.User)
	}
}

func TestLogout(t *testing.T) {
	cfg := testConfig()
	router := newAuthRouter(cfg, &stubUserStore{})

	token, err := NewTokenIssuer(cfg).Issue("admin-1", "ADMIN", "mail@sofi.dev")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	csrfToken := bootstrapCSRF(t, router)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: csrfToken})
	req.Header.Set(CSRFHeaderName, csrfToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	// セッションクッキーが失効されていることを確認する
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookieName && cookie.MaxAge >= 0 {
			t.Fatalf("session cookie was not expired: %#v", cookie)
		}
	}
}
