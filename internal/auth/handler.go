package auth

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RNatsuki/store-system/internal/config"
	"github.com/RNatsuki/store-system/internal/store"
)

var (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

// UserStore は認証に必要なユーザー参照の抽象です。
// 実体は store.Store ですが、テストではスタブを注入できます。
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*store.User, error)
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager は認証ハンドラーと状態をまとめた構造体です。
// ログイン試行の記録以外にリクエストをまたぐ状態は持ちません。
type Manager struct {
	cfg    *config.Config
	users  UserStore
	issuer *TokenIssuer

	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, users UserStore, issuer *TokenIssuer) *Manager {
	return &Manager{
		cfg:      cfg,
		users:    users,
		issuer:   issuer,
		attempts: make(map[string]*attemptState),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login は POST /api/auth/login のハンドラーです。
// CSRF検証済みのリクエストに対して、入力検証 → ユーザー検索 →
// 有効化チェック → パスワード照合 → トークン発行の順に処理します。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCSRFError(c, http.StatusBadRequest, "Request body must be JSON with email and password")
		return
	}

	if errs := validateLogin(&req); len(errs) > 0 {
		csrfToken := CSRFToken(c)
		for i := range errs {
			errs[i].CsrfToken = csrfToken
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(errs...))
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		abortWithCSRFError(c, http.StatusTooManyRequests, "Too many login attempts, try again later")
		return
	}

	user, err := m.users.FindByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			abortWithCSRFError(c, http.StatusNotFound, "User not found")
			return
		}
		abortWithCSRFError(c, http.StatusInternalServerError, "Failed to look up user")
		return
	}

	if !user.IsVerified {
		abortWithCSRFError(c, http.StatusUnauthorized, "User not verified")
		return
	}

	if !VerifyPassword(req.Password, user.PasswordHash) {
		m.recordFailure(ip)
		abortWithCSRFError(c, http.StatusUnauthorized, "Invalid password")
		return
	}

	m.resetAttempts(ip)

	token, err := m.issuer.Issue(user.ID, string(user.Role), user.Email)
	if err != nil {
		abortWithCSRFError(c, http.StatusInternalServerError, "Failed to issue session token")
		return
	}
	m.issuer.SetCookie(c, token)

	// ログイン成功後はCSRFトークンを使い回さない
	newCSRF, err := RotateCSRF(c, m.cfg)
	if err != nil {
		abortWithCSRFError(c, http.StatusInternalServerError, "Failed to rotate CSRF token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "User logged in successfully",
		"user":      user.Safe(),
		"csrfToken": newCSRF,
	})
}

// GetCSRFToken は GET /api/auth/csrf-token のハンドラーです。
// クライアントが最初の状態変更リクエストを組み立てるために使います。
func (m *Manager) GetCSRFToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"csrfToken": CSRFToken(c)})
}

// Logout は POST /api/auth/logout のハンドラーです。
// セッションクッキーを失効させ、CSRFトークンを再発行します。
func (m *Manager) Logout(c *gin.Context) {
	m.issuer.ClearCookie(c)

	newCSRF, err := RotateCSRF(c, m.cfg)
	if err != nil {
		abortWithCSRFError(c, http.StatusInternalServerError, "Failed to rotate CSRF token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "User logged out successfully",
		"csrfToken": newCSRF,
	})
}

// Me は GET /api/auth/me のハンドラーです。
// RequireAuth が載せた認証済みユーザーをそのまま返します。
func (m *Manager) Me(c *gin.Context) {
	identity, ok := IdentityFrom(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, "No token, authorization denied")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": identity})
}

// validateLogin はログイン入力の形式を検証します。
func validateLogin(req *loginRequest) []apiError {
	var errs []apiError
	if req.Email == "" {
		errs = append(errs, apiError{Msg: "Email is required"})
	} else if _, err := mail.ParseAddress(req.Email); err != nil {
		errs = append(errs, apiError{Msg: "Provide a valid email address"})
	}
	if req.Password == "" {
		errs = append(errs, apiError{Msg: "Password is required"})
	}
	return errs
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := time.Now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return time.Until(state.lockedUntil)
}

func (m *Manager) recordFailure(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := time.Now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}
