package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/RNatsuki/store-system/internal/config"
)

// SessionCookieName はセッショントークンを保持するクッキー名です。
const SessionCookieName = "token"

// ErrInvalidToken は署名不一致や構造不正など、検証に失敗したトークンを表します。
var ErrInvalidToken = errors.New("invalid session token")

// Identity は検証済みセッショントークンから復元される認証済みユーザーです。
// リクエストのライフサイクルを超えて保持してはいけません。
type Identity struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Email string `json:"email"`
}

// Claims はセッショントークンに埋め込むクレームです。
// 署名されるだけで暗号化はされないため、秘密情報を含めてはいけません。
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email"`
}

// TokenIssuer はセッショントークンの発行と検証を担います。
type TokenIssuer struct {
	cfg *config.Config
}

// NewTokenIssuer はトークン発行器を作成します。
func NewTokenIssuer(cfg *config.Config) *TokenIssuer {
	return &TokenIssuer{cfg: cfg}
}

// Issue はユーザー情報から署名付きセッショントークンを生成します。
// 署名鍵が未設定の場合はエラーを返します。
func (ti *TokenIssuer) Issue(id, role, email string) (string, error) {
	if ti.cfg.JWTSecret == "" {
		return "", fmt.Errorf("JWT_SECRET is not configured")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.cfg.JWTExpiresIn)),
		},
		Role:  role,
		Email: email,
	})

	signed, err := token.SignedString([]byte(ti.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、認証済みユーザーを返します。
// 署名が正しくても期限切れなら失敗として扱います。
func (ti *TokenIssuer) Verify(tokenString string) (*Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(ti.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return &Identity{
		ID:    claims.Subject,
		Role:  claims.Role,
		Email: claims.Email,
	}, nil
}

// SetCookie はセッショントークンをHTTP-onlyクッキーとして設定します。
// 本番モードでは Secure フラグを付与します。
func (ti *TokenIssuer) SetCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, token, int(ti.cfg.JWTExpiresIn.Seconds()), "/", "", ti.cfg.IsRelease(), true)
}

// ClearCookie はセッションクッキーを失効させます。
func (ti *TokenIssuer) ClearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", ti.cfg.IsRelease(), true)
}
