package auth

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/RNatsuki/store-system/internal/config"
)

const (
	// CSRFCookieName はCSRFトークンを保持するクッキー名です。
	CSRFCookieName = "csrfToken"
	// CSRFHeaderName はクライアントがトークンを送り返すヘッダー名です。
	CSRFHeaderName = "x-csrf-token"

	csrfBodyField     = "_csrf"
	csrfTokenBytes    = 24
	csrfCookieMaxAge  = 3600 // 1 hour
	maxCSRFBodyInline = 1 << 20
)

const contextKeyCSRF = "auth.csrfToken"

// generateCSRFToken は暗号学的に安全な48文字の16進トークンを生成します。
func generateCSRFToken() (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// CSRFToken は現在のリクエストに紐づくCSRFトークンを返します。
// EnsureCSRF ミドルウェアの後でのみ有効です。
func CSRFToken(c *gin.Context) string {
	token, _ := c.Get(contextKeyCSRF)
	s, _ := token.(string)
	return s
}

// isMutating は状態を変更しうるHTTPメソッドかどうかを判定します。
func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}

func setCSRFCookie(c *gin.Context, cfg *config.Config, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CSRFCookieName, token, csrfCookieMaxAge, "/", "", cfg.IsRelease(), true)
}

// EnsureCSRF はCSRFトークンの発行・取得ミドルウェアを返します。
// クッキーにトークンがなければ新規発行し、すべてのリクエストで
// トークンをコンテキストに載せます。
func EnsureCSRF(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, err := c.Cookie(CSRFCookieName); err == nil && token != "" {
			c.Set(contextKeyCSRF, token)
			c.Next()
			return
		}

		token, err := generateCSRFToken()
		if err != nil {
			abortWithCSRFError(c, http.StatusInternalServerError, "Failed to generate CSRF token")
			return
		}
		setCSRFCookie(c, cfg, token)
		c.Set(contextKeyCSRF, token)
		c.Next()
	}
}

// VerifyCSRF はダブルサブミット方式のCSRF検証ミドルウェアを返します。
// 状態変更メソッド（POST/PUT/DELETE/PATCH）のみ検証し、
// クッキー値とボディの _csrf またはヘッダー x-csrf-token を比較します。
func VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isMutating(c.Request.Method) {
			c.Next()
			return
		}

		expected := CSRFToken(c)
		supplied := csrfFromRequest(c)

		// タイミング攻撃を避けるため定数時間比較を使う
		if expected == "" || supplied == "" ||
			subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) != 1 {
			abortWithCSRFError(c, http.StatusForbidden, "Invalid or missing CSRF token")
			return
		}

		c.Next()
	}
}

// RotateCSRF は新しいCSRFトークンを発行してクッキーを上書きします。
// ログインなどの機微な状態変更後に呼び出し、トークンの再利用を防ぎます。
// 状態変更メソッド以外では現在のトークンをそのまま返します。
func RotateCSRF(c *gin.Context, cfg *config.Config) (string, error) {
	if !isMutating(c.Request.Method) {
		return CSRFToken(c), nil
	}

	token, err := generateCSRFToken()
	if err != nil {
		return "", err
	}
	setCSRFCookie(c, cfg, token)
	c.Set(contextKeyCSRF, token)
	return token, nil
}

// csrfFromRequest はクライアントが送ってきたトークンを取り出します。
// ボディの _csrf フィールドを優先し、なければヘッダーを参照します。
func csrfFromRequest(c *gin.Context) string {
	if token := csrfFromBody(c); token != "" {
		return token
	}
	return c.GetHeader(CSRFHeaderName)
}

// csrfFromBody はJSONボディから _csrf フィールドを読み取ります。
// 後続のハンドラーがボディをバインドできるよう、読み取った内容は復元します。
func csrfFromBody(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	contentType := c.ContentType()
	if !strings.Contains(contentType, "application/json") {
		return ""
	}
	// 大きすぎるボディは復元時に切り捨てが起きるため読まない
	if c.Request.ContentLength > maxCSRFBodyInline {
		return ""
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCSRFBodyInline))
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	token, _ := body[csrfBodyField].(string)
	return token
}
