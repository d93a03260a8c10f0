// Package auth は認証・認可機能を提供します。
// CSRFトークンの発行・検証、パスワードの照合、
// セッショントークンの発行・検証とミドルウェアチェーンを含みます。
package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const contextKeyIdentity = "auth.identity"

// IdentityFrom はリクエストコンテキストから認証済みユーザーを取り出します。
// RequireAuth ミドルウェアの後でのみ有効です。
func IdentityFrom(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(contextKeyIdentity)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*Identity)
	return identity, ok
}

// RequireAuth はセッショントークンを検証するミドルウェアを返します。
// 検証に成功すると認証済みユーザーをコンテキストに載せ、
// 失敗した場合は401で処理を打ち切ります。
func RequireAuth(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookieName)
		if err != nil || token == "" {
			abortWithError(c, http.StatusUnauthorized, "No token, authorization denied")
			return
		}

		identity, err := issuer.Verify(token)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "Token is not valid")
			return
		}

		c.Set(contextKeyIdentity, identity)
		c.Next()
	}
}
