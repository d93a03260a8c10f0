package auth

import "github.com/gin-gonic/gin"

// apiError はエラーレスポンスの1要素です。
// 状態変更系のエラーでは再試行できるよう現在のCSRFトークンを含めます。
type apiError struct {
	Msg       string `json:"msg"`
	CsrfToken string `json:"csrfToken,omitempty"`
}

// errorBody は {"errors":[{...}]} 形式のレスポンスを組み立てます。
func errorBody(errs ...apiError) gin.H {
	return gin.H{"errors": errs}
}

// abortWithError はCSRFトークンなしのエラーレスポンスで処理を打ち切ります。
// 保護ルートの401などに使用します。
func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorBody(apiError{Msg: msg}))
}

// abortWithCSRFError は現在のCSRFトークンを含むエラーレスポンスで処理を打ち切ります。
func abortWithCSRFError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorBody(apiError{
		Msg:       msg,
		CsrfToken: CSRFToken(c),
	}))
}
