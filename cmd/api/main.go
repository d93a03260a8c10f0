// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/RNatsuki/store-system/internal/auth"
	"github.com/RNatsuki/store-system/internal/config"
	"github.com/RNatsuki/store-system/internal/store"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// ユーザーストアの初期化（グローバルではなく明示的に生成して注入する）
	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	users, err := store.Open(cfg.DatabasePath, hasher.Hash)
	if err != nil {
		log.Fatalf("Failed to open user store: %v", err)
	}
	defer func() {
		if err := users.Close(); err != nil {
			log.Printf("Failed to close user store: %v", err)
		}
	}()

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"x-csrf-token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスからCSRFトークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"x-csrf-token"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, users)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "store-system-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
// ミドルウェアの順序: CSRF発行（常時） → CSRF検証（状態変更時のみ） →
// セッション検証（保護ルートのみ） → ハンドラー。
func setupRoutes(router *gin.Engine, cfg *config.Config, users auth.UserStore) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	issuer := auth.NewTokenIssuer(cfg)
	manager := auth.NewManager(cfg, users, issuer)

	// CSRFトークンの発行・取得はすべてのリクエストに適用する
	router.Use(auth.EnsureCSRF(cfg))

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// 最初の状態変更リクエストに備えたトークン取得用
			authRoutes.GET("/csrf-token", manager.GetCSRFToken)
			authRoutes.POST("/login", auth.VerifyCSRF(), manager.Login)
			authRoutes.POST("/logout",
				auth.RequireAuth(issuer),
				auth.VerifyCSRF(),
				manager.Logout,
			)
			authRoutes.GET("/me", auth.RequireAuth(issuer), manager.Me)
		}

		// 今後追加する API はここにぶら下げる
		protected := api.Group("")
		protected.Use(auth.RequireAuth(issuer), auth.VerifyCSRF())
		{
			// TODO: /api/products, /api/employees 系のCRUDを追加する
		}
	}
}
