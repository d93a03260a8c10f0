// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// 認証設定
	JWTSecret    string        // セッショントークン署名用の秘密鍵
	JWTExpiresIn time.Duration // セッショントークンの有効期間
	BcryptCost   int           // bcryptのコストファクター

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 永続化設定
	DatabasePath string // SQLiteデータベースファイルのパス
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	expiresIn, err := ParseLifetime(getEnv("JWT_EXPIRES_IN", "1d"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRES_IN: %w", err)
	}

	config := &Config{
		// 認証設定
		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTExpiresIn: expiresIn,
		BcryptCost:   getEnvAsInt("BCRYPT_COST", bcrypt.DefaultCost),

		// サーバー設定
		Port:    getEnv("PORT", "4321"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// 永続化設定
		DatabasePath: getEnv("DATABASE_PATH", "dev.db"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では署名鍵なしでも起動できるが、トークン発行時に失敗する
	// 本番環境では起動時に厳格にチェックする
	if c.GinMode == "release" {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in release mode")
		}
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required in release mode")
		}
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	return nil
}

// IsRelease は本番モードで動作しているかを返します。
// Secureクッキーの有効化などに利用します。
func (c *Config) IsRelease() bool {
	return c.GinMode == "release"
}

// ParseLifetime は有効期間文字列を time.Duration に変換します。
// Go標準の表記（"24h" など）に加えて、"1d" のような日数表記を受け付けます。
func ParseLifetime(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid day value %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("lifetime must be positive, got %q", s)
	}
	return d, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
