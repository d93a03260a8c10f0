// Package main は開発用の初期データ投入コマンドです。
// 検証済みの管理者ユーザーを1件登録します。
package main

import (
	"context"
	"errors"
	"log"

	"github.com/RNatsuki/store-system/internal/auth"
	"github.com/RNatsuki/store-system/internal/config"
	"github.com/RNatsuki/store-system/internal/store"
)

const (
	adminEmail    = "mail@sofi.dev"
	adminPassword = "sofievO"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 本番環境への誤投入を防ぐ
	if cfg.IsRelease() {
		log.Fatal("Seed command is blocked in release mode")
	}

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

	ctx := context.Background()

	if existing, err := users.FindByEmail(ctx, adminEmail); err == nil {
		log.Printf("Admin user already exists (id: %s), nothing to do", existing.ID)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Fatalf("Failed to check admin user: %v", err)
	}

	admin, err := users.Create(ctx, adminEmail, adminPassword, store.RoleAdmin, true)
	if err != nil {
		log.Fatalf("Failed to create admin user: %v", err)
	}

	log.Printf("Seed ready: admin user created (id: %s, email: %s)", admin.ID, admin.Email)
}
