// Package store はユーザーの永続化レイヤーを提供します。
// SQLite をバックエンドとし、メールアドレスによる検索と
// パスワードの透過的なハッシュ化を担います。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'USER',
	is_verified   INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL
);
`

// HashFunc は平文パスワードをハッシュ化する関数です。
// auth パッケージの PasswordHasher を注入します。
type HashFunc func(plaintext string) (string, error)

// Store はSQLiteバックエンドのユーザーストアです。
type Store struct {
	db   *sql.DB
	hash HashFunc
}

// Open はSQLiteデータベースを開き、スキーマを初期化します。
func Open(path string, hash HashFunc) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if hash == nil {
		return nil, fmt.Errorf("hash function is required")
	}

	dsn := path + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, hash: hash}, nil
}

// Close はデータベース接続を閉じます。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FindByEmail はメールアドレスでユーザーを検索します。
// 存在しない場合は ErrNotFound を返します。
func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, is_verified, created_at
		 FROM users WHERE email = ?`, email)

	var (
		u        User
		verified int64
		created  int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &verified, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}

	u.IsVerified = verified != 0
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// Create は新しいユーザーを登録します。
// パスワードは保存前に必ずハッシュ化されます。
func (s *Store) Create(ctx context.Context, email, password string, role Role, isVerified bool) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	hashed, err := s.hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hashed,
		Role:         role,
		IsVerified:   isVerified,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, role, is_verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, string(u.Role), boolToInt(u.IsVerified), u.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return u, nil
}

// UpdatePassword はユーザーのパスワードを更新します。
// 新しいパスワードも保存前にハッシュ化されます。
func (s *Store) UpdatePassword(ctx context.Context, id, password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}

	hashed, err := s.hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, hashed, id)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
