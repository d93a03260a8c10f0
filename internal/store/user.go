package store

import (
	"errors"
	"time"
)

// Role はユーザーの役割を表します。
type Role string

const (
	RoleUser      Role = "USER"
	RoleAdmin     Role = "ADMIN"
	RoleWarehouse Role = "WAREHOUSE"
)

// ErrNotFound は指定されたユーザーが存在しない場合に返されます。
var ErrNotFound = errors.New("user not found")

// ErrEmailTaken は既に登録済みのメールアドレスで作成しようとした場合に返されます。
var ErrEmailTaken = errors.New("email already registered")

// User は永続化されるユーザーレコードです。
// PasswordHash には平文ではなく bcrypt ハッシュのみを保持します。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	IsVerified   bool
	CreatedAt    time.Time
}

// SafeUser はレスポンスに載せてよいユーザー情報の射影です。
// パスワードハッシュは含みません。
type SafeUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Safe はレスポンス用の安全な射影を返します。
func (u *User) Safe() SafeUser {
	return SafeUser{
		ID:    u.ID,
		Email: u.Email,
		Role:  u.Role,
	}
}
