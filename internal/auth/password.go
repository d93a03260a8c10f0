package auth

import "golang.org/x/crypto/bcrypt"

// PasswordHasher は平文パスワードのハッシュ化を担います。
// コストファクターは設定から注入します。
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher はハッシャーを作成します。
// cost が範囲外の場合は bcrypt.DefaultCost を使用します。
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash は平文パスワードから bcrypt ハッシュを生成します。
// ソルトは bcrypt がパスワードごとに自動生成します。
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword は平文パスワードと保存済みハッシュを照合します。
// ハッシュが不正な形式の場合もエラーにはせず、単に false を返します。
func VerifyPassword(plaintext, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plaintext)) == nil
}
