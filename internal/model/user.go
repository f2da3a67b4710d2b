// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限種別を表す。
type Role string

const (
	// RoleNonAdmin は一般ユーザー。
	RoleNonAdmin Role = "nonadmin"
	// RoleAdmin は管理者。他ユーザーの質問削除やユーザー削除が可能。
	RoleAdmin Role = "admin"
)

// User はサービス利用ユーザーを表す。
type User struct {
	ID           string
	UserName     string
	Email        string
	FirstName    string
	LastName     string
	AboutMe      string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin は管理者ユーザーかどうかを返す。
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Session はサインインによって発行されたアクセストークンを表す。
// LogoutAtがnilの間はサインイン中として扱う。
type Session struct {
	Token     string
	UserID    string
	LoginAt   time.Time
	ExpiresAt time.Time
	LogoutAt  *time.Time
}

// IsActive は指定時刻においてセッションが有効かどうかを返す。
func (s *Session) IsActive(now time.Time) bool {
	return s.LogoutAt == nil && now.Before(s.ExpiresAt)
}

// Principal はトークン検証済みのリクエスト主体を表す。
// ExpiresAtはトークンキャッシュの有効期限の上限に使う。
type Principal struct {
	Token     string
	UserID    string
	Role      Role
	ExpiresAt time.Time
}

// IsAdmin は管理者権限を持つかどうかを返す。
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
