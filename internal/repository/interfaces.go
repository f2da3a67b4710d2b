// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/qaboard/internal/model"
)

// ErrNotFound は更新・削除対象のレコードが存在しなかったことを表す。
// 検索系メソッドは見つからない場合にnilを返し、このエラーは使用しない。
var ErrNotFound = errors.New("record not found")

// ErrDuplicate は一意制約に違反したことを表す。
var ErrDuplicate = errors.New("duplicate record")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUserName はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUserName(ctx context.Context, userName string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。ユーザー名またはメールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateRole は指定ユーザー名のロールを更新する。存在しない場合はErrNotFoundを返す。
	UpdateRole(ctx context.Context, userName string, role model.Role) error

	// DeleteByID は指定IDのユーザーを削除する。存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はアクセストークン（セッション）の永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByToken は指定トークンのセッションを取得する。
	// 期限切れやサインアウト済みでも返す。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.Session, error)

	// MarkLoggedOut はセッションのサインアウト時刻を記録する。存在しない場合はErrNotFoundを返す。
	MarkLoggedOut(ctx context.Context, token string, at time.Time) error

	// ListTokensByUserID は指定ユーザーの全セッションのトークンを返す。
	ListTokensByUserID(ctx context.Context, userID string) ([]string, error)

	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// QuestionRepository は質問データの永続化インターフェース。
type QuestionRepository interface {
	// Create は質問を作成する。
	Create(ctx context.Context, question *model.Question) error

	// FindByID は指定IDの質問を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Question, error)

	// ListAll は全質問を作成日時の昇順で返す。
	ListAll(ctx context.Context) ([]*model.Question, error)

	// ListByUserID は指定ユーザーの質問を作成日時の昇順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Question, error)

	// UpdateContent は質問本文を更新する。存在しない場合はErrNotFoundを返す。
	UpdateContent(ctx context.Context, id, content string, updatedAt time.Time) error

	// Delete は指定IDの質問を削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error

	// DeleteByUserID は指定ユーザーの全質問を削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
