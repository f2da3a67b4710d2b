// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/qaboard/internal/model"
	"github.com/hitoshi/qaboard/internal/repository"
)

// SessionStore はユーザーのセッションの参照と一括削除のインターフェース。
type SessionStore interface {
	ListTokensByUserID(ctx context.Context, userID string) ([]string, error)
	DeleteByUserID(ctx context.Context, userID string) error
}

// TokenRevoker は削除したユーザーのトークンを外部キャッシュから取り除くためのインターフェース。
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) error
}

// QuestionDeleter は質問の一括削除インターフェース。
type QuestionDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
// ユーザー参照とプロフィール取得、管理者によるユーザー削除のビジネスロジックを提供する。
type Service struct {
	userRepo        repository.UserRepository
	sessions        SessionStore
	questionDeleter QuestionDeleter
	revoker         TokenRevoker
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessions SessionStore,
	questionDeleter QuestionDeleter,
) *Service {
	return &Service{
		userRepo:        userRepo,
		sessions:        sessions,
		questionDeleter: questionDeleter,
	}
}

// SetTokenRevoker はユーザー削除時に呼び出すTokenRevokerを設定する。
func (s *Service) SetTokenRevoker(revoker TokenRevoker) {
	s.revoker = revoker
}

// FindByID は指定IDのユーザーを返す。存在しない場合はUSR-001を返す。
func (s *Service) FindByID(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// GetProfile はユーザーのプロフィールを返す。サインイン済みであれば誰でも参照できる。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	return s.FindByID(ctx, userID)
}

// DeleteUser は管理者がユーザーを削除する。
// 削除順序: sessions → questions → user
// 削除後、削除したセッションのトークンをキャッシュから取り除く。
func (s *Service) DeleteUser(ctx context.Context, principal *model.Principal, userID string) error {
	if !principal.IsAdmin() {
		return model.NewNotAdminError()
	}

	if _, err := s.FindByID(ctx, userID); err != nil {
		return err
	}

	slog.Info("ユーザー削除を開始します",
		slog.String("user_id", userID),
		slog.String("admin_id", principal.UserID),
	)

	// 1. セッションを削除
	var tokens []string
	if s.sessions != nil {
		var err error
		tokens, err = s.sessions.ListTokensByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("セッションの取得に失敗しました: %w", err)
		}
		if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 2. 質問を削除
	if s.questionDeleter != nil {
		if err := s.questionDeleter.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("質問の削除に失敗しました: %w", err)
		}
	}

	// 3. ユーザーを削除
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	// 4. キャッシュ済みトークンを無効化
	s.revokeTokens(ctx, userID, tokens)

	slog.Info("ユーザー削除が完了しました",
		slog.String("user_id", userID),
		slog.Int("revoked_tokens", len(tokens)),
	)

	return nil
}

// revokeTokens はトークンをキャッシュから取り除く。失敗はログに残して続行する。
func (s *Service) revokeTokens(ctx context.Context, userID string, tokens []string) {
	if s.revoker == nil {
		return
	}
	for _, token := range tokens {
		if err := s.revoker.Revoke(ctx, token); err != nil {
			slog.Error("キャッシュ済みトークンの無効化に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
}
