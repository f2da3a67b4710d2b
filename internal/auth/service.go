// Package auth はサインアップ、サインイン、アクセストークンの検証を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/qaboard/internal/model"
	"github.com/hitoshi/qaboard/internal/repository"
)

// TokenRevoker はサインアウトやロール変更で無効になったトークンを外部キャッシュから取り除くためのインターフェース。
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// SignupInput はユーザー登録の入力値を表す。
type SignupInput struct {
	UserName  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	AboutMe   string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	revoker     TokenRevoker
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		config:      config,
		now:         time.Now,
	}
}

// SetTokenRevoker はサインアウト時とロール変更時に呼び出すTokenRevokerを設定する。
func (s *Service) SetTokenRevoker(revoker TokenRevoker) {
	s.revoker = revoker
}

// Signup はユーザーを登録する。ロールは常にnonadminとなる。
// ユーザー名が使用済みの場合はSGR-001、メールアドレスが登録済みの場合はSGR-002を返す。
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	existing, err := s.userRepo.FindByUserName(ctx, in.UserName)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by user name: %w", err)
	}
	if existing != nil {
		return nil, model.NewUserNameTakenError(in.UserName)
	}

	existing, err = s.userRepo.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		UserName:     in.UserName,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		AboutMe:      in.AboutMe,
		Role:         model.RoleNonAdmin,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// 事前チェック後に同時登録された場合
			if taken, _ := s.userRepo.FindByUserName(ctx, in.UserName); taken != nil {
				return nil, model.NewUserNameTakenError(in.UserName)
			}
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.String("user_name", user.UserName),
	)
	return user, nil
}

// Signin はユーザー名とパスワードを照合し、新しいセッションを発行する。
// ユーザー名が存在しない場合はATH-001、パスワードが一致しない場合はATH-002を返す。
func (s *Service) Signin(ctx context.Context, userName, password string) (*model.Session, error) {
	user, err := s.userRepo.FindByUserName(ctx, userName)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by user name: %w", err)
	}
	if user == nil {
		return nil, model.NewUnknownUserNameError()
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		slog.Warn("password mismatch", slog.String("user_id", user.ID))
		return nil, model.NewPasswordMismatchError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user signed in", slog.String("user_id", user.ID))
	return session, nil
}

// Signout はトークンのセッションをサインアウト済みにする。
// 有効なトークンでない場合はValidateTokenと同じエラーを返す。
func (s *Service) Signout(ctx context.Context, token string) (*model.Principal, error) {
	principal, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := s.sessionRepo.MarkLoggedOut(ctx, token, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewNotSignedInError()
		}
		return nil, fmt.Errorf("failed to mark session logged out: %w", err)
	}

	if s.revoker != nil {
		if err := s.revoker.Revoke(ctx, token); err != nil {
			slog.Warn("failed to revoke cached token",
				slog.String("user_id", principal.UserID),
				slog.String("error", err.Error()),
			)
		}
	}

	slog.Info("user signed out", slog.String("user_id", principal.UserID))
	return principal, nil
}

// ValidateToken はアクセストークンを検証し、リクエスト主体を返す。
// 未知のトークンはATHR-001、サインアウト済みまたは期限切れのトークンはATHR-002となる。
func (s *Service) ValidateToken(ctx context.Context, token string) (*model.Principal, error) {
	if token == "" {
		return nil, model.NewNotSignedInError()
	}

	session, err := s.sessionRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewNotSignedInError()
	}
	if !session.IsActive(s.now()) {
		return nil, model.NewSignedOutError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewNotSignedInError()
	}

	return &model.Principal{
		Token:     token,
		UserID:    user.ID,
		Role:      user.Role,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// GrantAdmin は指定ユーザー名のユーザーを管理者に昇格する。
// キャッシュ済みの検証結果は旧ロールを保持しているため、ユーザーの全トークンを無効化する。
func (s *Service) GrantAdmin(ctx context.Context, userName string) error {
	user, err := s.userRepo.FindByUserName(ctx, userName)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.userRepo.UpdateRole(ctx, userName, model.RoleAdmin); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("failed to grant admin: %w", err)
	}

	if s.revoker != nil {
		tokens, err := s.sessionRepo.ListTokensByUserID(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to list session tokens: %w", err)
		}
		for _, token := range tokens {
			if err := s.revoker.Revoke(ctx, token); err != nil {
				return fmt.Errorf("failed to revoke cached token: %w", err)
			}
		}
	}

	slog.Info("admin role granted", slog.String("user_name", userName), slog.String("user_id", user.ID))
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	now := s.now()
	session := &model.Session{
		Token:     token,
		UserID:    userID,
		LoginAt:   now,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateToken は暗号的に安全なアクセストークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
