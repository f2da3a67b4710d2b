// Package question は質問管理のドメインロジックを提供する。
package question

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/qaboard/internal/model"
	"github.com/hitoshi/qaboard/internal/repository"
	"github.com/hitoshi/qaboard/internal/security"
)

// DefaultMaxContentLength は質問本文の最大文字数の既定値。
const DefaultMaxContentLength = 500

// 操作種別（メトリクスのラベル）
const (
	OpCreate     = "create"
	OpListAll    = "list_all"
	OpDelete     = "delete"
	OpEdit       = "edit"
	OpListByUser = "list_by_user"
)

// Recorder は質問操作の結果を記録するインターフェース。
type Recorder interface {
	RecordQuestionOperation(operation, result string)
}

// UserFinder はユーザーの存在確認に使うインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// ServiceConfig は質問サービスの設定。
type ServiceConfig struct {
	MaxContentLength int // 質問本文の最大文字数
}

// Service は質問管理のサービス層。
// 作成、一覧取得、削除、編集、ユーザー別一覧取得のビジネスロジックを提供する。
type Service struct {
	questionRepo repository.QuestionRepository
	users        UserFinder
	sanitizer    security.ContentSanitizerService
	recorder     Recorder
	config       ServiceConfig
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewService(
	questionRepo repository.QuestionRepository,
	users UserFinder,
	sanitizer security.ContentSanitizerService,
	recorder Recorder,
	config ServiceConfig,
) *Service {
	if config.MaxContentLength <= 0 {
		config.MaxContentLength = DefaultMaxContentLength
	}
	return &Service{
		questionRepo: questionRepo,
		users:        users,
		sanitizer:    sanitizer,
		recorder:     recorder,
		config:       config,
		now:          time.Now,
	}
}

// Create は質問を作成する。所有者はリクエスト主体となる。
func (s *Service) Create(ctx context.Context, principal *model.Principal, content string) (q *model.Question, err error) {
	defer func() { s.record(OpCreate, err) }()

	if err := s.validateContent(content); err != nil {
		return nil, err
	}

	now := s.now()
	q = &model.Question{
		ID:        uuid.New().String(),
		Content:   content,
		UserID:    principal.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.questionRepo.Create(ctx, q); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 検証後に投稿者が削除された場合
			return nil, model.NewNotSignedInError()
		}
		return nil, fmt.Errorf("質問の作成に失敗しました: %w", err)
	}

	slog.Info("question created",
		slog.String("question_id", q.ID),
		slog.String("user_id", q.UserID),
	)
	return q, nil
}

// ListAll は全ユーザーの質問を作成順に返す。質問がない場合は空スライスを返す。
func (s *Service) ListAll(ctx context.Context) (qs []*model.Question, err error) {
	defer func() { s.record(OpListAll, err) }()

	qs, err = s.questionRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("質問一覧の取得に失敗しました: %w", err)
	}
	return qs, nil
}

// Delete は質問を削除する。投稿者または管理者のみ削除できる。
// 同じ質問への同時削除は一方のみ成功し、他方はQUES-001となる。
func (s *Service) Delete(ctx context.Context, principal *model.Principal, questionID string) (err error) {
	defer func() { s.record(OpDelete, err) }()

	q, err := s.findQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if q.UserID != principal.UserID && !principal.IsAdmin() {
		return model.NewDeleteForbiddenError()
	}

	if err := s.questionRepo.Delete(ctx, questionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewQuestionNotFoundError(questionID)
		}
		return fmt.Errorf("質問の削除に失敗しました: %w", err)
	}

	slog.Info("question deleted",
		slog.String("question_id", questionID),
		slog.String("user_id", principal.UserID),
		slog.Bool("by_admin", q.UserID != principal.UserID),
	)
	return nil
}

// Edit は質問本文を更新する。投稿者のみ編集でき、IDは変わらない。
func (s *Service) Edit(ctx context.Context, principal *model.Principal, questionID, content string) (q *model.Question, err error) {
	defer func() { s.record(OpEdit, err) }()

	q, err = s.findQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.UserID != principal.UserID {
		return nil, model.NewNotQuestionOwnerError()
	}

	if err := s.validateContent(content); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.questionRepo.UpdateContent(ctx, questionID, content, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewQuestionNotFoundError(questionID)
		}
		return nil, fmt.Errorf("質問の更新に失敗しました: %w", err)
	}

	q.Content = content
	q.UpdatedAt = now

	slog.Info("question edited",
		slog.String("question_id", questionID),
		slog.String("user_id", principal.UserID),
	)
	return q, nil
}

// ListByUser は指定ユーザーの質問を作成順に返す。
// ユーザーが存在しない場合はUSR-001を返す。
func (s *Service) ListByUser(ctx context.Context, userID string) (qs []*model.Question, err error) {
	defer func() { s.record(OpListByUser, err) }()

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	qs, err = s.questionRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザー別質問一覧の取得に失敗しました: %w", err)
	}
	return qs, nil
}

// findQuestion は質問を取得し、存在しない場合はQUES-001を返す。
func (s *Service) findQuestion(ctx context.Context, questionID string) (*model.Question, error) {
	q, err := s.questionRepo.FindByID(ctx, questionID)
	if err != nil {
		return nil, fmt.Errorf("質問の取得に失敗しました: %w", err)
	}
	if q == nil {
		return nil, model.NewQuestionNotFoundError(questionID)
	}
	return q, nil
}

// validateContent は本文の空白のみ・マークアップ・長さ超過をQUES-002として検出する。
// 本文は書き換えずにそのまま保存する。
func (s *Service) validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return model.NewInvalidContentError("本文が空です")
	}
	if s.sanitizer.ContainsMarkup(content) {
		return model.NewInvalidContentError("HTMLタグや文字参照は使用できません")
	}
	if n := utf8.RuneCountInString(content); n > s.config.MaxContentLength {
		return model.NewInvalidContentError(
			fmt.Sprintf("本文は%d文字以内にしてください（%d文字）", s.config.MaxContentLength, n),
		)
	}
	return nil
}

func (s *Service) record(operation string, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordQuestionOperation(operation, ResultLabel(err))
}

// ResultLabel はエラーをメトリクスの結果ラベルに変換する。
func ResultLabel(err error) string {
	if err == nil {
		return "success"
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return "error"
	}
	switch apiErr.Code {
	case model.ErrCodeQuestionNotFound, model.ErrCodeUserNotFound:
		return "not_found"
	case model.ErrCodeForbidden:
		return "forbidden"
	case model.ErrCodeInvalidContent:
		return "invalid"
	case model.ErrCodeNotSignedIn, model.ErrCodeSignedOut:
		return "unauthorized"
	default:
		return "error"
	}
}
