package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/qaboard/internal/model"
)

// PostgresQuestionRepo はPostgreSQLを使用した質問リポジトリ。
// questions.idは内部キーで、APIに公開するのはuuidのみ。
type PostgresQuestionRepo struct {
	db *sql.DB
}

// NewPostgresQuestionRepo はPostgresQuestionRepoを生成する。
func NewPostgresQuestionRepo(db *sql.DB) *PostgresQuestionRepo {
	return &PostgresQuestionRepo{db: db}
}

const selectQuestionColumns = `SELECT q.uuid, q.content, u.uuid, q.created_at, q.updated_at
	FROM questions q
	JOIN users u ON u.id = q.user_id`

// Create は質問を作成する。所有ユーザーが存在しない場合はErrNotFoundを返す。
func (r *PostgresQuestionRepo) Create(ctx context.Context, question *model.Question) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO questions (uuid, content, user_id, created_at, updated_at)
		 SELECT $1, $2, u.id, $4, $5 FROM users u WHERE u.uuid = $3`,
		question.ID, question.Content, question.UserID, question.CreatedAt, question.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert question: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("owner %s: %w", question.UserID, ErrNotFound)
	}
	return nil
}

// FindByID は指定IDの質問を取得する。見つからない場合はnilを返す。
func (r *PostgresQuestionRepo) FindByID(ctx context.Context, id string) (*model.Question, error) {
	q := &model.Question{}
	err := r.db.QueryRowContext(ctx,
		selectQuestionColumns+` WHERE q.uuid = $1`,
		id,
	).Scan(&q.ID, &q.Content, &q.UserID, &q.CreatedAt, &q.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find question: %w", err)
	}
	return q, nil
}

// ListAll は全質問を作成日時の昇順で返す。
func (r *PostgresQuestionRepo) ListAll(ctx context.Context) ([]*model.Question, error) {
	rows, err := r.db.QueryContext(ctx,
		selectQuestionColumns+` ORDER BY q.created_at ASC, q.id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	return scanQuestions(rows)
}

// ListByUserID は指定ユーザーの質問を作成日時の昇順で返す。
func (r *PostgresQuestionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Question, error) {
	rows, err := r.db.QueryContext(ctx,
		selectQuestionColumns+` WHERE u.uuid = $1 ORDER BY q.created_at ASC, q.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions by user: %w", err)
	}
	return scanQuestions(rows)
}

// UpdateContent は質問本文を更新する。
func (r *PostgresQuestionRepo) UpdateContent(ctx context.Context, id, content string, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE questions SET content = $2, updated_at = $3 WHERE uuid = $1`,
		id, content, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}
	return expectAffected(result, "question "+id)
}

// Delete は指定IDの質問を削除する。
func (r *PostgresQuestionRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM questions WHERE uuid = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete question: %w", err)
	}
	return expectAffected(result, "question "+id)
}

// DeleteByUserID は指定ユーザーの全質問を削除する。
func (r *PostgresQuestionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM questions WHERE user_id = (SELECT id FROM users WHERE uuid = $1)`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user questions: %w", err)
	}
	return nil
}

// scanQuestions は質問の結果セットを読み取りrowsを閉じる。
func scanQuestions(rows *sql.Rows) ([]*model.Question, error) {
	defer rows.Close()

	questions := []*model.Question{}
	for rows.Next() {
		q := &model.Question{}
		if err := rows.Scan(&q.ID, &q.Content, &q.UserID, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate questions: %w", err)
	}
	return questions, nil
}

// expectAffected は1行以上更新されたことを確認し、0行の場合はErrNotFoundを返す。
func expectAffected(result sql.Result, target string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", target, ErrNotFound)
	}
	return nil
}

// compile-time interface check
var _ QuestionRepository = (*PostgresQuestionRepo)(nil)
