package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/qaboard/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// user_sessions.user_idは内部キーのため、公開ユーザーIDとはusersテーブル経由で変換する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO user_sessions (access_token, user_id, login_at, expires_at)
		 SELECT $1, u.id, $3, $4 FROM users u WHERE u.uuid = $2`,
		session.Token, session.UserID, session.LoginAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("failed to create session for user %s: %w", session.UserID, ErrNotFound)
	}
	return nil
}

// FindByToken は指定トークンのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	session := &model.Session{}
	var logoutAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT s.access_token, u.uuid, s.login_at, s.expires_at, s.logout_at
		 FROM user_sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.access_token = $1`,
		token,
	).Scan(&session.Token, &session.UserID, &session.LoginAt, &session.ExpiresAt, &logoutAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if logoutAt.Valid {
		t := logoutAt.Time
		session.LogoutAt = &t
	}

	return session, nil
}

// MarkLoggedOut はセッションのサインアウト時刻を記録する。
func (r *PostgresSessionRepo) MarkLoggedOut(ctx context.Context, token string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_sessions SET logout_at = $2 WHERE access_token = $1`,
		token, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark session logged out: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session: %w", ErrNotFound)
	}
	return nil
}

// ListTokensByUserID は指定ユーザーの全セッションのトークンを返す。
func (r *PostgresSessionRepo) ListTokensByUserID(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.access_token
		 FROM user_sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE u.uuid = $1
		 ORDER BY s.access_token`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list session tokens: %w", err)
	}
	defer rows.Close()

	tokens := []string{}
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("failed to scan session token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session tokens: %w", err)
	}
	return tokens, nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE user_id = (SELECT id FROM users WHERE uuid = $1)`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteInactiveBefore はcutoffより前に期限切れまたはサインアウトしたセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE expires_at < $1 OR logout_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete inactive sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
