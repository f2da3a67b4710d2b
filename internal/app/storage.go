package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/qaboard/internal/config"
	"github.com/hitoshi/qaboard/internal/database"
	"github.com/hitoshi/qaboard/internal/repository"
	"github.com/hitoshi/qaboard/internal/repository/memory"
	"github.com/hitoshi/qaboard/internal/worker/cleanup"
)

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// sessionStore はセッションの永続化とクリーンアップの両方を提供するリポジトリ。
type sessionStore interface {
	repository.SessionRepository
	cleanup.SessionPurger
}

// storage はSTORAGE_DRIVERに応じて構築したリポジトリ群を保持する。
type storage struct {
	users     repository.UserRepository
	sessions  sessionStore
	questions repository.QuestionRepository
	pinger    database.Pinger // インメモリの場合はnil
	close     func() error
}

// openStorage は設定に従いPostgreSQLまたはインメモリのリポジトリを構築する。
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.UseMemoryStorage() {
		slog.Warn("using in-memory storage; data will be lost on restart")
		users := memory.NewUserRepo()
		return &storage{
			users:     users,
			sessions:  memory.NewSessionRepo(users),
			questions: memory.NewQuestionRepo(users),
			close:     func() error { return nil },
		}, nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &storage{
		users:     repository.NewPostgresUserRepo(db),
		sessions:  repository.NewPostgresSessionRepo(db),
		questions: repository.NewPostgresQuestionRepo(db),
		pinger:    db,
		close:     db.Close,
	}, nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("database connection established")
	return db, nil
}
