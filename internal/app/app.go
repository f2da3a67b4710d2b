// Package app はコマンドライン引数の解析と依存関係のワイヤリングを行い、各起動モードを実行する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/qaboard/internal/auth"
	"github.com/hitoshi/qaboard/internal/cache"
	"github.com/hitoshi/qaboard/internal/config"
	"github.com/hitoshi/qaboard/internal/database"
	"github.com/hitoshi/qaboard/internal/handler"
	"github.com/hitoshi/qaboard/internal/logger"
	"github.com/hitoshi/qaboard/internal/metrics"
	"github.com/hitoshi/qaboard/internal/middleware"
	"github.com/hitoshi/qaboard/internal/question"
	"github.com/hitoshi/qaboard/internal/security"
	"github.com/hitoshi/qaboard/internal/user"
	"github.com/hitoshi/qaboard/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("invalid LOG_LEVEL, keeping info", slog.String("error", err.Error()))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// SIGINTまたはSIGTERMを受信するとキャンセルされるコンテキストでRunContextを呼び出す。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, w, args)
}

// RunContext はコマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// serveとworkerはctxがキャンセルされるまでブロックする。
func RunContext(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("storage_driver", cfg.StorageDriver),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandGrantAdmin:
		return runGrantAdmin(ctx, cfg, args[1:])
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// ストレージを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. ストレージ
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// 2. メトリクス
	reg := metrics.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 3. ドメインサービスの初期化
	authService := newAuthService(cfg, st)
	questionService := question.NewService(
		st.questions, st.users, security.NewContentSanitizer(), collector,
		question.ServiceConfig{MaxContentLength: cfg.QuestionMaxLength},
	)
	userService := user.NewService(st.users, st.sessions, st.questions)

	// 4. トークン検証（REDIS_URLが設定されている場合はキャッシュを挟む）
	var validator middleware.TokenValidator = authService
	tokenCache, closeCache, err := openTokenCache(ctx, cfg, authService)
	if err != nil {
		return err
	}
	defer closeCache()
	if tokenCache != nil {
		authService.SetTokenRevoker(tokenCache)
		userService.SetTokenRevoker(tokenCache)
		validator = tokenCache
	}

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitQuestionCreate),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		TokenValidator:    validator,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		HTTPMetrics:       collector,
		HealthChecker:     st.pinger,
		MetricsHandler:    metrics.Handler(reg),
		AuthService:       authService,
		SigninRecorder:    collector,
		QuestionService:   questionService,
		UserService:       userService,
	})

	// インメモリストレージはworkerプロセスと共有できないため、サーバー内でクリーンアップする
	if cfg.UseMemoryStorage() {
		job := newCleanupJob(cfg, st.sessions, collector)
		go job.Start(ctx, cleanup.DefaultInterval)
	}

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、セッションクリーンアップジョブを日次で実行する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.UseMemoryStorage() {
		return errors.New("worker requires STORAGE_DRIVER=postgres; in-memory sessions are cleaned by the server")
	}

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	job := newCleanupJob(cfg, st.sessions, nil)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanup.DefaultInterval),
		slog.Int("session_retention_days", cfg.SessionRetentionDays),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cleanup.DefaultInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.UseMemoryStorage() {
		return errors.New("migrate requires STORAGE_DRIVER=postgres")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runGrantAdmin は指定ユーザーを管理者に昇格する。
// サインアップでは常に一般ユーザーが作成されるため、管理者はこのコマンドで作成する。
func runGrantAdmin(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return errors.New("usage: grant-admin <user_name>")
	}

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	authService := newAuthService(cfg, st)

	// 昇格前のロールでキャッシュされたトークンを無効化するため、serveと同じキャッシュに接続する
	tokenCache, closeCache, err := openTokenCache(ctx, cfg, authService)
	if err != nil {
		return err
	}
	defer closeCache()
	if tokenCache != nil {
		authService.SetTokenRevoker(tokenCache)
	}

	return grantAdmin(ctx, authService, args[0])
}

// adminGranter はrunGrantAdminが必要とするインターフェース。
type adminGranter interface {
	GrantAdmin(ctx context.Context, userName string) error
}

func grantAdmin(ctx context.Context, granter adminGranter, userName string) error {
	if err := granter.GrantAdmin(ctx, userName); err != nil {
		return fmt.Errorf("failed to grant admin to %s: %w", userName, err)
	}
	slog.Info("admin role granted", slog.String("user_name", userName))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

func newAuthService(cfg *config.Config, st *storage) *auth.Service {
	return auth.NewService(
		st.users, st.sessions, auth.NewBcryptHasher(cfg.BcryptCost),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
}

// openTokenCache はREDIS_URLが設定されている場合にトークンキャッシュを生成する。
// 未設定の場合はnilを返す。返却したclose関数は常に呼び出せる。
func openTokenCache(ctx context.Context, cfg *config.Config, next cache.TokenValidator) (*cache.TokenCache, func(), error) {
	if !cfg.TokenCacheEnabled() {
		return nil, func() {}, nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("token cache enabled", slog.Duration("ttl", cfg.TokenCacheTTL))
	return cache.NewTokenCache(client, next, cfg.TokenCacheTTL), func() { client.Close() }, nil
}

func newCleanupJob(cfg *config.Config, sessions cleanup.SessionPurger, recorder cleanup.Recorder) *cleanup.CleanupJob {
	job := cleanup.NewCleanupJob(sessions, slog.Default(), recorder)
	job.RetentionDays = cfg.SessionRetentionDays
	return job
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
