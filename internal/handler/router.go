package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/qaboard/internal/database"
	"github.com/hitoshi/qaboard/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenValidator    middleware.TokenValidator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	HTTPMetrics       middleware.HTTPMetricsRecorder // nilの場合はHTTPメトリクスを記録しない

	// 運用エンドポイント
	HealthChecker  database.Pinger // nilの場合はDB確認を行わない
	MetricsHandler http.Handler    // nilの場合は/metricsを公開しない

	// 認証
	AuthService    AuthServiceInterface
	SigninRecorder SigninRecorder

	// 質問
	QuestionService QuestionServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → Metrics → Token → RateLimit(General)
//
// サインアップとサインインはTokenミドルウェアの外に配置し、クライアントIP単位でレート制限する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.SigninRecorder)
	questionHandler := NewQuestionHandler(deps.QuestionService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/user/signup", authHandler.Signup)
		r.Post("/user/signin", authHandler.Signin)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Token → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewTokenMiddleware(deps.TokenValidator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/user/signout", authHandler.Signout)

		// 質問管理
		r.Route("/question", func(r chi.Router) {
			// POST /question/create - 質問作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.QuestionCreateMiddleware()).Post("/create", questionHandler.Create)

			r.Get("/all", questionHandler.ListAll)
			r.Get("/all/{userId}", questionHandler.ListByUser)
			r.Delete("/delete/{questionId}", questionHandler.Delete)
			r.Put("/edit/{questionId}", questionHandler.Edit)
		})

		// ユーザー管理
		r.Get("/userprofile/{userId}", userHandler.GetProfile)
		r.Delete("/admin/user/{userId}", userHandler.DeleteUser)
	})

	return r
}
