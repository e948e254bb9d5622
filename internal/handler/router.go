package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tbabson/mealmaster-server/internal/middleware"
)

// HealthChecker はDB疎通確認のためのインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	Ping() error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 監視
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ドメインサービス
	ReminderService     ReminderServiceInterface
	SubscriptionService SubscriptionServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → LoggingMiddleware → RecoveryMiddleware → SessionMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// /health と /metrics は認証・レート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())

	reminderHandler := NewReminderHandler(deps.ReminderService)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService)

	// --- 認証不要のルート ---

	// ヘルスチェック（Dockerのhealthcheckサブコマンドから叩かれる）
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.Ping(); err != nil {
				logger.Error("health check: database unreachable", slog.String("error", err.Error()))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	// Prometheusメトリクス
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// リマインダー管理
		r.Route("/api/reminders", func(r chi.Router) {
			// POST /api/reminders - リマインダー作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.ReminderCreationMiddleware()).Post("/", reminderHandler.CreateReminder)
			r.Get("/", reminderHandler.ListReminders)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", reminderHandler.GetReminder)
				r.Patch("/", reminderHandler.UpdateReminder)
				r.Delete("/", reminderHandler.DeleteReminder)
			})
		})

		// プッシュ購読管理
		r.Route("/api/subscriptions", func(r chi.Router) {
			r.Post("/", subHandler.SaveSubscription)
			r.Get("/", subHandler.ListSubscriptions)
		})
	})

	return r
}
