package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/tbabson/mealmaster-server/internal/auth"
	"github.com/tbabson/mealmaster-server/internal/config"
	"github.com/tbabson/mealmaster-server/internal/database"
	"github.com/tbabson/mealmaster-server/internal/handler"
	"github.com/tbabson/mealmaster-server/internal/logger"
	"github.com/tbabson/mealmaster-server/internal/metrics"
	"github.com/tbabson/mealmaster-server/internal/middleware"
	"github.com/tbabson/mealmaster-server/internal/reminder"
	"github.com/tbabson/mealmaster-server/internal/repository"
	"github.com/tbabson/mealmaster-server/internal/scheduler"
	"github.com/tbabson/mealmaster-server/internal/security"
	"github.com/tbabson/mealmaster-server/internal/subscription"
	"github.com/tbabson/mealmaster-server/internal/transport"
	"github.com/tbabson/mealmaster-server/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、未通知リマインダーのタイマーを
// 復元してからHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	mealRepo := repository.NewPostgresMealRepo(db)
	subRepo := repository.NewPostgresPushSubscriptionRepo(db)
	reminderRepo := repository.NewPostgresReminderRepo(db)

	// 3. セキュリティサービスの初期化
	endpointGuard := security.NewEndpointGuard()
	noteSanitizer := security.NewNoteSanitizer()

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. 通知トランスポートの初期化
	mailSender, err := transport.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	if err != nil {
		return fmt.Errorf("failed to create SMTP sender: %w", err)
	}
	emailTransport := transport.NewEmailTransport(mailSender, cfg.EmailFrom, slog.Default())

	pushTransport := transport.NewPushTransport(
		transport.NewWebPushSender(),
		transport.PushConfig{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.VAPIDSubscriber,
			TTL:             cfg.PushTTL,
		},
		endpointGuard.NewSafeClient(cfg.SendTimeout),
		slog.Default(),
	)

	tokenProvider := auth.NewGoogleTokenProvider(cfg.GoogleClientID, cfg.GoogleClientSecret)
	calendarTransport := transport.NewCalendarTransport(
		transport.NewGoogleEventInserter(), tokenProvider, reminderRepo, slog.Default(),
	)

	dispatcher := transport.NewDispatcher(
		emailTransport, pushTransport, calendarTransport, collector, slog.Default(),
	)

	// 6. スケジューラの初期化とタイマー復元
	sched := scheduler.New(reminderRepo, dispatcher, collector, slog.Default())
	defer sched.Stop()

	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sched.RecoverAll(recoverCtx); err != nil {
		recoverCancel()
		return fmt.Errorf("failed to recover reminder timers: %w", err)
	}
	recoverCancel()

	// 7. ドメインサービスの初期化
	reminderService := reminder.NewService(
		reminderRepo, subRepo, mealRepo, userRepo,
		sched, endpointGuard, noteSanitizer, slog.Default(),
	)
	subService := subscription.NewService(subRepo, endpointGuard, slog.Default())

	// 8. クリーンアップジョブのスケジュール登録
	cleanupJob := cleanup.NewCleanupJob(reminderRepo, sessionRepo, collector, slog.Default())
	cleanupJob.Retention = cfg.ReminderRetention

	cronRunner := cron.New()
	if _, err := cronRunner.AddFunc(cfg.CleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule cleanup job: %w", err)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	// 9. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = perMinute(cfg.RateLimitGeneral)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.ReminderCreationRate = perMinute(cfg.RateLimitReminder)
	rateLimiterCfg.ReminderCreationBurst = cfg.RateLimitReminder

	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		ReminderService:     reminderService,
		SubscriptionService: subService,
	}

	router := handler.NewRouter(deps)

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// perMinute はreq/min単位の設定値をrate.Limit（req/sec）に変換する。
func perMinute(requests int) rate.Limit {
	return rate.Limit(float64(requests) / 60.0)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
