// Package app はプロセスの起動とコンポーネントのワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/strmonitor/internal/alert"
	"github.com/hitoshi/strmonitor/internal/billing"
	"github.com/hitoshi/strmonitor/internal/change"
	"github.com/hitoshi/strmonitor/internal/config"
	"github.com/hitoshi/strmonitor/internal/database"
	"github.com/hitoshi/strmonitor/internal/email"
	"github.com/hitoshi/strmonitor/internal/handler"
	"github.com/hitoshi/strmonitor/internal/logger"
	"github.com/hitoshi/strmonitor/internal/metrics"
	"github.com/hitoshi/strmonitor/internal/middleware"
	"github.com/hitoshi/strmonitor/internal/opsnotify"
	"github.com/hitoshi/strmonitor/internal/repository"
	"github.com/hitoshi/strmonitor/internal/security"
	"github.com/hitoshi/strmonitor/internal/worker/cleanup"
)

// slackClientTimeout は運用者通知の送信タイムアウト。
const slackClientTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数を読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
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
		slog.String("admin_auth_mode", string(cfg.AdminAuthMode)),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はプール設定付きでDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// server はserveモードで組み立てたHTTPハンドラーと後始末処理。
type server struct {
	handler http.Handler
	close   func()
}

// buildServer はDB接続から全依存関係をワイヤリングし、ルーターを構築する。
// DBへの問い合わせはリクエスト処理時まで行わない。
func buildServer(cfg *config.Config, db *sql.DB, log *slog.Logger) (*server, error) {
	// 1. リポジトリの初期化
	changeRepo := repository.NewPostgresChangeRepo(db)
	sourceRepo := repository.NewPostgresSourceRepo(db)
	snapshotRepo := repository.NewPostgresSnapshotRepo(db)
	subscriberRepo := repository.NewPostgresSubscriberRepo(db)
	alertLogRepo := repository.NewPostgresAlertLogRepo(db)
	billingEventRepo := repository.NewPostgresBillingEventRepo(db)

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "strmonitor"),
	)
	collector := metrics.NewCollector(reg)

	// 3. セキュリティサービスの初期化
	sanitizer := security.NewSummarySanitizer()
	guard := security.NewOutboundGuard()

	// 4. 外部送信の初期化
	var provider email.Provider
	if cfg.UsesMockEmail() {
		log.Warn("RESEND_API_KEY is not set; alerts are logged instead of sent")
		provider = email.NewMockProvider(log)
	} else {
		provider = email.NewResendProvider(cfg.ResendAPIKey, cfg.AlertFromEmail, log)
	}

	var notifier opsnotify.Notifier = opsnotify.NoopNotifier{}
	if cfg.AdminNotifySlackWebhook != "" {
		if err := guard.ValidateWebhookURL(cfg.AdminNotifySlackWebhook); err != nil {
			return nil, fmt.Errorf("invalid ADMIN_NOTIFY_SLACK_WEBHOOK: %w", err)
		}
		notifier = opsnotify.NewSlackNotifier(cfg.AdminNotifySlackWebhook, guard.NewClient(slackClientTimeout), log)
	}

	// 5. ドメインサービスの初期化
	renderer, err := alert.NewRenderer(cfg.BaseURL, sanitizer)
	if err != nil {
		return nil, fmt.Errorf("failed to build alert renderer: %w", err)
	}
	dispatcher := alert.NewDispatcher(
		changeRepo, subscriberRepo, alertLogRepo,
		provider, renderer, notifier, collector, log,
		alert.Config{
			MaxConcurrent: cfg.AlertMaxConcurrent,
			SendTimeout:   cfg.AlertSendTimeout,
			ClaimTTL:      cfg.AlertClaimTTL,
		},
	)
	changeService := change.NewService(changeRepo, snapshotRepo, sourceRepo, log)
	billingService := billing.NewService(cfg.StripeWebhookSecret, subscriberRepo, billingEventRepo, collector, log)

	// 6. ルーターの構築
	if cfg.AdminAuthMode == config.AuthModeDisabled {
		log.Warn("admin authentication is disabled; admin endpoints are open to anyone who can reach the server")
	}
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitAdmin, cfg.RateLimitWebhook))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         log,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(reg),
		HealthChecker:  db,

		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		AdminAuthMode:     cfg.AdminAuthMode,
		AdminAPIToken:     cfg.AdminAPIToken,

		ChangeReviewer: changeService,
		ChangeReader:   changeService,
		Dispatcher:     dispatcher,
		Sanitizer:      sanitizer,
		BaseURL:        cfg.BaseURL,

		Billing: billingService,
	})

	return &server{handler: router, close: rateLimiter.Stop}, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	srv, err := buildServer(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer srv.close()

	// WriteTimeoutは配信バッチ全体が収まる長さにする
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// メンテナンスジョブを定期実行し、SIGINTまたはSIGTERMシグナルを受信すると終了する。
func runWorker(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewJob(db, slog.Default())
	job.RetentionDays = cfg.BillingEventRetentionDays
	job.ClaimTTL = cfg.AlertClaimTTL

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", job.RetentionDays),
	)

	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
