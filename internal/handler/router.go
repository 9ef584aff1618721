package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/strmonitor/internal/config"
	"github.com/hitoshi/strmonitor/internal/metrics"
	"github.com/hitoshi/strmonitor/internal/middleware"
	"github.com/hitoshi/strmonitor/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 基盤
	Logger         *slog.Logger
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler
	HealthChecker  HealthChecker

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	AdminAuthMode     config.AuthMode
	AdminAPIToken     string

	// 変更レビューと公開
	ChangeReviewer ChangeReviewer
	ChangeReader   ChangeReader
	Dispatcher     AlertDispatcher
	Sanitizer      security.SummarySanitizer
	BaseURL        string

	// 決済
	Billing BillingWebhookProcessor
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS
//
// 管理APIはさらに RateLimit(Admin) → AdminAuth、WebhookはRateLimit(Webhook)を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	adminHandler := NewAdminHandler(deps.ChangeReviewer, deps.Dispatcher)
	webhookHandler := NewWebhookHandler(deps.Billing)
	changesHandler := NewChangesHandler(deps.ChangeReader)
	feedHandler := NewFeedHandler(deps.ChangeReader, deps.Sanitizer, deps.BaseURL)

	// --- 運用系 ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 公開API ---
	r.Get("/api/changes", changesHandler.ListChanges)
	r.Get("/api/changes/{id}", changesHandler.GetChange)
	r.Get("/api/sources", changesHandler.ListSources)
	r.Get("/changes.atom", feedHandler.Atom)

	// --- 決済Webhook（署名で認証） ---
	r.With(deps.RateLimiter.WebhookMiddleware()).
		Post("/api/webhooks/stripe", webhookHandler.Stripe)

	// --- 管理API ---
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(deps.RateLimiter.AdminMiddleware())
		r.Use(middleware.NewAdminAuthMiddleware(deps.AdminAuthMode, deps.AdminAPIToken))

		r.Post("/approve-change", adminHandler.ApproveChange)
		r.Post("/send-alerts", adminHandler.SendAlerts)
		r.Get("/changes/pending", adminHandler.ListPending)
	})

	return r
}
